// Package server exposes the operator HTTP API and the websocket status push.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/batterymanager/batterymanager/config"
	"github.com/batterymanager/batterymanager/consumption"
	"github.com/batterymanager/batterymanager/controller"
)

// maxUploadBytes bounds CSV and history uploads.
const maxUploadBytes = 4 << 20

// Server serves the JSON API the web frontend talks to. All state lives in
// the controller and the consumption store; the server only translates.
type Server struct {
	controller *controller.Controller
	store      *consumption.Store
	configPath string
	httpServer *http.Server
	logger     *slog.Logger

	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	done      chan struct{}
	startTime time.Time
}

func New(ctrl *controller.Controller, store *consumption.Store, configPath string, port int) *Server {
	mux := http.NewServeMux()

	s := &Server{
		controller: ctrl,
		store:      store,
		configPath: configPath,
		logger:     slog.Default().With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API is only reachable on the home network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		startTime: time.Now(),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/control", s.handleControl)
	mux.HandleFunc("/api/adjust_power", s.handleAdjustPower)
	mux.HandleFunc("/api/recalculate_plan", s.handleRecalculatePlan)
	mux.HandleFunc("/api/charging_plan", s.handleChargingPlan)
	mux.HandleFunc("/api/charging_status", s.handleChargingStatus)
	mux.HandleFunc("/api/consumption_learning", s.handleConsumptionLearning)
	mux.HandleFunc("/api/consumption_data", s.handleConsumptionData)
	mux.HandleFunc("/api/consumption_import_csv", s.handleConsumptionImportCSV)
	mux.HandleFunc("/api/consumption_export_csv", s.handleConsumptionExportCSV)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/ws", s.handleWebsocket)

	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go s.handleBroadcasts()
	go s.broadcastStatus()

	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop shuts the server down, closing all websocket clients.
func (s *Server) Stop(ctx context.Context) error {
	close(s.done)

	s.clients.Range(func(key, value any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, format string, args ...any) {
	s.writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snapshot := s.controller.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"lastUpdate": snapshot.LastUpdate,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.buildStatus())
}

// buildStatus assembles the full status document shared by /api/status and
// the websocket push.
func (s *Server) buildStatus() map[string]any {
	snapshot := s.controller.Snapshot()

	return map[string]any{
		"battery":           snapshot.Battery,
		"pv":                snapshot.PV,
		"prices":            snapshot.Prices,
		"currentPrice":      snapshot.CurrentPrice,
		"chargingPlan":      snapshot.Plan,
		"mode":              snapshot.Mode,
		"decision":          snapshot.Decision,
		"automationEnabled": snapshot.AutomationEnabled,
		"inverterConnected": snapshot.InverterConnected,
		"lastUpdate":        snapshot.LastUpdate,
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.controller.Config())

	case http.MethodPost:
		// Decode on top of the running config so a partial body updates only
		// the keys it mentions instead of zeroing the rest.
		cfg := s.controller.Config()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid config: %v", err)
			return
		}
		if err := config.Save(s.configPath, cfg); err != nil {
			s.writeError(w, http.StatusInternalServerError, "save config: %v", err)
			return
		}
		s.controller.SetConfig(cfg)
		s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// controlRequest is the envelope of the /api/control endpoint.
type controlRequest struct {
	Action string `json:"action"`
	Power  int    `json:"power,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}

	var err error
	response := map[string]any{"success": true}

	switch req.Action {
	case "start_charging":
		err = s.controller.StartManualCharging(req.Power)
	case "stop_charging":
		err = s.controller.StopCharging()
	case "auto_mode":
		err = s.controller.StopCharging()
	case "toggle_automation":
		enabled := !s.controller.Snapshot().AutomationEnabled
		err = s.controller.SetAutomationEnabled(enabled)
		response["automationEnabled"] = enabled
	case "test_connection":
		response["connected"] = s.controller.TestInverterConnection()
	default:
		s.writeError(w, http.StatusBadRequest, "unknown action %q", req.Action)
		return
	}

	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "%s: %v", req.Action, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAdjustPower(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Power int `json:"power"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}

	if err := s.controller.AdjustChargePower(req.Power); err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRecalculatePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.controller.RecalculatePlan()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"chargingPlan": s.controller.Snapshot().Plan,
	})
}

func (s *Server) handleChargingPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"chargingPlan": s.controller.Snapshot().Plan,
	})
}

func (s *Server) handleChargingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.controller.Explain())
}

func (s *Server) handleConsumptionLearning(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"stats":   s.store.Stats(),
			"profile": s.store.HourlyProfile(),
		})

	case http.MethodPost:
		// Seed a manual baseline profile, or clear data.
		var req struct {
			Action  string          `json:"action"`
			Profile map[int]float64 `json:"profile,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request: %v", err)
			return
		}

		switch req.Action {
		case "seed_profile":
			count, err := s.store.AddManualProfile(req.Profile)
			if err != nil {
				s.writeError(w, http.StatusInternalServerError, "seed profile: %v", err)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": count})
		case "clear_manual":
			if err := s.store.ClearManualData(); err != nil {
				s.writeError(w, http.StatusInternalServerError, "clear manual data: %v", err)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		case "clear_all":
			if err := s.store.ClearAllData(); err != nil {
				s.writeError(w, http.StatusInternalServerError, "clear all data: %v", err)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		default:
			s.writeError(w, http.StatusBadRequest, "unknown action %q", req.Action)
		}

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleConsumptionData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"profile": s.store.HourlyProfile(),
		})

	case http.MethodPost:
		var days []consumption.DayConsumption
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&days); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid history payload: %v", err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.store.ImportDetailedHistory(days))

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleConsumptionImportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read upload: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.ImportCSV(string(body)))
}

func (s *Server) handleConsumptionExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="consumption_profile.csv"`)
	fmt.Fprint(w, s.store.ExportCSV())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"logs": s.controller.Logs()})
}

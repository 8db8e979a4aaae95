package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// statusPushInterval is how often the status document is pushed to connected
// websocket clients.
const statusPushInterval = 5 * time.Second

// handleWebsocket upgrades the connection and keeps it registered until the
// client goes away. Clients receive the current status immediately and then
// periodic updates.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	// Send the initial status before registering: once the connection is in
	// `clients` the broadcast goroutine is its only writer, and gorilla
	// websocket does not tolerate a second concurrent one.
	if err := conn.WriteJSON(s.statusMessage()); err != nil {
		s.logger.Warn("Failed to send initial status", "error", err)
		conn.Close()
		return
	}

	s.clients.Store(conn, true)
	s.logger.Debug("Websocket client connected", "remote", conn.RemoteAddr())

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
		s.logger.Debug("Websocket client disconnected", "remote", conn.RemoteAddr())
	}()

	// Drain client messages so pings and close frames are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Websocket read failed", "error", err)
			}
			return
		}
	}
}

func (s *Server) statusMessage() map[string]any {
	return map[string]any{
		"type":   "status_update",
		"status": s.buildStatus(),
	}
}

// handleBroadcasts fans queued messages out to every connected client.
func (s *Server) handleBroadcasts() {
	for {
		select {
		case message := <-s.broadcast:
			s.clients.Range(func(key, value any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					s.logger.Warn("Websocket write failed, dropping client", "error", err)
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

// broadcastStatus periodically queues a status push when clients are connected.
func (s *Server) broadcastStatus() {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hasClients := false
			s.clients.Range(func(key, value any) bool {
				hasClients = true
				return false
			})
			if !hasClients {
				continue
			}

			message, err := json.Marshal(s.statusMessage())
			if err != nil {
				s.logger.Error("Failed to marshal status push", "error", err)
				continue
			}

			select {
			case s.broadcast <- message:
			default:
				// Slow consumer, skip this push.
			}
		case <-s.done:
			return
		}
	}
}

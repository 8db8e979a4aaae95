// Package kostal talks to the REST API of a Kostal Plenticore hybrid
// inverter. The API gates every settings write behind a PBKDF2/AES-GCM
// authentication handshake; this client performs the handshake, caches the
// resulting session id on disk and exposes the handful of settings calls the
// scheduler needs.
package kostal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// ErrUnauthorized indicates that the inverter rejected the current session.
var ErrUnauthorized = errors.New("inverter session rejected")

// Client holds the inverter connection and the cached session.
// It is not safe for concurrent use; the control loop is the only caller.
type Client struct {
	baseURL           string
	installerPassword string
	masterPassword    string
	sessionFile       string

	sessionID  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for the inverter at `inverterIP`. The session id is
// persisted to `sessionFile` so a process restart does not re-authenticate.
func New(inverterIP, installerPassword, masterPassword, sessionFile string) *Client {
	return &Client{
		baseURL:           fmt.Sprintf("http://%s/api/v1", inverterIP),
		installerPassword: installerPassword,
		masterPassword:    masterPassword,
		sessionFile:       sessionFile,
		httpClient:        &http.Client{Timeout: requestTimeout},
		logger:            slog.Default().With("host", inverterIP),
	}
}

// EnsureAuthenticated makes sure a valid session exists: first the in-memory
// session, then the session file, then a fresh login.
func (c *Client) EnsureAuthenticated() error {
	if c.sessionID == "" {
		c.loadSessionFile()
	}

	if c.sessionID != "" && c.sessionValid() {
		return nil
	}

	return c.Login()
}

// sessionValid asks /auth/me whether the current session is still accepted.
func (c *Client) sessionValid() bool {
	var me struct {
		Authenticated bool `json:"authenticated"`
	}
	err := c.doJSON(http.MethodGet, "/auth/me", nil, &me)
	if err != nil {
		return false
	}
	return me.Authenticated
}

// Logout invalidates the session on the inverter and removes the cached file.
func (c *Client) Logout() {
	if c.sessionID != "" {
		if err := c.doJSON(http.MethodPost, "/auth/logout", struct{}{}, nil); err != nil {
			c.logger.Warn("Logout request failed", "error", err)
		}
	}

	c.sessionID = ""
	if err := os.Remove(c.sessionFile); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("Could not remove session file", "error", err)
	}
}

// SetExternalControl switches the battery between external control (a host
// may impose a power setpoint over modbus) and the inverter's internal
// self-consumption logic.
func (c *Client) SetExternalControl(enabled bool) error {
	mode := "0"
	if enabled {
		mode = "2"
	}

	// Read the current value first; useful in the logs when the inverter
	// was left in an unexpected state.
	if current, err := c.GetSetting("devices:local", "Battery:ExternControl"); err == nil {
		c.logger.Debug("Current ExternControl", "value", current)
	}

	payload := []settingsWrite{{
		ModuleID: "devices:local",
		Settings: []settingValue{{
			ID:    "Battery:ExternControl",
			Value: mode,
		}},
	}}

	err := c.withAuthRetry(func() error {
		return c.doJSON(http.MethodPut, "/settings", payload, nil)
	})
	if err != nil {
		return fmt.Errorf("set external control: %w", err)
	}

	c.logger.Info("Battery control mode set", "external", enabled)
	return nil
}

// GetSetting reads a single setting value from the inverter.
func (c *Client) GetSetting(moduleID, settingID string) (string, error) {
	path := fmt.Sprintf("/settings/%s/%s",
		strings.ReplaceAll(moduleID, ":", "%3A"),
		strings.ReplaceAll(settingID, ":", "%3A"))

	var values []settingValue
	err := c.withAuthRetry(func() error {
		return c.doJSON(http.MethodGet, path, nil, &values)
	})
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", settingID, err)
	}
	if len(values) == 0 {
		return "", fmt.Errorf("get setting %s: empty response", settingID)
	}

	return values[0].Value, nil
}

// TestConnection checks that the inverter's API endpoint is reachable.
// It does not authenticate.
func (c *Client) TestConnection() bool {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/auth/start", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Connection test failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

type settingsWrite struct {
	ModuleID string         `json:"moduleid"`
	Settings []settingValue `json:"settings"`
}

type settingValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// withAuthRetry runs `call` and, if the session was rejected, logs in again
// and retries exactly once.
func (c *Client) withAuthRetry(call func() error) error {
	if err := c.EnsureAuthenticated(); err != nil {
		return err
	}

	err := call()
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.logger.Info("Session rejected, re-authenticating")
	c.sessionID = ""
	if err := c.Login(); err != nil {
		return err
	}
	return call()
}

// doJSON performs one JSON request against the inverter API. The session id,
// if present, is attached as the Authorization header.
func (c *Client) doJSON(method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.sessionID != "" {
		req.Header.Set("Authorization", "Session "+c.sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		content, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(content)))
	}

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}

	return nil
}

// loadSessionFile restores a previously persisted session id. A missing or
// malformed file is not an error - the client just authenticates again.
func (c *Client) loadSessionFile() {
	content, err := os.ReadFile(c.sessionFile)
	if err != nil {
		return
	}

	sessionID := strings.TrimSpace(string(content))
	if sessionID == "" {
		return
	}

	c.sessionID = sessionID
	c.logger.Info("Loaded existing inverter session")
}

// saveSessionFile persists the session id with restricted permissions.
func (c *Client) saveSessionFile() {
	if err := os.MkdirAll(filepath.Dir(c.sessionFile), 0o755); err != nil {
		c.logger.Warn("Could not create session directory", "error", err)
		return
	}
	if err := os.WriteFile(c.sessionFile, []byte(c.sessionID), 0o600); err != nil {
		c.logger.Warn("Could not persist session id", "error", err)
	}
}

// Package homeassistant reads named state entities (battery SoC, prices,
// PV forecasts, consumption) from the Home Assistant state store.
package homeassistant

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const requestTimeout = 5 * time.Second

// Client is a thin wrapper around the Home Assistant REST API. Every read can
// come back as "no data" - callers receive `(value, ok)` pairs and must treat
// ok=false as "skip this decision", never as zero.
type Client struct {
	apiURL string
	token  string

	httpClient *http.Client
	logger     *slog.Logger
}

// Entity is the raw state object returned for a single entity.
type Entity struct {
	EntityID   string                     `json:"entity_id"`
	State      string                     `json:"state"`
	Attributes map[string]json.RawMessage `json:"attributes"`
}

// New creates a client for the given API base URL and bearer token. Empty
// values fall back to the supervisor environment, which is how the add-on
// runs in production.
func New(apiURL, token string) *Client {
	if apiURL == "" {
		apiURL = os.Getenv("HASSIO_API")
	}
	if apiURL == "" {
		apiURL = "http://supervisor/core"
	}
	if token == "" {
		token = os.Getenv("SUPERVISOR_TOKEN")
	}

	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     slog.Default().With("host", apiURL),
	}
}

// Entity fetches the full state object for an entity.
func (c *Client) Entity(entityID string) (Entity, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/states/%s", c.apiURL, entityID), nil)
	if err != nil {
		return Entity{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Entity{}, fmt.Errorf("get state for %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Entity{}, fmt.Errorf("get state for %s: status %d", entityID, resp.StatusCode)
	}

	var entity Entity
	if err := json.NewDecoder(resp.Body).Decode(&entity); err != nil {
		return Entity{}, fmt.Errorf("decode state for %s: %w", entityID, err)
	}

	return entity, nil
}

// State returns the state string of an entity. ok is false on transport
// errors and for the "unknown"/"unavailable" placeholder states.
func (c *Client) State(entityID string) (string, bool) {
	if entityID == "" {
		return "", false
	}

	entity, err := c.Entity(entityID)
	if err != nil {
		c.logger.Debug("Failed to read entity state", "entity", entityID, "error", err)
		return "", false
	}

	if entity.State == "unknown" || entity.State == "unavailable" {
		return "", false
	}

	return entity.State, true
}

// Float returns the state of an entity parsed as a float.
func (c *Client) Float(entityID string) (float64, bool) {
	state, ok := c.State(entityID)
	if !ok {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(state), 64)
	if err != nil {
		c.logger.Warn("Entity state is not numeric", "entity", entityID, "state", state)
		return 0, false
	}

	return v, true
}

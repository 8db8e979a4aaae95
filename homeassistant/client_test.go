package homeassistant

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/batterymanager/batterymanager/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, entities map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		body, ok := entities[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func TestState(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"/api/states/sensor.battery_soc": `{"entity_id":"sensor.battery_soc","state":"72.5","attributes":{}}`,
		"/api/states/sensor.offline":     `{"entity_id":"sensor.offline","state":"unavailable","attributes":{}}`,
		"/api/states/sensor.unknown":     `{"entity_id":"sensor.unknown","state":"unknown","attributes":{}}`,
	})
	defer server.Close()

	client := New(server.URL, "test-token")

	state, ok := client.State("sensor.battery_soc")
	assert.True(t, ok)
	assert.Equal(t, "72.5", state)

	soc, ok := client.Float("sensor.battery_soc")
	assert.True(t, ok)
	assert.Equal(t, 72.5, soc)

	// The placeholder states mean "no data", not zero.
	_, ok = client.State("sensor.offline")
	assert.False(t, ok)
	_, ok = client.State("sensor.unknown")
	assert.False(t, ok)

	// Missing entity is "no data" too.
	_, ok = client.Float("sensor.missing")
	assert.False(t, ok)
}

func TestPriceCurve(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"/api/states/sensor.tibber_prices": `{
			"entity_id": "sensor.tibber_prices",
			"state": "0.28",
			"attributes": {
				"today": [
					{"total": 0.28, "startsAt": "2026-01-10T00:00:00+01:00", "level": "NORMAL"},
					{"total": 0.25, "startsAt": "2026-01-10T01:00:00+01:00", "level": "CHEAP"},
					{"total": 0.31, "startsAt": "not-a-timestamp", "level": "NORMAL"}
				],
				"tomorrow": [
					{"total": 0.35, "startsAt": "2026-01-11T00:00:00+01:00", "level": "teuer"}
				]
			}
		}`,
	})
	defer server.Close()

	client := New(server.URL, "test-token")

	prices, err := client.PriceCurve("sensor.tibber_prices")
	require.NoError(t, err)

	// The malformed entry is dropped, the rest is sorted by start time.
	require.Len(t, prices, 3)
	assert.Equal(t, 0.28, prices[0].Total)
	assert.Equal(t, 0.25, prices[1].Total)
	assert.Equal(t, 0.35, prices[2].Total)
	assert.True(t, prices[0].StartsAt.Before(prices[2].StartsAt))
	assert.Equal(t, telemetry.PriceLevelVeryExpensive, telemetry.ParsePriceLevel("sehr teuer"))
	assert.Equal(t, telemetry.PriceLevelExpensive, prices[2].Level)
}

func TestPriceCurveEmpty(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"/api/states/sensor.tibber_prices": `{"entity_id":"sensor.tibber_prices","state":"0.28","attributes":{}}`,
	})
	defer server.Close()

	client := New(server.URL, "test-token")

	_, err := client.PriceCurve("sensor.tibber_prices")
	assert.Error(t, err)
}

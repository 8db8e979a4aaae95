package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, 3900, cfg.MaxChargePowerW)
	assert.Equal(t, 95.0, cfg.AutoChargeBelowSoc)
	assert.Equal(t, 30*time.Second, cfg.ControlInterval())
	assert.True(t, cfg.AutoOptimizationEnabled)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"inverterIp":"192.168.1.50","maxChargePower":2500}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50", cfg.InverterIP)
	assert.Equal(t, 2500, cfg.MaxChargePowerW)
	// Untouched keys keep their defaults.
	assert.Equal(t, 20.0, cfg.AutoSafetySoc)
	assert.Equal(t, 28, cfg.LearningDays)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.InverterIP = "10.0.0.7"
	cfg.PriceThreshold1h = 0.12
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestHourlyFallbackChain(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1.0, cfg.HourlyFallbackKWh())

	cfg.AverageDailyConsumptionKWh = 12
	assert.Equal(t, 0.5, cfg.HourlyFallbackKWh())

	cfg.DefaultHourlyFallbackKWh = 0.8
	assert.Equal(t, 0.8, cfg.HourlyFallbackKWh())
}

func TestDataPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/bm"

	assert.Equal(t, "/tmp/bm/kostal_session.id", cfg.SessionFile())
	assert.Equal(t, "/tmp/bm/consumption.sqlite", cfg.ConsumptionDB())
}

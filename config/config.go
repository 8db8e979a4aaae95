package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SensorsConfig binds the home automation entity IDs that telemetry is read from.
type SensorsConfig struct {
	BatterySoc       string `json:"batterySocSensor"`
	BatteryPower     string `json:"batteryPowerSensor"`
	BatteryVoltage   string `json:"batteryVoltageSensor"`
	TibberPrice      string `json:"tibberPriceSensor"`
	TibberPriceLevel string `json:"tibberPriceLevelSensor"`
	PvPowerNowRoof1  string `json:"pvPowerNowRoof1"`
	PvPowerNowRoof2  string `json:"pvPowerNowRoof2"`
	PvRemainingRoof1 string `json:"pvRemainingTodayRoof1"`
	PvRemainingRoof2 string `json:"pvRemainingTodayRoof2"`
	PvTomorrowRoof1  string `json:"pvProductionTomorrowRoof1"`
	PvTomorrowRoof2  string `json:"pvProductionTomorrowRoof2"`
	HomeConsumption  string `json:"homeConsumptionSensor"`
}

// HomeAssistantConfig holds the connection to the home automation state store.
// Token and URL fall back to the supervisor environment when left empty.
type HomeAssistantConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Config is the full bag of tunables. It is read from a single JSON file and
// can be replaced at runtime through the HTTP surface.
type Config struct {
	InverterIP        string `json:"inverterIp"`
	InverterPort      int    `json:"inverterPort"`
	InstallerPassword string `json:"installerPassword"`
	MasterPassword    string `json:"masterPassword"`

	MaxChargePowerW            int     `json:"maxChargePower"`             // absolute W magnitude written as the charging setpoint
	AutoSafetySoc              float64 `json:"autoSafetySoc"`              // below this SoC we charge regardless of price
	AutoChargeBelowSoc         float64 `json:"autoChargeBelowSoc"`         // target SoC for planned charging, acts as upper bound
	AutoPvThresholdKWh         float64 `json:"autoPvThreshold"`            // remaining-today PV above which grid charging is suppressed
	ControlIntervalSecs        int     `json:"controlInterval"`            // tick period of the control loop
	PriceThreshold1h           float64 `json:"priceThreshold1h"`           // fractional rise for the optimizer's single-hour test
	PriceThreshold3h           float64 `json:"priceThreshold3h"`           // fractional rise for the optimizer's three-hour test
	ChargeDurationPer10Percent int     `json:"chargeDurationPer10Percent"` // minutes of charging per 10% SoC delta
	LearningDays               int     `json:"learningDays"`               // retention horizon of the consumption store
	DefaultHourlyFallbackKWh   float64 `json:"defaultHourlyFallback"`      // returned when an hour has no samples; 0 = unset
	AverageDailyConsumptionKWh float64 `json:"averageDailyConsumption"`    // secondary fallback, divided by 24; 0 = unset
	AutoOptimizationEnabled    bool    `json:"autoOptimizationEnabled"`    // global gate on planned charging

	HomeAssistant HomeAssistantConfig `json:"homeAssistant"`
	Sensors       SensorsConfig       `json:"sensors"`

	DataDir  string `json:"dataDir"`
	HTTPPort int    `json:"httpPort"`
	LogLevel string `json:"logLevel"`
}

// Default returns the configuration used when keys are missing from the file.
func Default() Config {
	return Config{
		InverterPort:               1502,
		MaxChargePowerW:            3900,
		AutoSafetySoc:              20,
		AutoChargeBelowSoc:         95,
		AutoPvThresholdKWh:         5,
		ControlIntervalSecs:        30,
		PriceThreshold1h:           0.08,
		PriceThreshold3h:           0.08,
		ChargeDurationPer10Percent: 18,
		LearningDays:               28,
		AutoOptimizationEnabled:    true,
		DataDir:                    "/data",
		HTTPPort:                   8099,
		LogLevel:                   "info",
	}
}

// Load reads the config file at `path`, filling missing keys with defaults.
// A missing file is not an error - the defaults are returned so a fresh
// installation can come up and be configured through the HTTP surface.
func Load(path string) (Config, error) {
	cfg := Default()

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	// Unmarshalling on top of the defaults keeps any key the file doesn't mention.
	err = json.Unmarshal(content, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Save writes the config as indented JSON via a temp-file rename, so a crash
// mid-write never leaves a truncated config behind.
func Save(path string, cfg Config) error {
	content, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config file: %w", err)
	}
	return nil
}

// ControlInterval returns the tick period of the control loop.
func (c Config) ControlInterval() time.Duration {
	if c.ControlIntervalSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ControlIntervalSecs) * time.Second
}

// HourlyFallbackKWh resolves the consumption fallback chain: the configured
// hourly default, else the configured daily average spread over 24 hours,
// else 1.0 kWh.
func (c Config) HourlyFallbackKWh() float64 {
	if c.DefaultHourlyFallbackKWh > 0 {
		return c.DefaultHourlyFallbackKWh
	}
	if c.AverageDailyConsumptionKWh > 0 {
		return c.AverageDailyConsumptionKWh / 24
	}
	return 1.0
}

// SessionFile returns the path of the persisted inverter session id.
func (c Config) SessionFile() string {
	return filepath.Join(c.DataDir, "kostal_session.id")
}

// ConsumptionDB returns the path of the embedded consumption database.
func (c Config) ConsumptionDB() string {
	return filepath.Join(c.DataDir, "consumption.sqlite")
}

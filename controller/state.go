package controller

import (
	"fmt"
	"time"

	"github.com/batterymanager/batterymanager/config"
	"github.com/batterymanager/batterymanager/optimizer"
	"github.com/batterymanager/batterymanager/telemetry"
	"github.com/batterymanager/batterymanager/timeutils"
)

// AppState is the shared view of the system that the HTTP surface reads.
// Pointer fields are nil when the underlying data is unavailable; the tick
// loop replaces the pointers wholesale and never mutates through them.
type AppState struct {
	Battery           *telemetry.BatteryState
	Plan              *telemetry.ChargingPlan
	PV                *telemetry.PVForecast
	Prices            []telemetry.PriceSample
	CurrentPrice      *telemetry.PriceSample
	Mode              telemetry.InverterMode
	Decision          telemetry.ControlDecision
	AutomationEnabled bool
	InverterConnected bool
	LastUpdate        time.Time
}

// Snapshot returns a copy of the current application state.
func (c *Controller) Snapshot() AppState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// refreshTelemetry pulls battery, PV and price data from the telemetry source.
// Each group is independent: a failing PV sensor does not invalidate the
// battery reading. Unreadable groups become nil, never zero.
func (c *Controller) refreshTelemetry(cfg config.Config) {

	var battery *telemetry.BatteryState
	if soc, ok := c.source.Float(cfg.Sensors.BatterySoc); ok {
		state := telemetry.BatteryState{SoC: soc}
		if power, ok := c.source.Float(cfg.Sensors.BatteryPower); ok {
			state.PowerW = power
		}
		if voltage, ok := c.source.Float(cfg.Sensors.BatteryVoltage); ok {
			state.VoltageV = voltage
		}
		if state.Valid() {
			battery = &state
		} else {
			c.logger.Warn("Discarding implausible battery reading", "soc", soc)
		}
	}

	pv := c.readPVForecast(cfg)
	prices, currentPrice := c.readPrices(cfg)

	c.mu.Lock()
	c.state.Battery = battery
	c.state.PV = pv
	if prices != nil {
		// A transient price read failure keeps yesterday's curve; the
		// optimizer skips past hours anyway.
		c.state.Prices = prices
		c.state.CurrentPrice = currentPrice
	}
	c.mu.Unlock()
}

// readPVForecast sums the forecast over both roof strings. The forecast is
// only usable when at least the remaining-today value of one roof is readable.
func (c *Controller) readPVForecast(cfg config.Config) *telemetry.PVForecast {
	roof := func(now, remaining, tomorrow string) (telemetry.PVForecast, bool) {
		f := telemetry.PVForecast{}
		rem, ok := c.source.Float(remaining)
		if !ok {
			return f, false
		}
		f.RemainingTodayKWh = rem
		if v, ok := c.source.Float(now); ok {
			f.PowerNowKW = v
		}
		if v, ok := c.source.Float(tomorrow); ok {
			f.ProductionTomorrowKWh = v
		}
		return f, true
	}

	roof1, ok1 := roof(cfg.Sensors.PvPowerNowRoof1, cfg.Sensors.PvRemainingRoof1, cfg.Sensors.PvTomorrowRoof1)
	roof2, ok2 := roof(cfg.Sensors.PvPowerNowRoof2, cfg.Sensors.PvRemainingRoof2, cfg.Sensors.PvTomorrowRoof2)

	if !ok1 && !ok2 {
		return nil
	}
	combined := roof1.Add(roof2)
	return &combined
}

// readPrices fetches the day-ahead curve and picks the sample covering the
// current hour as the spot price.
func (c *Controller) readPrices(cfg config.Config) ([]telemetry.PriceSample, *telemetry.PriceSample) {
	prices, err := c.source.PriceCurve(cfg.Sensors.TibberPrice)
	if err != nil {
		c.logger.Warn("Could not read price curve", "error", err)
		return nil, nil
	}

	hour := timeutils.FloorHour(c.now())
	var current *telemetry.PriceSample
	for i := range prices {
		if prices[i].StartsAt.Equal(hour) {
			current = &prices[i]
			break
		}
	}

	// The dedicated level sensor is more current than the curve attribute.
	if current != nil {
		if raw, ok := c.source.State(cfg.Sensors.TibberPriceLevel); ok {
			current.Level = telemetry.ParsePriceLevel(raw)
		}
	}
	return prices, current
}

// refreshPlanIfStale recomputes the charging plan when the last computation is
// older than planMaxAge. When inputs are missing the previous plan survives
// with a fresh timestamp rather than being dropped.
func (c *Controller) refreshPlanIfStale(cfg config.Config, now time.Time) {
	c.mu.RLock()
	lastRefresh := c.lastPlanRefresh
	c.mu.RUnlock()

	if now.Sub(lastRefresh) < planMaxAge {
		return
	}
	c.recalculatePlan(cfg, now)
}

func (c *Controller) recalculatePlan(cfg config.Config, now time.Time) {
	c.mu.Lock()
	c.lastPlanRefresh = now
	c.mu.Unlock()

	snapshot := c.Snapshot()
	if snapshot.Battery == nil || len(snapshot.Prices) == 0 {
		c.mu.Lock()
		if c.state.Plan != nil {
			kept := *c.state.Plan
			kept.LastCalculated = now
			c.state.Plan = &kept
		}
		c.mu.Unlock()
		c.logger.Warn("Plan not recalculated, missing battery or price data")
		return
	}

	chargeEnd := optimizer.FindOptimalChargeEnd(snapshot.Prices, now, cfg.PriceThreshold1h, cfg.PriceThreshold3h)

	var plan *telemetry.ChargingPlan
	if chargeEnd != nil {
		p := optimizer.PlanCharge(*chargeEnd, snapshot.Battery.SoC, cfg.AutoChargeBelowSoc, cfg.ChargeDurationPer10Percent, now)
		plan = &p
	}

	c.mu.Lock()
	c.state.Plan = plan
	c.mu.Unlock()
}

// sampleConsumption records one consumption sample per completed hour. The
// sensor reports the consumption of the previous hour, so the sample is stored
// against that hour's timestamp.
func (c *Controller) sampleConsumption(cfg config.Config, now time.Time) {
	if c.store == nil || cfg.Sensors.HomeConsumption == "" {
		return
	}

	hour := timeutils.FloorHour(now)

	c.mu.Lock()
	lastSampled := c.lastSampledHour
	if lastSampled.IsZero() || !hour.Equal(lastSampled) {
		c.lastSampledHour = hour
	}
	c.mu.Unlock()

	// First tick after startup only establishes the reference hour, the
	// in-progress hour has no complete sample yet.
	if lastSampled.IsZero() || hour.Equal(lastSampled) {
		return
	}

	kWh, ok := c.source.Float(cfg.Sensors.HomeConsumption)
	if !ok {
		c.logger.Warn("Consumption sensor unreadable, skipping hourly sample")
		return
	}

	if err := c.store.Record(hour.Add(-time.Hour), kWh); err != nil {
		c.logRing.Add("WARNING", "Could not record consumption sample: %v", err)
	} else {
		c.logger.Info("Recorded hourly consumption sample", "kwh", kWh)
	}
}

// StartManualCharging puts the inverter into manual charging at the given
// power. Zero or negative watts select the configured maximum charge power.
// Manual mode suspends the automatic rules until StopCharging.
func (c *Controller) StartManualCharging(watts int) error {
	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	if watts <= 0 {
		watts = c.Config().MaxChargePowerW
	}
	setpoint := chargeSetpoint(watts)

	if c.Mode().Charging() {
		// External control is already enabled, only the setpoint changes.
		if err := c.setpoint.WriteBatteryPower(setpoint); err != nil {
			return fmt.Errorf("adjust setpoint: %w", err)
		}
	} else {
		if err := c.engageCharging(setpoint); err != nil {
			return fmt.Errorf("start manual charging: %w", err)
		}
	}

	c.setMode(telemetry.ModeManualCharging)
	c.logRing.Add("INFO", "Manual charging started (%d W)", setpoint)
	return nil
}

// StopCharging ends any active charging, manual or automatic, and returns the
// inverter to internal control.
func (c *Controller) StopCharging() error {
	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	if !c.Mode().Charging() {
		return nil
	}
	if err := c.disengageCharging(); err != nil {
		return fmt.Errorf("stop charging: %w", err)
	}
	c.setMode(telemetry.ModeInternal)
	c.logRing.Add("INFO", "Charging stopped by operator")
	return nil
}

// AdjustChargePower changes the setpoint of an active charge. It is rejected
// outside of the charging modes so it can never silently enable charging.
func (c *Controller) AdjustChargePower(watts int) error {
	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	if !c.Mode().Charging() {
		return fmt.Errorf("not charging, setpoint adjustment rejected")
	}
	setpoint := chargeSetpoint(watts)
	if err := c.setpoint.WriteBatteryPower(setpoint); err != nil {
		return fmt.Errorf("adjust setpoint: %w", err)
	}
	c.logRing.Add("INFO", "Charging power adjusted (%d W)", setpoint)
	return nil
}

// SetAutomationEnabled toggles the automatic charging rules. An active
// automatic charge is stopped when automation is switched off.
func (c *Controller) SetAutomationEnabled(enabled bool) error {
	c.mu.Lock()
	c.state.AutomationEnabled = enabled
	c.mu.Unlock()

	c.logRing.Add("INFO", "Automatic optimization %s", onOff(enabled))

	if !enabled && c.Mode() == telemetry.ModeAutoCharging {
		return c.StopCharging()
	}
	return nil
}

// RecalculatePlan forces a plan computation outside the regular staleness
// window, using fresh telemetry.
func (c *Controller) RecalculatePlan() {
	cfg := c.Config()
	c.refreshTelemetry(cfg)
	c.recalculatePlan(cfg, c.now())
	c.logRing.Add("INFO", "Charging plan recalculated on request")
}

// TestInverterConnection probes the inverter and records the result.
func (c *Controller) TestInverterConnection() bool {
	connected := c.auth.TestConnection()

	c.mu.Lock()
	c.state.InverterConnected = connected
	c.mu.Unlock()

	if connected {
		c.logRing.Add("INFO", "Inverter connection test succeeded")
	} else {
		c.logRing.Add("WARNING", "Inverter connection test failed")
	}
	return connected
}

// Logs returns the operator-visible event log, oldest first.
func (c *Controller) Logs() []LogEntry {
	return c.logRing.Entries()
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

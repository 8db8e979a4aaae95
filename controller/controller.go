// Package controller runs the periodic control loop that decides whether the
// house battery is force-charged from the grid, and drives the inverter
// accordingly.
package controller

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/batterymanager/batterymanager/config"
	"github.com/batterymanager/batterymanager/telemetry"
)

// planMaxAge is how old a charging plan may get before it is recomputed.
const planMaxAge = 5 * time.Minute

// InverterAuth is the authenticated settings interface of the inverter.
type InverterAuth interface {
	SetExternalControl(enabled bool) error
	TestConnection() bool
}

// SetpointWriter writes the signed battery power setpoint over the field bus.
type SetpointWriter interface {
	WriteBatteryPower(watts int16) error
}

// TelemetrySource reads named entities from the home automation state store.
type TelemetrySource interface {
	Float(entityID string) (float64, bool)
	State(entityID string) (string, bool)
	PriceCurve(entityID string) ([]telemetry.PriceSample, error)
}

// ConsumptionLog records learned hourly consumption samples.
type ConsumptionLog interface {
	Record(ts time.Time, kWh float64) error
}

// Controller owns the mutable application state and the inverter mode state
// machine. HTTP handlers read snapshots and issue operator commands; the tick
// loop is the sole writer of plan and telemetry state.
type Controller struct {
	auth     InverterAuth
	setpoint SetpointWriter
	source   TelemetrySource
	store    ConsumptionLog
	logRing  *LogRing

	// mu guards cfg, state and the refresh bookkeeping below; it is never
	// held across outbound calls.
	mu              sync.RWMutex
	cfg             config.Config
	state           AppState
	lastPlanRefresh time.Time
	lastSampledHour time.Time

	// driveMu serializes inverter writes between the tick loop and
	// operator-initiated commands.
	driveMu sync.Mutex

	now    func() time.Time
	logger *slog.Logger
}

func New(cfg config.Config, auth InverterAuth, setpoint SetpointWriter, source TelemetrySource, store ConsumptionLog, logRing *LogRing) *Controller {
	return &Controller{
		auth:     auth,
		setpoint: setpoint,
		source:   source,
		store:    store,
		logRing:  logRing,
		cfg:      cfg,
		state: AppState{
			Mode:              telemetry.ModeInternal,
			AutomationEnabled: cfg.AutoOptimizationEnabled,
			Decision:          telemetry.ControlDecision{Reason: telemetry.ReasonWaiting},
		},
		now:    time.Now,
		logger: slog.Default().With("component", "controller"),
	}
}

// Run executes one control tick for every value received on `ticks` until the
// context is cancelled. On shutdown a best-effort safe-state write returns
// the inverter to internal control.
func (c *Controller) Run(ctx context.Context, ticks <-chan time.Time) {
	c.logRing.Add("INFO", "Control loop started (interval %s)", c.Config().ControlInterval())

	// run the first tick immediately rather than waiting a full interval
	c.tick(c.now())

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case t := <-ticks:
			c.tick(t)
		}
	}
}

// tick runs one pass of the per-tick sequence: telemetry refresh, plan
// refresh, consumption sampling, rule evaluation, state machine drive.
func (c *Controller) tick(now time.Time) {
	cfg := c.Config()

	c.refreshTelemetry(cfg)
	c.refreshPlanIfStale(cfg, now)
	c.sampleConsumption(cfg, now)

	snapshot := c.Snapshot()
	if snapshot.Battery == nil {
		// No battery data yet: skip the decision, don't assume zero.
		c.logger.Warn("No battery telemetry available, skipping decision")
		return
	}

	var pvRemaining *float64
	if snapshot.PV != nil {
		pvRemaining = &snapshot.PV.RemainingTodayKWh
	}

	decision := evaluateRules(ruleInputs{
		Now:                now,
		SoC:                snapshot.Battery.SoC,
		Plan:               snapshot.Plan,
		PvRemainingToday:   pvRemaining,
		AutoSafetySoc:      cfg.AutoSafetySoc,
		AutoChargeBelowSoc: cfg.AutoChargeBelowSoc,
		AutoPvThresholdKWh: cfg.AutoPvThresholdKWh,
	})

	c.mu.Lock()
	c.state.Decision = decision
	c.state.LastUpdate = now
	automationEnabled := c.state.AutomationEnabled
	mode := c.state.Mode
	c.mu.Unlock()

	c.logger.Debug(
		"Evaluated charging rules",
		"soc", snapshot.Battery.SoC,
		"will_charge", decision.WillCharge,
		"reason", decision.Reason,
		"mode", string(mode),
	)

	// Manual charging is driven exclusively by operator commands, and with
	// automation disabled the rules stay advisory.
	if mode == telemetry.ModeManualCharging || !automationEnabled {
		return
	}

	c.driveStateMachine(cfg, decision)
}

// driveStateMachine brings the inverter mode in line with the decision.
// External control must be enabled before a nonzero setpoint has effect, and
// returned to internal only after the setpoint is cleared.
func (c *Controller) driveStateMachine(cfg config.Config, decision telemetry.ControlDecision) {
	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	mode := c.Mode()

	switch {
	case decision.WillCharge && mode == telemetry.ModeInternal:
		watts := chargeSetpoint(cfg.MaxChargePowerW)
		if err := c.engageCharging(watts); err != nil {
			c.logRing.Add("ERROR", "Failed to start charging (%s): %v", decision.Reason, err)
			return
		}
		c.setMode(telemetry.ModeAutoCharging)
		c.logRing.Add("INFO", "Automatic charging started (%s, %d W)", decision.Reason, watts)

	case !decision.WillCharge && mode == telemetry.ModeAutoCharging:
		if err := c.disengageCharging(); err != nil {
			// Keep the mode; the zero write is retried next tick so the
			// inverter is never left externally controlled with a setpoint.
			c.logRing.Add("ERROR", "Failed to stop charging (%s): %v", decision.Reason, err)
			return
		}
		c.setMode(telemetry.ModeInternal)
		c.logRing.Add("INFO", "Automatic charging stopped (%s)", decision.Reason)
	}
}

// engageCharging enables external control and then writes the charging
// setpoint. If the setpoint write fails the control mode is handed straight
// back, so the pair (external enabled, setpoint set) never ends up half done.
func (c *Controller) engageCharging(watts int16) error {
	if err := c.auth.SetExternalControl(true); err != nil {
		return err
	}
	if err := c.setpoint.WriteBatteryPower(watts); err != nil {
		if revertErr := c.auth.SetExternalControl(false); revertErr != nil {
			c.logger.Error("Could not revert external control after failed setpoint write", "error", revertErr)
		}
		return err
	}
	return nil
}

// disengageCharging clears the setpoint and then returns control to the
// inverter, in that order.
func (c *Controller) disengageCharging() error {
	if err := c.setpoint.WriteBatteryPower(0); err != nil {
		return err
	}
	return c.auth.SetExternalControl(false)
}

// shutdown performs the best-effort safe-state write on process exit: the
// inverter must never be left in external control with a nonzero setpoint.
func (c *Controller) shutdown() {
	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	if !c.Mode().Charging() {
		return
	}

	c.logRing.Add("INFO", "Shutting down, returning inverter to internal control")
	if err := c.disengageCharging(); err != nil {
		c.logRing.Add("ERROR", "Safe-state write failed on shutdown: %v", err)
		return
	}
	c.setMode(telemetry.ModeInternal)
}

func (c *Controller) setMode(mode telemetry.InverterMode) {
	c.mu.Lock()
	c.state.Mode = mode
	c.mu.Unlock()
}

// Mode returns the current inverter mode.
func (c *Controller) Mode() telemetry.InverterMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Mode
}

// Config returns the current configuration snapshot.
func (c *Controller) Config() config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetConfig replaces the configuration; the next tick runs with the new values.
func (c *Controller) SetConfig(cfg config.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.logRing.Add("INFO", "Configuration updated")
}

// chargeSetpoint converts a requested charge power magnitude into the signed
// register value. The register is int16 and negative means charge; larger
// requests clamp to the register maximum so an oversized power can never wrap
// into a positive discharge command.
func chargeSetpoint(watts int) int16 {
	if watts < 0 {
		watts = -watts
	}
	if watts > math.MaxInt16 {
		watts = math.MaxInt16
	}
	return -int16(watts)
}

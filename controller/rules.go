package controller

import (
	"time"

	"github.com/batterymanager/batterymanager/telemetry"
)

// ruleInputs carries everything the charging decision depends on.
// PvRemainingToday is nil when the forecast could not be read - the PV rule
// is then skipped rather than evaluated against zero.
type ruleInputs struct {
	Now                time.Time
	SoC                float64
	Plan               *telemetry.ChargingPlan
	PvRemainingToday   *float64
	AutoSafetySoc      float64
	AutoChargeBelowSoc float64
	AutoPvThresholdKWh float64
}

// evaluateRules decides whether the battery should be grid-charged right now.
// The rules short-circuit in priority order; the safety rule overrides every
// economic consideration.
func evaluateRules(in ruleInputs) telemetry.ControlDecision {

	if in.SoC < in.AutoSafetySoc {
		return telemetry.ControlDecision{WillCharge: true, Reason: telemetry.ReasonSafety}
	}

	if in.SoC >= in.AutoChargeBelowSoc {
		return telemetry.ControlDecision{WillCharge: false, Reason: telemetry.ReasonFull}
	}

	if in.PvRemainingToday != nil && *in.PvRemainingToday > in.AutoPvThresholdKWh {
		return telemetry.ControlDecision{WillCharge: false, Reason: telemetry.ReasonPVSufficient}
	}

	if in.Plan != nil && !in.Now.Before(in.Plan.PlannedStart) {
		return telemetry.ControlDecision{WillCharge: true, Reason: telemetry.ReasonPlanned}
	}

	return telemetry.ControlDecision{WillCharge: false, Reason: telemetry.ReasonWaiting}
}

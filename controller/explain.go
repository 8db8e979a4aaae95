package controller

import (
	"fmt"

	"github.com/batterymanager/batterymanager/telemetry"
	"github.com/batterymanager/batterymanager/timeutils"
)

// Condition is one human-readable rule condition in the status report.
type Condition struct {
	Fulfilled bool   `json:"fulfilled"`
	Label     string `json:"label"`
	Priority  int    `json:"priority"`
}

// StatusReport explains the current charging decision to the operator, in the
// installation's language.
type StatusReport struct {
	WillCharge       bool                 `json:"willCharge"`
	Reason           string               `json:"reason"`
	Explanation      string               `json:"explanation"`
	Mode             string               `json:"mode"`
	CurrentSoC       *float64             `json:"currentSoc"` // nil when no battery data
	TargetSoC        float64              `json:"targetSoc"`
	PvRemainingToday *float64             `json:"pvRemainingToday"`
	PlannedStart     *string              `json:"plannedStart"` // HH:MM or null
	PlannedEnd       *string              `json:"plannedEnd"`   // HH:MM or null
	Conditions       map[string]Condition `json:"conditions"`
}

// Explain builds the operator-facing status report from the latest snapshot.
func (c *Controller) Explain() StatusReport {
	snapshot := c.Snapshot()
	cfg := c.Config()

	report := StatusReport{
		WillCharge:  snapshot.Decision.WillCharge,
		Reason:      snapshot.Decision.Reason,
		Explanation: explanationFor(snapshot.Decision.Reason),
		Mode:        string(snapshot.Mode),
		TargetSoC:   cfg.AutoChargeBelowSoc,
	}

	if snapshot.Plan != nil {
		report.PlannedStart = timeutils.HHMMOrNil(&snapshot.Plan.PlannedStart)
		report.PlannedEnd = timeutils.HHMMOrNil(&snapshot.Plan.PlannedEnd)
	}
	if snapshot.PV != nil {
		report.PvRemainingToday = &snapshot.PV.RemainingTodayKWh
	}

	soc := -1.0
	if snapshot.Battery != nil {
		soc = snapshot.Battery.SoC
		report.CurrentSoC = &snapshot.Battery.SoC
	}
	pvSufficient := snapshot.PV != nil && snapshot.PV.RemainingTodayKWh > cfg.AutoPvThresholdKWh

	report.Conditions = map[string]Condition{
		"soc_safe": {
			Fulfilled: soc >= cfg.AutoSafetySoc,
			Label:     fmt.Sprintf("SOC über Sicherheitsminimum (%.0f%%)", cfg.AutoSafetySoc),
			Priority:  1,
		},
		"below_charge_limit": {
			Fulfilled: soc >= 0 && soc < cfg.AutoChargeBelowSoc,
			Label:     fmt.Sprintf("SOC unter Ladeziel (%.0f%%)", cfg.AutoChargeBelowSoc),
			Priority:  2,
		},
		"pv_sufficient": {
			Fulfilled: pvSufficient,
			Label:     fmt.Sprintf("PV-Restertrag über %.1f kWh", cfg.AutoPvThresholdKWh),
			Priority:  3,
		},
		"has_plan": {
			Fulfilled: snapshot.Plan != nil,
			Label:     "Ladezeitfenster geplant",
			Priority:  4,
		},
	}

	return report
}

func explanationFor(reason string) string {
	switch reason {
	case telemetry.ReasonSafety:
		return "Notladung: SOC unter Sicherheitsminimum"
	case telemetry.ReasonFull:
		return "Batterie ausreichend geladen"
	case telemetry.ReasonPVSufficient:
		return "Ausreichend PV-Ertrag erwartet, kein Netzladen"
	case telemetry.ReasonPlanned:
		return "Geplantes Laden aktiv"
	default:
		return "Warte auf günstiges Ladezeitfenster"
	}
}

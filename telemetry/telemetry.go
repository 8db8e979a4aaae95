package telemetry

import (
	"time"
)

// PriceSample holds one hour of the day-ahead electricity price curve.
type PriceSample struct {
	StartsAt time.Time  `json:"startsAt"`
	Total    float64    `json:"total"` // currency per kWh
	Level    PriceLevel `json:"level"`
}

// PVForecast holds the combined photovoltaic production forecast for all roofs.
type PVForecast struct {
	PowerNowKW            float64 `json:"powerNow"`           // current production in kW
	RemainingTodayKWh     float64 `json:"remainingToday"`     // expected remaining production today in kWh
	ProductionTomorrowKWh float64 `json:"productionTomorrow"` // expected production tomorrow in kWh
}

// Add combines the forecast of another roof into this one. Negative values are
// treated as zero, so a missing roof contributes nothing.
func (f PVForecast) Add(other PVForecast) PVForecast {
	return PVForecast{
		PowerNowKW:            f.PowerNowKW + max0(other.PowerNowKW),
		RemainingTodayKWh:     f.RemainingTodayKWh + max0(other.RemainingTodayKWh),
		ProductionTomorrowKWh: f.ProductionTomorrowKWh + max0(other.ProductionTomorrowKWh),
	}
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// BatteryState holds the latest battery readings pulled from telemetry.
// It is only ever updated from sensor reads, never by the control loop.
type BatteryState struct {
	SoC      float64 `json:"soc"`     // state of charge in percent, 0..100
	PowerW   float64 `json:"power"`   // signed power in W, negative = charging
	VoltageV float64 `json:"voltage"` // battery voltage in V
}

// Valid reports whether the state of charge is inside the physically possible range.
func (b BatteryState) Valid() bool {
	return b.SoC >= 0 && b.SoC <= 100
}

// ChargingPlan is the planner's advisory charging window. A plan is either
// fully populated or absent (nil) - there are no partial plans.
type ChargingPlan struct {
	PlannedStart   time.Time `json:"plannedStart"`
	PlannedEnd     time.Time `json:"plannedEnd"`
	TargetSoC      float64   `json:"targetSoc"`
	LastCalculated time.Time `json:"lastCalculated"`
}

// Duration returns the length of the planned charging window.
func (p ChargingPlan) Duration() time.Duration {
	return p.PlannedEnd.Sub(p.PlannedStart)
}

// InverterMode describes who is currently in charge of the battery power level.
type InverterMode string

const (
	ModeInternal       InverterMode = "internal"        // the inverter runs its native self-consumption logic
	ModeAutoCharging   InverterMode = "auto_charging"   // the optimizer decided to force-charge from the grid
	ModeManualCharging InverterMode = "manual_charging" // an operator started charging by hand
)

// Charging reports whether the mode implies an active grid charge.
func (m InverterMode) Charging() bool {
	return m == ModeAutoCharging || m == ModeManualCharging
}

// ControlDecision is the outcome of one rule evaluation. It is derived every
// tick and never stored.
type ControlDecision struct {
	WillCharge bool   `json:"willCharge"`
	Reason     string `json:"reason"`
}

// Decision reasons, in rule priority order.
const (
	ReasonSafety       = "safety"        // SoC below the safety minimum, charge regardless of price
	ReasonFull         = "full"          // SoC at or above the charge target
	ReasonPVSufficient = "pv_sufficient" // enough PV expected today, don't buy from the grid
	ReasonPlanned      = "planned"       // inside the planned charging window
	ReasonWaiting      = "waiting"       // nothing to do yet
)

package optimizer

import (
	"log/slog"
	"time"

	"github.com/batterymanager/batterymanager/telemetry"
)

// PlanCharge back-computes the charging window that ends at `chargeEnd` and
// lifts the battery from `currentSoC` to `targetSoC`, using the configured
// charge-rate model of `minutesPer10Percent` minutes per 10% SoC delta.
//
// When the battery is already at or above the target the window collapses to
// zero duration at `chargeEnd`. The plan is advisory - the control loop may
// still refuse to charge if its rules say so.
func PlanCharge(chargeEnd time.Time, currentSoC, targetSoC float64, minutesPer10Percent int, now time.Time) telemetry.ChargingPlan {

	socDelta := targetSoC - currentSoC
	if socDelta <= 0 {
		return telemetry.ChargingPlan{
			PlannedStart:   chargeEnd,
			PlannedEnd:     chargeEnd,
			TargetSoC:      targetSoC,
			LastCalculated: now,
		}
	}

	durationMinutes := (socDelta / 10) * float64(minutesPer10Percent)
	start := chargeEnd.Add(-time.Duration(durationMinutes * float64(time.Minute)))

	slog.Info(
		"Calculated charging plan",
		"planned_start", start,
		"planned_end", chargeEnd,
		"soc_delta", socDelta,
		"duration_minutes", durationMinutes,
	)

	return telemetry.ChargingPlan{
		PlannedStart:   start,
		PlannedEnd:     chargeEnd,
		TargetSoC:      targetSoC,
		LastCalculated: now,
	}
}

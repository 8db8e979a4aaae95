package optimizer

import (
	"testing"
	"time"

	"github.com/batterymanager/batterymanager/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pricesFrom builds an hourly price curve starting at `start`.
func pricesFrom(start time.Time, totals ...float64) []telemetry.PriceSample {
	prices := make([]telemetry.PriceSample, 0, len(totals))
	for i, total := range totals {
		prices = append(prices, telemetry.PriceSample{
			StartsAt: start.Add(time.Duration(i) * time.Hour),
			Total:    total,
			Level:    telemetry.PriceLevelNormal,
		})
	}
	return prices
}

func TestFindOptimalChargeEnd(t *testing.T) {

	now := mustParseTime("2026-01-10T00:30:00+01:00")
	curveStart := mustParseTime("2026-01-10T00:00:00+01:00")

	tests := []struct {
		name          string
		totals        []float64
		threshold1h   float64
		threshold3h   float64
		expectedIndex int // index into the curve, -1 when no result is expected
	}{
		{
			name:          "sharp step with zero thresholds",
			totals:        []float64{1, 1, 1, 1, 10, 10, 10},
			threshold1h:   0,
			threshold3h:   0,
			expectedIndex: 4,
		},
		{
			// 0.11 is a 10% rise over 0.10, already above the 8% threshold,
			// so the small bump qualifies before the big jump at index 4.
			name:          "morning ramp-up picks the earliest qualifying rise",
			totals:        []float64{0.10, 0.10, 0.10, 0.11, 0.20, 0.22, 0.25},
			threshold1h:   0.08,
			threshold3h:   0.08,
			expectedIndex: 3,
		},
		{
			name:          "morning ramp-up after a flat night",
			totals:        []float64{0.10, 0.10, 0.10, 0.10, 0.20, 0.22, 0.25},
			threshold1h:   0.08,
			threshold3h:   0.08,
			expectedIndex: 4,
		},
		{
			name:          "constant curve never qualifies",
			totals:        []float64{0.20, 0.20, 0.20, 0.20, 0.20, 0.20, 0.20, 0.20},
			threshold1h:   0.08,
			threshold3h:   0.08,
			expectedIndex: -1,
		},
		{
			name:          "monotone gentle rise below threshold",
			totals:        []float64{0.10, 0.11, 0.12, 0.13, 0.14, 0.15, 0.16},
			threshold1h:   0.15,
			threshold3h:   0.15,
			expectedIndex: -1,
		},
		{
			name:          "fewer than six samples",
			totals:        []float64{1, 1, 1, 10, 10},
			threshold1h:   0,
			threshold3h:   0,
			expectedIndex: -1,
		},
		{
			name:          "earliest qualifying boundary wins",
			totals:        []float64{1, 1, 1, 1, 10, 10, 10, 1, 1, 20, 20, 20},
			threshold1h:   0,
			threshold3h:   0,
			expectedIndex: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := pricesFrom(curveStart, tt.totals...)
			result := FindOptimalChargeEnd(prices, now, tt.threshold1h, tt.threshold3h)

			if tt.expectedIndex < 0 {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, prices[tt.expectedIndex].StartsAt, *result)
		})
	}
}

// TestFindOptimalChargeEndSkipsPast ensures that a qualifying boundary in the
// past is never returned, even when a later one exists.
func TestFindOptimalChargeEndSkipsPast(t *testing.T) {
	curveStart := mustParseTime("2026-01-10T00:00:00+01:00")
	prices := pricesFrom(curveStart, 1, 1, 1, 1, 10, 10, 1, 1, 20, 20, 20)

	// Index 4 (04:00) already lies in the past, so the search must continue
	// to the next ramp at index 8 (08:00).
	now := mustParseTime("2026-01-10T05:30:00+01:00")
	result := FindOptimalChargeEnd(prices, now, 0, 0)

	require.NotNil(t, result)
	assert.Equal(t, prices[8].StartsAt, *result)
}

func TestPlanCharge(t *testing.T) {

	now := mustParseTime("2026-01-10T20:00:00+01:00")
	chargeEnd := mustParseTime("2026-01-11T06:00:00+01:00")

	t.Run("duration from soc delta", func(t *testing.T) {
		// 35% delta at 18 minutes per 10% = 63 minutes.
		plan := PlanCharge(chargeEnd, 60, 95, 18, now)

		assert.Equal(t, chargeEnd, plan.PlannedEnd)
		assert.Equal(t, chargeEnd.Add(-63*time.Minute), plan.PlannedStart)
		assert.Equal(t, 95.0, plan.TargetSoC)
		assert.Equal(t, now, plan.LastCalculated)
	})

	t.Run("already full collapses to zero duration", func(t *testing.T) {
		plan := PlanCharge(chargeEnd, 96, 95, 18, now)

		assert.Equal(t, chargeEnd, plan.PlannedStart)
		assert.Equal(t, chargeEnd, plan.PlannedEnd)
		assert.Equal(t, time.Duration(0), plan.Duration())
	})

	t.Run("start never after end", func(t *testing.T) {
		for _, soc := range []float64{0, 10, 50, 94.9, 95, 100} {
			plan := PlanCharge(chargeEnd, soc, 95, 18, now)
			assert.False(t, plan.PlannedStart.After(plan.PlannedEnd), "soc %v", soc)
		}
	})
}

// mustParseTime returns the time.Time associated with the given string or panics.
func mustParseTime(str string) time.Time {
	time, err := time.Parse(time.RFC3339, str)
	if err != nil {
		panic(err)
	}
	return time
}

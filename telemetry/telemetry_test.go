package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePriceLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want PriceLevel
	}{
		{"VERY_CHEAP", PriceLevelVeryCheap},
		{"sehr günstig", PriceLevelVeryCheap},
		{"  Teuer ", PriceLevelExpensive},
		{"normal", PriceLevelNormal},
		{"banana", PriceLevelNormal},
		{"", PriceLevelNormal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParsePriceLevel(tt.raw), "raw %q", tt.raw)
	}
}

func TestPVForecastAddClampsNegatives(t *testing.T) {
	roof1 := PVForecast{PowerNowKW: 1.5, RemainingTodayKWh: 4, ProductionTomorrowKWh: 10}
	roof2 := PVForecast{PowerNowKW: -0.2, RemainingTodayKWh: 2, ProductionTomorrowKWh: -1}

	combined := roof1.Add(roof2)
	assert.Equal(t, 1.5, combined.PowerNowKW)
	assert.Equal(t, 6.0, combined.RemainingTodayKWh)
	assert.Equal(t, 10.0, combined.ProductionTomorrowKWh)
}

func TestBatteryStateValid(t *testing.T) {
	assert.True(t, BatteryState{SoC: 0}.Valid())
	assert.True(t, BatteryState{SoC: 100}.Valid())
	assert.False(t, BatteryState{SoC: -1}.Valid())
	assert.False(t, BatteryState{SoC: 101}.Valid())
}

func TestChargingPlanDuration(t *testing.T) {
	start := time.Date(2026, 3, 15, 16, 0, 0, 0, time.UTC)
	plan := ChargingPlan{PlannedStart: start, PlannedEnd: start.Add(63 * time.Minute)}
	assert.Equal(t, 63*time.Minute, plan.Duration())

	collapsed := ChargingPlan{PlannedStart: start, PlannedEnd: start}
	assert.Equal(t, time.Duration(0), collapsed.Duration())
}

func TestInverterModeCharging(t *testing.T) {
	assert.False(t, ModeInternal.Charging())
	assert.True(t, ModeAutoCharging.Charging())
	assert.True(t, ModeManualCharging.Charging())
}

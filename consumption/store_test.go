package consumption

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a store on a temp path with a fixed clock.
func newTestStore(t *testing.T, learningDays int, fallbackKWh float64) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "data", "consumption.sqlite"), learningDays, fallbackKWh)
	require.NoError(t, err)

	fixed := mustParseTime("2026-03-15T14:30:00+01:00")
	store.now = func() time.Time { return fixed }
	return store
}

func TestRecordValidation(t *testing.T) {
	store := newTestStore(t, 28, 1.0)

	ts := mustParseTime("2026-03-15T10:12:00+01:00")

	assert.NoError(t, store.Record(ts, 0))
	assert.NoError(t, store.Record(ts, 2.4))
	assert.NoError(t, store.Record(ts, 50))
	assert.Error(t, store.Record(ts, -0.1))
	assert.Error(t, store.Record(ts, 50.1))
}

func TestRecordOverwritesSameHour(t *testing.T) {
	store := newTestStore(t, 28, 1.0)

	// Two samples inside the same hour collapse to one row holding the
	// latest value.
	require.NoError(t, store.Record(mustParseTime("2026-03-15T10:05:00+01:00"), 1.5))
	require.NoError(t, store.Record(mustParseTime("2026-03-15T10:55:00+01:00"), 2.5))

	assert.Equal(t, 2.5, store.AverageAtHour(10))
	assert.Equal(t, int64(1), store.Stats().TotalRecords)
}

func TestRecordPurgesOldSamples(t *testing.T) {
	store := newTestStore(t, 28, 1.0)

	old := mustParseTime("2026-01-01T10:00:00+01:00") // well beyond 28 days before the fixed clock
	require.NoError(t, store.Record(old, 3.0))
	require.NoError(t, store.Record(mustParseTime("2026-03-15T10:00:00+01:00"), 2.0))

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Equal(t, 2.0, store.AverageAtHour(10))
}

func TestAverageFallback(t *testing.T) {
	store := newTestStore(t, 28, 0.75)

	// No samples at all: the configured fallback applies.
	assert.Equal(t, 0.75, store.AverageAtHour(3))

	// The 24h profile uses its own 0.5 kWh default instead.
	profile := store.HourlyProfile()
	assert.Len(t, profile, 24)
	assert.Equal(t, 0.5, profile[3])
}

func TestManualProfileRoundTrip(t *testing.T) {
	store := newTestStore(t, 7, 1.0)

	profile := map[int]float64{}
	for hour := 0; hour < 24; hour++ {
		profile[hour] = 0.1 * float64(hour)
	}

	count, err := store.AddManualProfile(profile)
	require.NoError(t, err)
	assert.Equal(t, 7*24, count)

	// Every hour of every seeded day carries the same value, so the average
	// must reproduce the profile exactly.
	for hour := 0; hour < 24; hour++ {
		assert.InDelta(t, profile[hour], store.AverageAtHour(hour), 1e-9, "hour %d", hour)
	}

	stats := store.Stats()
	assert.Equal(t, int64(7*24), stats.ManualRecords)
	assert.Equal(t, int64(0), stats.LearnedRecords)
	assert.Equal(t, 0.0, stats.LearningProgress)
}

func TestManualNeverOverwritesLearned(t *testing.T) {
	store := newTestStore(t, 7, 1.0)

	// A learned sample for an hour inside the seeding window...
	learnedAt := mustParseTime("2026-03-14T08:00:00+01:00")
	require.NoError(t, store.Record(learnedAt, 3.3))

	// ...survives a subsequent manual baseline seed.
	_, err := store.AddManualProfile(map[int]float64{8: 0.2})
	require.NoError(t, err)

	var row HourlyConsumption
	require.NoError(t, store.db.Where("hour_timestamp = ?", learnedAt).First(&row).Error)
	assert.Equal(t, 3.3, row.KWh)
	assert.False(t, row.IsManual)
}

func TestImportDetailedHistory(t *testing.T) {
	store := newTestStore(t, 28, 1.0)

	flat := func(v float64) []float64 {
		hours := make([]float64, 24)
		for i := range hours {
			hours[i] = v
		}
		return hours
	}

	days := []DayConsumption{
		{Date: "2026-03-10", Hours: flat(1.0)},
		{Date: "11.03.2026", Hours: flat(2.0)},          // German date format
		{Date: "2026-03-12", Hours: flat(1.5)[:23]},     // wrong value count
		{Date: "not-a-date", Hours: flat(1.0)},          // bad date
		{Date: "2026-03-13", Hours: append(flat(1.0)[:23], 99)}, // clamped, not skipped
	}

	result := store.ImportDetailedHistory(days)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 2, result.Skipped)
	assert.False(t, result.Success)

	// Mean across the three imported days; hour 23 of the last day was
	// clamped to 50.
	assert.InDelta(t, (1.0+2.0+1.0)/3, store.AverageAtHour(0), 1e-9)
	assert.InDelta(t, (1.0+2.0+50.0)/3, store.AverageAtHour(23), 1e-9)
}

func TestImportCSV(t *testing.T) {
	store := newTestStore(t, 28, 1.0)

	csv := "datum,wochentag,h0,h1,h2,h3,h4,h5,h6,h7,h8,h9,h10,h11,h12,h13,h14,h15,h16,h17,h18,h19,h20,h21,h22,h23\n" +
		"2026-03-10,Tuesday,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1,1\n" +
		"11.03.2026;Mittwoch;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5;0,5\n" +
		"garbage-line\n"

	result := store.ImportCSV(csv)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.False(t, result.Success)

	assert.InDelta(t, 0.75, store.AverageAtHour(5), 1e-9)
}

func TestCSVExportRoundTrip(t *testing.T) {
	store := newTestStore(t, 28, 1.0)

	_, err := store.AddManualProfile(map[int]float64{
		0: 0.25, 7: 2.0, 12: 1.25, 19: 3.5,
	})
	require.NoError(t, err)

	before := store.HourlyProfile()

	result := store.ImportCSV(store.ExportCSV())
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Imported)

	after := store.HourlyProfile()
	for hour := 0; hour < 24; hour++ {
		assert.InDelta(t, before[hour], after[hour], 1e-3, "hour %d", hour)
	}
}

func TestPredictConsumptionUntil(t *testing.T) {
	store := newTestStore(t, 7, 1.0)

	// Constant 2 kWh per hour across the whole profile.
	profile := map[int]float64{}
	for hour := 0; hour < 24; hour++ {
		profile[hour] = 2.0
	}
	_, err := store.AddManualProfile(profile)
	require.NoError(t, err)

	// Fixed clock is 14:30: half of the current hour (1 kWh) plus the full
	// hours 15..20 (12 kWh).
	assert.InDelta(t, 13.0, store.PredictConsumptionUntil(21), 1e-9)

	// Target equal to the next hour: only the fractional current hour counts.
	assert.InDelta(t, 1.0, store.PredictConsumptionUntil(15), 1e-9)
}

func TestClear(t *testing.T) {
	store := newTestStore(t, 7, 1.0)

	_, err := store.AddManualProfile(map[int]float64{0: 1})
	require.NoError(t, err)
	require.NoError(t, store.Record(mustParseTime("2026-03-15T10:00:00+01:00"), 2.0))

	require.NoError(t, store.ClearManualData())
	stats := store.Stats()
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Equal(t, int64(0), stats.ManualRecords)
	assert.Equal(t, 100.0, stats.LearningProgress)

	require.NoError(t, store.ClearAllData())
	assert.Equal(t, int64(0), store.Stats().TotalRecords)
}

// mustParseTime returns the time.Time associated with the given string or panics.
func mustParseTime(str string) time.Time {
	time, err := time.Parse(time.RFC3339, str)
	if err != nil {
		panic(err)
	}
	return time
}

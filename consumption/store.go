// Package consumption persists hourly household consumption samples in an
// embedded sqlite database and serves the averages and projections the
// planner and the operator surface work from.
package consumption

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/batterymanager/batterymanager/timeutils"
)

const (
	// Samples outside this range are sensor glitches and rejected.
	minSampleKWh = 0.0
	maxSampleKWh = 50.0

	// profileDefaultKWh fills hours that have no samples in the 24h profile
	// and in manual profiles with missing hours.
	profileDefaultKWh = 0.5
	manualDefaultKWh  = 0.2
)

// HourlyConsumption is one stored sample: the consumption of a single hour.
// Manual rows come from operator-seeded baselines and imports; learned rows
// from the consumption sensor.
type HourlyConsumption struct {
	HourTimestamp time.Time `gorm:"primaryKey;column:hour_timestamp"`
	HourOfDay     int       `gorm:"column:hour_of_day;index"`
	KWh           float64   `gorm:"column:consumption_kwh"`
	IsManual      bool      `gorm:"column:is_manual"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (HourlyConsumption) TableName() string {
	return "hourly_consumption"
}

// Store is the single-writer consumption database. Reads see committed state
// only; the retention purge runs after every recorded sample.
type Store struct {
	db           *gorm.DB
	learningDays int
	fallbackKWh  float64
	logger       *slog.Logger

	now func() time.Time
}

// Open opens (or creates) the database at `path`. The parent directory is
// created if missing. `fallbackKWh` is returned by AverageAtHour when an hour
// has no samples at all.
func Open(path string, learningDays int, fallbackKWh float64) (*Store, error) {

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Migrate the schema
	err = db.AutoMigrate(&HourlyConsumption{})
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{
		db:           db,
		learningDays: learningDays,
		fallbackKWh:  fallbackKWh,
		logger:       slog.Default().With("component", "consumption"),
		now:          time.Now,
	}, nil
}

// Record stores a learned sample at the hour containing `ts`, overwriting any
// previous record for that hour, and purges records beyond the retention
// horizon. Samples outside [0,50] kWh are rejected.
func (s *Store) Record(ts time.Time, kWh float64) error {
	if kWh < minSampleKWh || kWh > maxSampleKWh {
		return fmt.Errorf("consumption %0.2f kWh outside valid range [%0.0f,%0.0f]", kWh, minSampleKWh, maxSampleKWh)
	}

	hour := timeutils.FloorHour(ts)
	sample := HourlyConsumption{
		HourTimestamp: hour,
		HourOfDay:     hour.Hour(),
		KWh:           kWh,
		IsManual:      false,
		CreatedAt:     s.now(),
	}

	err := s.db.Save(&sample).Error
	if err != nil {
		return fmt.Errorf("store sample: %w", err)
	}

	return s.purgeOld()
}

// upsertManual writes a manual row, but never over a learned row: real sensor
// data always beats a seeded baseline for the same hour.
func (s *Store) upsertManual(tx *gorm.DB, sample HourlyConsumption) error {
	var existing HourlyConsumption
	err := tx.Where("hour_timestamp = ?", sample.HourTimestamp).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&sample).Error
	case err != nil:
		return err
	case existing.IsManual:
		return tx.Save(&sample).Error
	default:
		// learned row present, keep it
		return nil
	}
}

// AddManualProfile seeds the full retention window (learningDays x 24 rows,
// ending now) from an operator-supplied hour -> kWh baseline. Missing hours
// fall back to 0.2 kWh. Returns the number of rows written.
func (s *Store) AddManualProfile(profile map[int]float64) (int, error) {
	s.logger.Info("Seeding manual consumption baseline", "learning_days", s.learningDays)

	now := s.now()
	start := timeutils.FloorHour(now).AddDate(0, 0, -s.learningDays)

	count := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for day := 0; day < s.learningDays; day++ {
			for hour := 0; hour < 24; hour++ {
				kWh, ok := profile[hour]
				if !ok {
					s.logger.Warn("Hour missing in manual profile, using default", "hour", hour, "default_kwh", manualDefaultKWh)
					kWh = manualDefaultKWh
				}

				date := start.AddDate(0, 0, day)
				ts := time.Date(date.Year(), date.Month(), date.Day(), hour, 0, 0, 0, date.Location())

				err := s.upsertManual(tx, HourlyConsumption{
					HourTimestamp: ts,
					HourOfDay:     hour,
					KWh:           kWh,
					IsManual:      true,
					CreatedAt:     now,
				})
				if err != nil {
					return err
				}
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed manual profile: %w", err)
	}

	return count, nil
}

// AverageAtHour returns the mean consumption across all samples with the
// given hour-of-day, or the configured fallback when no samples exist.
func (s *Store) AverageAtHour(hour int) float64 {
	var result struct {
		Avg   *float64
		Count int64
	}
	err := s.db.Model(&HourlyConsumption{}).
		Select("AVG(consumption_kwh) as avg, COUNT(*) as count").
		Where("hour_of_day = ?", hour).
		Scan(&result).Error
	if err != nil {
		s.logger.Error("Average query failed", "hour", hour, "error", err)
		return s.fallbackKWh
	}

	if result.Count == 0 || result.Avg == nil {
		return s.fallbackKWh
	}
	return *result.Avg
}

// HourlyProfile returns the full 24-hour average consumption profile. Hours
// without samples are filled with 0.5 kWh.
func (s *Store) HourlyProfile() map[int]float64 {
	profile := make(map[int]float64, 24)
	for hour := 0; hour < 24; hour++ {
		profile[hour] = profileDefaultKWh
	}

	var rows []struct {
		HourOfDay int
		Avg       float64
	}
	err := s.db.Model(&HourlyConsumption{}).
		Select("hour_of_day, AVG(consumption_kwh) as avg").
		Group("hour_of_day").
		Scan(&rows).Error
	if err != nil {
		s.logger.Error("Profile query failed", "error", err)
		return profile
	}

	for _, row := range rows {
		if row.HourOfDay >= 0 && row.HourOfDay < 24 {
			profile[row.HourOfDay] = row.Avg
		}
	}
	return profile
}

// PredictConsumptionUntil integrates the hourly averages from now until the
// target hour (exclusive). The current hour contributes only its remaining
// fraction.
func (s *Store) PredictConsumptionUntil(targetHour int) float64 {
	now := s.now()

	remainingFraction := float64(60-now.Minute()) / 60
	total := s.AverageAtHour(now.Hour()) * remainingFraction

	for hour := (now.Hour() + 1) % 24; hour != targetHour; hour = (hour + 1) % 24 {
		total += s.AverageAtHour(hour)
	}

	return total
}

// Statistics summarizes the stored data for the operator surface.
type Statistics struct {
	TotalRecords     int64      `json:"total_records"`
	ManualRecords    int64      `json:"manual_records"`
	LearnedRecords   int64      `json:"learned_records"`
	OldestRecord     *time.Time `json:"oldest_record"`
	NewestRecord     *time.Time `json:"newest_record"`
	LearningProgress float64    `json:"learning_progress"` // percent of records that are learned
}

// Stats returns counts, the manual/learned split and the learning progress.
func (s *Store) Stats() Statistics {
	var stats Statistics

	s.db.Model(&HourlyConsumption{}).Count(&stats.TotalRecords)
	s.db.Model(&HourlyConsumption{}).Where("is_manual = ?", true).Count(&stats.ManualRecords)
	stats.LearnedRecords = stats.TotalRecords - stats.ManualRecords

	if stats.TotalRecords > 0 {
		var oldest, newest HourlyConsumption
		if err := s.db.Order("hour_timestamp asc").First(&oldest).Error; err == nil {
			stats.OldestRecord = &oldest.HourTimestamp
		}
		if err := s.db.Order("hour_timestamp desc").First(&newest).Error; err == nil {
			stats.NewestRecord = &newest.HourTimestamp
		}

		stats.LearningProgress = float64(stats.LearnedRecords) / float64(stats.TotalRecords) * 100
	}

	return stats
}

// ClearManualData removes all operator-seeded rows.
func (s *Store) ClearManualData() error {
	result := s.db.Where("is_manual = ?", true).Delete(&HourlyConsumption{})
	if result.Error != nil {
		return fmt.Errorf("clear manual data: %w", result.Error)
	}
	s.logger.Info("Cleared manual consumption data", "rows", result.RowsAffected)
	return nil
}

// ClearAllData removes every stored sample.
func (s *Store) ClearAllData() error {
	result := s.db.Where("1 = 1").Delete(&HourlyConsumption{})
	if result.Error != nil {
		return fmt.Errorf("clear all data: %w", result.Error)
	}
	s.logger.Info("Cleared all consumption data", "rows", result.RowsAffected)
	return nil
}

// purgeOld drops samples beyond the retention horizon.
func (s *Store) purgeOld() error {
	cutoff := s.now().AddDate(0, 0, -s.learningDays)
	err := s.db.Where("hour_timestamp < ?", cutoff).Delete(&HourlyConsumption{}).Error
	if err != nil {
		return fmt.Errorf("purge old samples: %w", err)
	}
	return nil
}

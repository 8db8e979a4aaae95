package consumption

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DayConsumption is one day of hourly values, as delivered by the detailed
// history upload.
type DayConsumption struct {
	Date  string    `json:"date"` // YYYY-MM-DD or DD.MM.YYYY
	Hours []float64 `json:"hours"`
}

// ImportResult reports how an import went. Success is false as soon as a
// single row had to be skipped.
type ImportResult struct {
	Imported int  `json:"imported"`
	Skipped  int  `json:"skipped"`
	Success  bool `json:"success"`
}

// dateLayouts are the formats accepted for day rows.
var dateLayouts = []string{"2006-01-02", "02.01.2006"}

func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if day, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// ImportDetailedHistory inserts full days of hourly consumption as manual
// data. A day needs exactly 24 values; values outside [0,50] are clamped with
// a warning. Malformed days are skipped, never fatal.
func (s *Store) ImportDetailedHistory(days []DayConsumption) ImportResult {
	result := ImportResult{Success: true}
	now := s.now()

	for _, dayRow := range days {
		day, err := parseDay(dayRow.Date)
		if err != nil {
			s.logger.Warn("Skipping history row", "error", err)
			result.Skipped++
			result.Success = false
			continue
		}
		if len(dayRow.Hours) != 24 {
			s.logger.Warn("Skipping history row without 24 hourly values", "date", dayRow.Date, "values", len(dayRow.Hours))
			result.Skipped++
			result.Success = false
			continue
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			for hour, kWh := range dayRow.Hours {
				if kWh < minSampleKWh || kWh > maxSampleKWh {
					s.logger.Warn("Clamping out-of-range consumption value", "date", dayRow.Date, "hour", hour, "kwh", kWh)
					kWh = clamp(kWh, minSampleKWh, maxSampleKWh)
				}

				ts := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
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
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("Failed to store history row", "date", dayRow.Date, "error", err)
			result.Skipped++
			result.Success = false
			continue
		}

		result.Imported++
	}

	return result
}

// ImportCSV parses a consumption history upload. The parser is deliberately
// tolerant: comma or semicolon delimiters, dot or comma decimal separators,
// dates as YYYY-MM-DD or DD.MM.YYYY, an optional `datum,wochentag,h0..h23`
// header and an optional weekday column. Row-level failures are counted but
// do not abort the import.
func (s *Store) ImportCSV(text string) ImportResult {
	var days []DayConsumption
	malformed := 0

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}

		delimiter := ","
		if strings.Contains(line, ";") {
			delimiter = ";"
		}
		fields := strings.Split(line, delimiter)

		if isCSVHeader(fields) {
			continue
		}

		day, err := parseCSVRow(fields, delimiter)
		if err != nil {
			s.logger.Warn("Skipping CSV row", "error", err)
			malformed++
			continue
		}
		days = append(days, day)
	}

	result := s.ImportDetailedHistory(days)
	result.Skipped += malformed
	if malformed > 0 {
		result.Success = false
	}
	return result
}

func isCSVHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "datum")
}

// parseCSVRow turns one data line into a day of hourly values. Accepted field
// counts are 25 (date + 24 values) and 26 (date + weekday + 24 values).
func parseCSVRow(fields []string, delimiter string) (DayConsumption, error) {
	var valueFields []string
	switch len(fields) {
	case 25:
		valueFields = fields[1:]
	case 26:
		valueFields = fields[2:]
	default:
		return DayConsumption{}, fmt.Errorf("row has %d fields, expected 25 or 26", len(fields))
	}

	hours := make([]float64, 0, 24)
	for i, field := range valueFields {
		raw := strings.TrimSpace(field)
		// With a semicolon delimiter the values may use German decimal commas.
		if delimiter == ";" {
			raw = strings.ReplaceAll(raw, ",", ".")
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return DayConsumption{}, fmt.Errorf("hour %d: parse %q: %w", i, field, err)
		}
		hours = append(hours, v)
	}

	return DayConsumption{Date: strings.TrimSpace(fields[0]), Hours: hours}, nil
}

// ExportCSV renders the current 24-hour profile as a single-day CSV that
// round-trips through ImportCSV.
func (s *Store) ExportCSV() string {
	profile := s.HourlyProfile()
	day := s.now()

	var b strings.Builder
	b.WriteString("datum,wochentag")
	for hour := 0; hour < 24; hour++ {
		fmt.Fprintf(&b, ",h%d", hour)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s,%s", day.Format("2006-01-02"), day.Weekday().String())
	for hour := 0; hour < 24; hour++ {
		fmt.Fprintf(&b, ",%.3f", profile[hour])
	}
	b.WriteString("\n")

	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package timeutils

import "time"

// FloorHour returns the given `t` rounded down to the nearest full hour boundary
func FloorHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

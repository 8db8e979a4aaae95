package timeutils

import "time"

// HHMM renders a time as "HH:MM" in its own location, the format used by the
// operator-facing plan and status output.
func HHMM(t time.Time) string {
	return t.Format("15:04")
}

// HHMMOrNil renders a nullable time as "HH:MM", or nil when absent, so that
// JSON encoding produces `null` for a missing plan boundary.
func HHMMOrNil(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := HHMM(*t)
	return &s
}

// Package optimizer picks the moment at which grid charging should end, based
// on the day-ahead price curve, and back-computes when charging has to start.
package optimizer

import (
	"log/slog"
	"time"

	"github.com/batterymanager/batterymanager/telemetry"
)

// minSamples is the smallest price curve the window search can work on:
// two hours of history, the candidate hour, and two hours of lookahead.
const minSamples = 6

// FindOptimalChargeEnd locates the earliest future hour at which charging
// should cease because the price curve ramps up. Returns nil when the curve
// never rises sharply enough.
//
// A candidate hour i qualifies when both hold:
//   - the price jumps by more than `threshold1h` over the previous hour, and
//   - the upcoming three-hour block is more expensive than the previous
//     three-hour block by more than `threshold3h`.
func FindOptimalChargeEnd(prices []telemetry.PriceSample, now time.Time, threshold1h, threshold3h float64) *time.Time {

	if len(prices) < minSamples {
		slog.Warn("Not enough price data for optimization", "samples", len(prices))
		return nil
	}

	// Scan from index 3 (two hours of history are needed) up to the last
	// index that still has two hours of lookahead.
	for i := 3; i < len(prices)-2; i++ {
		startsAt := prices[i].StartsAt
		if !startsAt.After(now) {
			continue
		}

		current := prices[i].Total
		hourAgo := prices[i-1].Total
		twoHoursAgo := prices[i-2].Total
		hourAhead := prices[i+1].Total
		twoHoursAhead := prices[i+2].Total

		sumPast := current + hourAgo + twoHoursAgo
		sumFuture := current + hourAhead + twoHoursAhead

		sharpRise := current > hourAgo*(1+threshold1h)
		blockMoreExpensive := sumPast < sumFuture*(1+threshold3h)

		if sharpRise && blockMoreExpensive {
			slog.Info(
				"Found optimal charge end time",
				"starts_at", startsAt,
				"price", current,
				"price_1h_ago", hourAgo,
				"sum_3h_past", sumPast,
				"sum_3h_future", sumFuture,
			)
			return &startsAt
		}
	}

	slog.Info("No optimal charge end time found, prices stay low")
	return nil
}

package executor

import (
	"time"

	"github.com/ksred/autopilot/internal/types"
)

// defaultCustomInterval applies when a custom-frequency order carries no
// interval of its own.
const defaultCustomInterval = 24 * time.Hour

// NextRunTime computes when an order should run again after a successful
// execution at from. The result is always after from, which keeps next run
// times monotonically non-decreasing across successful runs.
func NextRunTime(order *types.StandingOrder, from time.Time) time.Time {
	switch order.Frequency {
	case types.FrequencyHourly:
		return from.Add(time.Hour)
	case types.FrequencyDaily:
		return from.Add(24 * time.Hour)
	case types.FrequencyWeekly:
		return from.Add(7 * 24 * time.Hour)
	case types.FrequencyMonthly:
		return addMonthClamped(from)
	case types.FrequencyCustom:
		interval := time.Duration(order.CustomIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = defaultCustomInterval
		}
		return from.Add(interval)
	default:
		return from.Add(24 * time.Hour)
	}
}

// addMonthClamped advances to the same day next month, clamping to the last
// day when the next month is shorter. A Jan 31 order runs Feb 28 (or 29), then
// Mar 28 from there on; clamping never rolls an execution into the month after
// the intended one.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()

	// Day 0 of month+2 is the last day of month+1.
	lastDay := time.Date(year, month+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}

	return time.Date(year, month+1, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

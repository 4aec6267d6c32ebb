// Package schedule defines the fixed time grid that locks and epochs live
// on. Lock expiries and tally epochs always sit on whole period boundaries.
package schedule

import (
	"errors"
	"fmt"
)

// WeekSeconds is the default period width.
const WeekSeconds uint64 = 7 * 24 * 60 * 60

var ErrDurationOutOfRange = errors.New("lock duration out of range")

// Grid converts between unix timestamps, periods and epochs. Periods and
// epochs share the same width; an epoch is addressed by the period it
// starts on.
type Grid struct {
	// PeriodSeconds is the width of one period in seconds.
	PeriodSeconds uint64
	// MinLockPeriods is the minimum lock duration, in whole periods.
	MinLockPeriods uint64
	// MaxLockPeriods is the maximum lock duration, in whole periods.
	MaxLockPeriods uint64
}

// DefaultGrid returns the production grid: weekly periods, locks between
// one week and two years.
func DefaultGrid() Grid {
	return Grid{
		PeriodSeconds:  WeekSeconds,
		MinLockPeriods: 1,
		MaxLockPeriods: 104,
	}
}

// Period returns the period containing ts.
func (g Grid) Period(ts uint64) uint64 {
	return ts / g.PeriodSeconds
}

// PeriodStart returns the first timestamp of the given period.
func (g Grid) PeriodStart(period uint64) uint64 {
	return period * g.PeriodSeconds
}

// LockEnd returns the period a lock created at ts with the given duration
// (seconds) expires on. The end is rounded up to the next boundary so the
// lock never undershoots the requested duration.
func (g Grid) LockEnd(ts, duration uint64) uint64 {
	end := ts + duration
	period := end / g.PeriodSeconds
	if end%g.PeriodSeconds != 0 {
		period++
	}
	return period
}

// ValidateDuration checks a lock duration in seconds against the grid
// limits.
func (g Grid) ValidateDuration(duration uint64) error {
	min := g.MinLockPeriods * g.PeriodSeconds
	max := g.MaxLockPeriods * g.PeriodSeconds
	if duration < min || duration > max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrDurationOutOfRange, duration, min, max)
	}
	return nil
}

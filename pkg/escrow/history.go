package escrow

import (
	"fmt"
	"sort"
)

// History is an append-only, monotonically ordered sequence of decay
// segments keyed by period. One instance exists per user plus one for the
// global aggregate; both share this implementation. Entries are never
// mutated or deleted, so historical queries stay stable forever.
//
// The type is generic over the segment type so the same point-in-time
// search serves any decay representation.
type History[T any] struct {
	periods []uint64
	points  []T
}

// NewHistory returns an empty history.
func NewHistory[T any]() *History[T] {
	return &History[T]{}
}

// Append records a checkpoint at the given period. Re-checkpointing the
// latest period replaces that entry (several mutations can land in one
// period); appending before the latest period is an ordering violation.
func (h *History[T]) Append(period uint64, point T) error {
	n := len(h.periods)
	if n > 0 {
		last := h.periods[n-1]
		if period < last {
			return fmt.Errorf("history: checkpoint at period %d precedes latest %d", period, last)
		}
		if period == last {
			h.points[n-1] = point
			return nil
		}
	}
	h.periods = append(h.periods, period)
	h.points = append(h.points, point)
	return nil
}

// LatestAt returns the latest checkpoint at or before the given period.
func (h *History[T]) LatestAt(period uint64) (T, bool) {
	var zero T
	// first index with periods[i] > period
	i := sort.Search(len(h.periods), func(i int) bool { return h.periods[i] > period })
	if i == 0 {
		return zero, false
	}
	return h.points[i-1], true
}

// Latest returns the most recent checkpoint and its period.
func (h *History[T]) Latest() (uint64, T, bool) {
	var zero T
	n := len(h.periods)
	if n == 0 {
		return 0, zero, false
	}
	return h.periods[n-1], h.points[n-1], true
}

// FirstPeriod returns the period of the first checkpoint.
func (h *History[T]) FirstPeriod() (uint64, bool) {
	if len(h.periods) == 0 {
		return 0, false
	}
	return h.periods[0], true
}

// Len returns the number of checkpoints.
func (h *History[T]) Len() int {
	return len(h.periods)
}

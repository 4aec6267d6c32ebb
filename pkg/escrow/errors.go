package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDuration is returned when a lock duration falls outside
	// the configured grid limits.
	ErrInvalidDuration = errors.New("invalid lock duration")
	// ErrLockExists is returned by CreateLock when the user already has a
	// lock, expired or not. An expired lock must be withdrawn first.
	ErrLockExists = errors.New("lock already exists")
	// ErrZeroAmount is returned when a lock mutation carries no tokens.
	ErrZeroAmount = errors.New("amount must be positive")
	// ErrAmountOverflow is returned when a deposit would push the locked
	// amount past the uint64 range.
	ErrAmountOverflow = errors.New("amount overflows locked balance")
	// ErrNoLock is returned when the user has no lock.
	ErrNoLock = errors.New("lock does not exist")
	// ErrLockExpired is returned by deposit/extend on an expired lock.
	ErrLockExpired = errors.New("lock expired")
	// ErrLockNotExpired is returned by Withdraw before expiry.
	ErrLockNotExpired = errors.New("lock has not expired")
	// ErrFutureTimestamp is returned for queries beyond the current
	// period.
	ErrFutureTimestamp = errors.New("timestamp is beyond the current period")
	// ErrBlacklisted is returned when a blacklisted user attempts a lock
	// mutation.
	ErrBlacklisted = errors.New("user is blacklisted")
	// ErrEmptyBlacklistUpdate is returned when a blacklist update changes
	// nothing.
	ErrEmptyBlacklistUpdate = errors.New("blacklist update is empty")

	// ErrCatchUpIncomplete signals that catch-up hit its per-call
	// processing cap; the caller must re-invoke to make further progress.
	// Matched with errors.Is against CatchUpIncompleteError values.
	ErrCatchUpIncomplete = errors.New("catch-up incomplete")
)

// CatchUpIncompleteError reports how far a capped catch-up got. Settled is
// the last boundary folded into the global history, Target the requested
// one.
type CatchUpIncompleteError struct {
	Settled uint64
	Target  uint64
}

func (e *CatchUpIncompleteError) Error() string {
	return fmt.Sprintf("catch-up incomplete: settled through period %d of %d", e.Settled, e.Target)
}

// Is makes the error match ErrCatchUpIncomplete.
func (e *CatchUpIncompleteError) Is(target error) bool {
	return target == ErrCatchUpIncomplete
}

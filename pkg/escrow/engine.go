package escrow

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/pkg/events"
	"github.com/vortex-dex/gaugex/pkg/schedule"
)

// Engine is the voting-escrow state machine. It owns the per-user and
// global checkpoint histories and the scheduled-slope-change table, and is
// the sole writer of all three.
//
// The engine never reads the wall clock: every operation takes the current
// time from the caller, so the host environment stays in control of time.
// It is not safe for concurrent use; the service layer serializes calls.
type Engine struct {
	grid         schedule.Grid
	catchUpLimit int

	locks   map[string]Lock
	history map[string]*History[Point]
	global  *History[Point]

	// slopeChanges maps a future period boundary to the total slope that
	// stops contributing at that boundary (locks expiring there).
	slopeChanges    map[uint64]decimal.Decimal
	lastSlopeChange uint64

	blacklist map[string]struct{}

	sink   events.Sink
	logger *zap.Logger
}

// NewEngine creates an engine anchored at the given current time. The
// global history is seeded with a zero checkpoint at the current period,
// like the contract's instantiate step.
func NewEngine(grid schedule.Grid, catchUpLimit int, now uint64, sink events.Sink, logger *zap.Logger) *Engine {
	e := &Engine{
		grid:         grid,
		catchUpLimit: catchUpLimit,
		locks:        make(map[string]Lock),
		history:      make(map[string]*History[Point]),
		global:       NewHistory[Point](),
		slopeChanges: make(map[uint64]decimal.Decimal),
		blacklist:    make(map[string]struct{}),
		sink:         sink,
		logger:       logger,
	}
	cur := grid.Period(now)
	_ = e.global.Append(cur, Point{Power: decimal.Zero, Slope: decimal.Zero, Start: cur})
	e.lastSlopeChange = cur
	return e
}

// Grid returns the period grid the engine runs on.
func (e *Engine) Grid() schedule.Grid {
	return e.grid
}

// votingPower is the redesigned decay coefficient: a lock of dt remaining
// periods is worth amount*dt/maxLockPeriods, so a full-duration lock
// starts at exactly its amount and decays linearly to zero.
func (e *Engine) votingPower(amount, dt uint64) decimal.Decimal {
	return decimal.NewFromUint64(amount).
		Mul(decimal.NewFromUint64(dt)).
		Div(decimal.NewFromUint64(e.grid.MaxLockPeriods))
}

func (e *Engine) userHistory(user string) *History[Point] {
	h, ok := e.history[user]
	if !ok {
		h = NewHistory[Point]()
		e.history[user] = h
	}
	return h
}

// scheduleSlopeChange registers slope to be removed from the global
// aggregate when the boundary is reached.
func (e *Engine) scheduleSlopeChange(slope decimal.Decimal, end uint64) {
	if slope.IsZero() || end <= e.lastSlopeChange {
		return
	}
	e.slopeChanges[end] = e.slopeChanges[end].Add(slope)
}

// cancelScheduledSlope removes a previously scheduled change that has not
// been consumed yet.
func (e *Engine) cancelScheduledSlope(slope decimal.Decimal, end uint64) {
	if slope.IsZero() || end <= e.lastSlopeChange {
		return
	}
	left := e.slopeChanges[end].Sub(slope)
	if left.IsPositive() {
		e.slopeChanges[end] = left
	} else {
		delete(e.slopeChanges, end)
	}
}

// settleTo folds scheduled slope changes with boundary <= target into the
// global history, one checkpoint per pending boundary, in ascending order.
// limit caps the number of boundaries folded per call; 0 means unbounded
// (lock mutations must always complete). Returns how many boundaries were
// folded.
func (e *Engine) settleTo(target uint64, limit int) (int, error) {
	if target <= e.lastSlopeChange {
		return 0, nil
	}

	var pending []uint64
	for p := range e.slopeChanges {
		if p > e.lastSlopeChange && p <= target {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	_, point, _ := e.global.Latest()
	processed := 0
	for _, p := range pending {
		if limit > 0 && processed >= limit {
			err := &CatchUpIncompleteError{Settled: e.lastSlopeChange, Target: target}
			e.logger.Debug("Catch-up cap hit",
				zap.Uint64("settled", e.lastSlopeChange),
				zap.Uint64("target", target),
				zap.Int("processed", processed))
			return processed, err
		}
		slope := point.Slope.Sub(e.slopeChanges[p])
		if slope.IsNegative() {
			slope = decimal.Zero
		}
		point = Point{Power: point.PowerAt(p), Slope: slope, Start: p}
		if err := e.global.Append(p, point); err != nil {
			return processed, err
		}
		delete(e.slopeChanges, p)
		e.lastSlopeChange = p
		processed++
	}
	e.lastSlopeChange = target
	return processed, nil
}

// checkpointTotal applies a delta to the global aggregate at the current
// period, folding any pending boundaries first.
func (e *Engine) checkpointTotal(cur uint64, add, reduce, oldSlope, newSlope decimal.Decimal) error {
	if _, err := e.settleTo(cur, 0); err != nil {
		return err
	}
	_, point, _ := e.global.Latest()
	power := point.PowerAt(cur).Add(add).Sub(reduce)
	if power.IsNegative() {
		power = decimal.Zero
	}
	slope := point.Slope.Sub(oldSlope).Add(newSlope)
	if slope.IsNegative() {
		slope = decimal.Zero
	}
	return e.global.Append(cur, Point{Power: power, Slope: slope, Start: cur})
}

// checkpoint recomputes the user's decay segment after a lock mutation and
// propagates the delta into the global aggregate. addAmount carries newly
// deposited tokens; newEnd, when non-nil, the lock's new expiry period.
func (e *Engine) checkpoint(user string, addAmount uint64, newEnd *uint64, cur uint64) error {
	h := e.userHistory(user)
	oldSlope := decimal.Zero
	addPower := decimal.Zero

	var newPoint Point
	if _, point, ok := h.Latest(); ok {
		end := point.End
		if newEnd != nil {
			end = *newEnd
		}
		var dt uint64
		if end > cur {
			dt = end - cur
		}
		current := point.PowerAt(cur)
		newSlope := decimal.Zero
		if dt != 0 {
			dtDec := decimal.NewFromUint64(dt)
			if end > point.End && addAmount == 0 {
				// lock time extension: recompute from the full amount
				lock := e.locks[user]
				newPower := e.votingPower(lock.Amount, dt)
				addPower = newPower.Sub(current)
				if addPower.IsNegative() {
					addPower = decimal.Zero
				}
				newSlope = newPower.Div(dtDec)
				lock.Start = cur
				e.locks[user] = lock
			} else {
				// deposit, or re-checkpoint after a withdrawal/unblacklist
				addPower = e.votingPower(addAmount, dt)
				newSlope = current.Add(addPower).Div(dtDec)
			}
		}

		e.cancelScheduledSlope(point.Slope, point.End)
		oldSlope = point.Slope

		newPoint = Point{Power: current.Add(addPower), Slope: newSlope, Start: cur, End: end}
	} else {
		if newEnd == nil {
			return fmt.Errorf("checkpoint initialization for %s requires an end period", user)
		}
		end := *newEnd
		dt := end - cur
		addPower = e.votingPower(addAmount, dt)
		newPoint = Point{
			Power: addPower,
			Slope: addPower.Div(decimal.NewFromUint64(dt)),
			Start: cur,
			End:   end,
		}
	}

	e.scheduleSlopeChange(newPoint.Slope, newPoint.End)
	if err := h.Append(cur, newPoint); err != nil {
		return err
	}
	return e.checkpointTotal(cur, addPower, decimal.Zero, oldSlope, newPoint.Slope)
}

// CreateLock locks amount tokens for the given duration (seconds). The
// expiry is rounded up to the next period boundary, clamped so the
// remaining duration never exceeds the grid maximum.
func (e *Engine) CreateLock(user string, amount, duration, now uint64) error {
	if _, banned := e.blacklist[user]; banned {
		return fmt.Errorf("create lock for %s: %w", user, ErrBlacklisted)
	}
	if amount == 0 {
		return fmt.Errorf("create lock for %s: %w", user, ErrZeroAmount)
	}
	if err := e.grid.ValidateDuration(duration); err != nil {
		return fmt.Errorf("create lock for %s: %w: %v", user, ErrInvalidDuration, err)
	}
	if _, ok := e.locks[user]; ok {
		return fmt.Errorf("create lock for %s: %w", user, ErrLockExists)
	}

	cur := e.grid.Period(now)
	end := e.grid.LockEnd(now, duration)
	if end-cur > e.grid.MaxLockPeriods {
		end = cur + e.grid.MaxLockPeriods
	}

	e.locks[user] = Lock{Amount: amount, Start: cur, End: end, LastUpdate: cur}
	if err := e.checkpoint(user, amount, &end, cur); err != nil {
		return fmt.Errorf("create lock for %s: %w", user, err)
	}

	e.logger.Debug("Lock created",
		zap.String("user", user),
		zap.Uint64("amount", amount),
		zap.Uint64("end_period", end))
	e.sink.Publish(events.Event{
		Kind:      events.KindCreateLock,
		User:      user,
		Amount:    amount,
		NewEnd:    e.grid.PeriodStart(end),
		Timestamp: now,
	})
	return nil
}

// DepositFor adds amount tokens to an existing active lock.
func (e *Engine) DepositFor(user string, amount, now uint64) error {
	if _, banned := e.blacklist[user]; banned {
		return fmt.Errorf("deposit for %s: %w", user, ErrBlacklisted)
	}
	if amount == 0 {
		return fmt.Errorf("deposit for %s: %w", user, ErrZeroAmount)
	}
	lock, ok := e.locks[user]
	if !ok {
		return fmt.Errorf("deposit for %s: %w", user, ErrNoLock)
	}
	cur := e.grid.Period(now)
	if lock.End <= cur {
		return fmt.Errorf("deposit for %s: %w", user, ErrLockExpired)
	}
	if lock.Amount > math.MaxUint64-amount {
		return fmt.Errorf("deposit for %s: %w", user, ErrAmountOverflow)
	}

	lock.Amount += amount
	lock.LastUpdate = cur
	e.locks[user] = lock
	if err := e.checkpoint(user, amount, nil, cur); err != nil {
		return fmt.Errorf("deposit for %s: %w", user, err)
	}

	e.logger.Debug("Lock topped up",
		zap.String("user", user),
		zap.Uint64("amount", amount),
		zap.Uint64("total", lock.Amount))
	e.sink.Publish(events.Event{
		Kind:      events.KindDeposit,
		User:      user,
		Amount:    amount,
		NewEnd:    e.grid.PeriodStart(lock.End),
		Timestamp: now,
	})
	return nil
}

// ExtendLock pushes the lock's expiry further out by extra seconds
// (rounded up to whole periods, added to the current end). The remaining
// duration must stay within the grid limits.
func (e *Engine) ExtendLock(user string, extra, now uint64) error {
	if _, banned := e.blacklist[user]; banned {
		return fmt.Errorf("extend lock for %s: %w", user, ErrBlacklisted)
	}
	lock, ok := e.locks[user]
	if !ok {
		return fmt.Errorf("extend lock for %s: %w", user, ErrNoLock)
	}
	cur := e.grid.Period(now)
	if lock.End <= cur {
		return fmt.Errorf("extend lock for %s: %w", user, ErrLockExpired)
	}
	if err := e.grid.ValidateDuration(extra); err != nil {
		return fmt.Errorf("extend lock for %s: %w: %v", user, ErrInvalidDuration, err)
	}

	extraPeriods := extra / e.grid.PeriodSeconds
	if extra%e.grid.PeriodSeconds != 0 {
		extraPeriods++
	}
	newEnd := lock.End + extraPeriods
	if newEnd-cur > e.grid.MaxLockPeriods {
		return fmt.Errorf("extend lock for %s: %w: remaining duration %d periods exceeds %d",
			user, ErrInvalidDuration, newEnd-cur, e.grid.MaxLockPeriods)
	}

	lock.End = newEnd
	lock.LastUpdate = cur
	e.locks[user] = lock
	if err := e.checkpoint(user, 0, &newEnd, cur); err != nil {
		return fmt.Errorf("extend lock for %s: %w", user, err)
	}

	e.logger.Debug("Lock extended",
		zap.String("user", user),
		zap.Uint64("end_period", newEnd))
	e.sink.Publish(events.Event{
		Kind:      events.KindExtendLock,
		User:      user,
		Amount:    lock.Amount,
		NewEnd:    e.grid.PeriodStart(newEnd),
		Timestamp: now,
	})
	return nil
}

// Withdraw releases an expired lock and returns the amount for the
// token-custody collaborator to pay out. A terminal zero checkpoint is
// appended so a future lock starts from a clean segment; the global
// aggregate is untouched because the scheduled slope change at expiry
// already removed this lock's contribution.
func (e *Engine) Withdraw(user string, now uint64) (uint64, error) {
	lock, ok := e.locks[user]
	if !ok {
		return 0, fmt.Errorf("withdraw for %s: %w", user, ErrNoLock)
	}
	cur := e.grid.Period(now)
	if lock.End > cur {
		return 0, fmt.Errorf("withdraw for %s: %w", user, ErrLockNotExpired)
	}

	delete(e.locks, user)
	h := e.userHistory(user)
	if err := h.Append(cur, Point{Power: decimal.Zero, Slope: decimal.Zero, Start: cur, End: cur}); err != nil {
		return 0, fmt.Errorf("withdraw for %s: %w", user, err)
	}

	e.logger.Debug("Lock withdrawn",
		zap.String("user", user),
		zap.Uint64("amount", lock.Amount))
	e.sink.Publish(events.Event{
		Kind:      events.KindWithdraw,
		User:      user,
		Amount:    lock.Amount,
		Timestamp: now,
	})
	return lock.Amount, nil
}

// validateQueryTime rejects timestamps beyond the current period. Anywhere
// inside the current period is well-defined on the grid; further out the
// schedule could still change.
func (e *Engine) validateQueryTime(ts, now uint64) error {
	if e.grid.Period(ts) > e.grid.Period(now) {
		return fmt.Errorf("query at %d with current time %d: %w", ts, now, ErrFutureTimestamp)
	}
	return nil
}

// VotingPowerAt returns the user's voting power at ts. Zero before the
// user's first checkpoint and after lock expiry.
func (e *Engine) VotingPowerAt(user string, ts, now uint64) (decimal.Decimal, error) {
	if err := e.validateQueryTime(ts, now); err != nil {
		return decimal.Zero, err
	}
	h, ok := e.history[user]
	if !ok {
		return decimal.Zero, nil
	}
	point, ok := h.LatestAt(e.grid.Period(ts))
	if !ok {
		return decimal.Zero, nil
	}
	return point.PowerAt(e.grid.Period(ts)), nil
}

// CatchUp folds pending scheduled slope changes up to ts into the global
// history, at most catchUpLimit boundaries per call. Returns the number of
// boundaries folded; an ErrCatchUpIncomplete-matching error means another
// call is needed.
func (e *Engine) CatchUp(ts, now uint64) (int, error) {
	if err := e.validateQueryTime(ts, now); err != nil {
		return 0, err
	}
	return e.settleTo(e.grid.Period(ts), e.catchUpLimit)
}

// TotalVotingPowerAt returns the aggregate voting power at ts, settling
// pending slope changes first. Propagates ErrCatchUpIncomplete when the
// per-call cap is hit.
func (e *Engine) TotalVotingPowerAt(ts, now uint64) (decimal.Decimal, error) {
	if _, err := e.CatchUp(ts, now); err != nil {
		return decimal.Zero, err
	}
	point, ok := e.global.LatestAt(e.grid.Period(ts))
	if !ok {
		return decimal.Zero, nil
	}
	return point.PowerAt(e.grid.Period(ts)), nil
}

// LockInfo returns a copy of the user's lock.
func (e *Engine) LockInfo(user string) (Lock, error) {
	lock, ok := e.locks[user]
	if !ok {
		return Lock{}, fmt.Errorf("lock info for %s: %w", user, ErrNoLock)
	}
	return lock, nil
}

// IsBlacklisted reports whether the user is blacklisted.
func (e *Engine) IsBlacklisted(user string) bool {
	_, banned := e.blacklist[user]
	return banned
}

// Blacklist zeroes the given users' voting power and removes their
// contribution from the global aggregate. Their locks stay in place and
// resume contributing if they are unblacklisted before expiry.
func (e *Engine) Blacklist(users []string, now uint64) error {
	cur := e.grid.Period(now)
	added := 0
	reduce := decimal.Zero
	oldSlopes := decimal.Zero

	for _, user := range users {
		if _, banned := e.blacklist[user]; banned {
			continue
		}
		e.blacklist[user] = struct{}{}
		added++

		h, ok := e.history[user]
		if !ok {
			continue
		}
		_, point, ok := h.Latest()
		if !ok {
			continue
		}
		if err := h.Append(cur, Point{Power: decimal.Zero, Slope: decimal.Zero, Start: cur, End: cur}); err != nil {
			return fmt.Errorf("blacklist %s: %w", user, err)
		}

		power := point.PowerAt(cur)
		if power.IsZero() {
			continue
		}
		reduce = reduce.Add(power)
		oldSlopes = oldSlopes.Add(point.Slope)
		e.cancelScheduledSlope(point.Slope, point.End)

		e.sink.Publish(events.Event{Kind: events.KindBlacklist, User: user, Timestamp: now})
	}

	if added == 0 {
		return ErrEmptyBlacklistUpdate
	}
	if !reduce.IsZero() || !oldSlopes.IsZero() {
		if err := e.checkpointTotal(cur, decimal.Zero, reduce, oldSlopes, decimal.Zero); err != nil {
			return fmt.Errorf("blacklist: %w", err)
		}
	}
	e.logger.Info("Blacklist updated", zap.Int("added", added))
	return nil
}

// Unblacklist restores the given users. Surviving locks are
// re-checkpointed so their remaining decay contributes again.
func (e *Engine) Unblacklist(users []string, now uint64) error {
	cur := e.grid.Period(now)
	removed := 0

	for _, user := range users {
		if _, banned := e.blacklist[user]; !banned {
			continue
		}
		delete(e.blacklist, user)
		removed++

		lock, ok := e.locks[user]
		if !ok || lock.End <= cur {
			continue
		}
		end := lock.End
		if err := e.checkpoint(user, lock.Amount, &end, cur); err != nil {
			return fmt.Errorf("unblacklist %s: %w", user, err)
		}

		e.sink.Publish(events.Event{Kind: events.KindUnblacklist, User: user, Timestamp: now})
	}

	if removed == 0 {
		return ErrEmptyBlacklistUpdate
	}
	e.logger.Info("Blacklist updated", zap.Int("removed", removed))
	return nil
}

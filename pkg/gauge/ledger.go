// Package gauge implements the generator-controller side of governance:
// a per-user gauge vote ledger and the once-per-epoch tally that converts
// raw votes into normalized, rate-limited pool weights.
package gauge

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/pkg/events"
	"github.com/vortex-dex/gaugex/pkg/schedule"
)

// PowerSource is the escrow engine surface the gauge subsystem reads.
type PowerSource interface {
	VotingPowerAt(user string, ts, now uint64) (decimal.Decimal, error)
	CatchUp(ts, now uint64) (int, error)
}

// Config holds the vote and tally limits, fixed at initialization.
type Config struct {
	MaxGaugesPerUser int
	CooldownPeriods  uint64
	// MaxWeightDelta caps how far a gauge's settled weight may move per
	// epoch, in absolute weight.
	MaxWeightDelta decimal.Decimal
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxGaugesPerUser: 5,
		CooldownPeriods:  1,
		MaxWeightDelta:   decimal.NewFromFloat(0.2),
	}
}

// Allocation assigns a fraction of a user's voting power to one gauge.
type Allocation struct {
	GaugeID  string          `json:"gauge_id"`
	Fraction decimal.Decimal `json:"fraction"`
}

type vote struct {
	allocs     []Allocation
	castPeriod uint64
}

// Ledger tracks registered gauges and per-user allocation sets. Raw
// allocations are only readable inside this package: the tally consumes
// them, the HTTP layer never serves pending votes, so tally outcomes
// cannot be front-run.
//
// Not safe for concurrent use; the service layer serializes calls.
type Ledger struct {
	cfg    Config
	grid   schedule.Grid
	power  PowerSource
	gauges map[string]struct{}
	votes  map[string]*vote
	sink   events.Sink
	logger *zap.Logger
}

// NewLedger creates an empty vote ledger.
func NewLedger(cfg Config, grid schedule.Grid, power PowerSource, sink events.Sink, logger *zap.Logger) *Ledger {
	return &Ledger{
		cfg:    cfg,
		grid:   grid,
		power:  power,
		gauges: make(map[string]struct{}),
		votes:  make(map[string]*vote),
		sink:   sink,
		logger: logger,
	}
}

// RegisterGauge adds a gauge (liquidity pool) to the registry.
func (l *Ledger) RegisterGauge(gaugeID string, now uint64) error {
	if _, ok := l.gauges[gaugeID]; ok {
		return fmt.Errorf("register gauge %s: %w", gaugeID, ErrGaugeExists)
	}
	l.gauges[gaugeID] = struct{}{}
	l.logger.Info("Gauge registered", zap.String("gauge_id", gaugeID))
	l.sink.Publish(events.Event{Kind: events.KindGaugeAdded, GaugeID: gaugeID, Timestamp: now})
	return nil
}

// DeregisterGauge removes a gauge. Allocations still referencing it go
// stale; the tally skips them with a warning.
func (l *Ledger) DeregisterGauge(gaugeID string, now uint64) error {
	if _, ok := l.gauges[gaugeID]; !ok {
		return fmt.Errorf("deregister gauge %s: %w", gaugeID, ErrUnknownGauge)
	}
	delete(l.gauges, gaugeID)
	l.logger.Info("Gauge deregistered", zap.String("gauge_id", gaugeID))
	l.sink.Publish(events.Event{Kind: events.KindGaugeRemove, GaugeID: gaugeID, Timestamp: now})
	return nil
}

// Gauges returns the registered gauge ids, sorted.
func (l *Ledger) Gauges() []string {
	out := make([]string, 0, len(l.gauges))
	for id := range l.gauges {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) registered(gaugeID string) bool {
	_, ok := l.gauges[gaugeID]
	return ok
}

func (l *Ledger) validateAllocations(allocs []Allocation) error {
	if len(allocs) > l.cfg.MaxGaugesPerUser {
		return fmt.Errorf("%w: %d gauges, limit %d", ErrTooManyGauges, len(allocs), l.cfg.MaxGaugesPerUser)
	}
	seen := make(map[string]struct{}, len(allocs))
	sum := decimal.Zero
	for _, a := range allocs {
		if _, dup := seen[a.GaugeID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateGauge, a.GaugeID)
		}
		seen[a.GaugeID] = struct{}{}
		if !l.registered(a.GaugeID) {
			return fmt.Errorf("%w: %s", ErrUnknownGauge, a.GaugeID)
		}
		if !a.Fraction.IsPositive() || a.Fraction.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: gauge %s fraction %s", ErrFractionOutOfRange, a.GaugeID, a.Fraction)
		}
		sum = sum.Add(a.Fraction)
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: fractions sum to %s", ErrFractionOutOfRange, sum)
	}
	return nil
}

// CastVote atomically replaces the user's entire allocation set. The set
// is validated before any state changes, so a failed cast leaves the
// previous allocations untouched.
func (l *Ledger) CastVote(user string, allocs []Allocation, now uint64) error {
	power, err := l.power.VotingPowerAt(user, now, now)
	if err != nil {
		return fmt.Errorf("cast vote for %s: %w", user, err)
	}
	if power.IsZero() {
		return fmt.Errorf("cast vote for %s: %w", user, ErrNoVotingPower)
	}
	if err := l.validateAllocations(allocs); err != nil {
		return fmt.Errorf("cast vote for %s: %w", user, err)
	}

	cur := l.grid.Period(now)
	if prev, ok := l.votes[user]; ok && cur-prev.castPeriod < l.cfg.CooldownPeriods {
		return fmt.Errorf("cast vote for %s: %w until period %d",
			user, ErrVoteCooldownActive, prev.castPeriod+l.cfg.CooldownPeriods)
	}

	copied := make([]Allocation, len(allocs))
	copy(copied, allocs)
	sort.Slice(copied, func(i, j int) bool { return copied[i].GaugeID < copied[j].GaugeID })
	l.votes[user] = &vote{allocs: copied, castPeriod: cur}

	l.logger.Debug("Vote cast",
		zap.String("user", user),
		zap.Int("gauges", len(copied)))
	l.sink.Publish(events.Event{Kind: events.KindCastVote, User: user, Timestamp: now})
	return nil
}

// RemoveVote drops a single gauge from the user's allocation set. Removing
// an absent gauge is a no-op; an actual removal is subject to the same
// cooldown as a cast.
func (l *Ledger) RemoveVote(user, gaugeID string, now uint64) error {
	v, ok := l.votes[user]
	if !ok {
		return nil
	}
	idx := -1
	for i, a := range v.allocs {
		if a.GaugeID == gaugeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	cur := l.grid.Period(now)
	if cur-v.castPeriod < l.cfg.CooldownPeriods {
		return fmt.Errorf("remove vote for %s: %w until period %d",
			user, ErrVoteCooldownActive, v.castPeriod+l.cfg.CooldownPeriods)
	}

	v.allocs = append(v.allocs[:idx], v.allocs[idx+1:]...)
	v.castPeriod = cur
	if len(v.allocs) == 0 {
		delete(l.votes, user)
	}

	l.logger.Debug("Vote removed",
		zap.String("user", user),
		zap.String("gauge_id", gaugeID))
	l.sink.Publish(events.Event{Kind: events.KindRemoveVote, User: user, GaugeID: gaugeID, Timestamp: now})
	return nil
}

// voters returns users with a non-empty allocation set, sorted for
// deterministic tally order.
func (l *Ledger) voters() []string {
	out := make([]string, 0, len(l.votes))
	for user := range l.votes {
		out = append(out, user)
	}
	sort.Strings(out)
	return out
}

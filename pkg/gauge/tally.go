package gauge

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vortex-dex/gaugex/pkg/events"
)

// Warning records a per-user integrity skip during a tally. Skips never
// abort the tally: emissions distribution always needs a result.
type Warning struct {
	User    string `json:"user"`
	GaugeID string `json:"gauge_id,omitempty"`
	Reason  string `json:"reason"`
}

// Snapshot is the immutable settled weight set for one epoch. Epoch is the
// period index the epoch starts on.
type Snapshot struct {
	Epoch      uint64                     `json:"epoch"`
	Weights    map[string]decimal.Decimal `json:"weights"`
	TotalPower decimal.Decimal            `json:"total_power"`
	Warnings   []Warning                  `json:"warnings,omitempty"`
	TalliedAt  uint64                     `json:"tallied_at"`
}

// SnapshotStore persists settled snapshots. Implemented by the store
// package; an in-memory version backs the tests.
type SnapshotStore interface {
	SaveSnapshot(s Snapshot) error
	Snapshot(epoch uint64) (Snapshot, bool, error)
	// LatestSnapshotBefore returns the most recently settled snapshot
	// with an epoch strictly before the given one.
	LatestSnapshotBefore(epoch uint64) (Snapshot, bool, error)
}

// Tally settles gauge votes into normalized pool weights, once per epoch.
type Tally struct {
	cfg    Config
	ledger *Ledger
	power  PowerSource
	store  SnapshotStore
	sink   events.Sink
	logger *zap.Logger
}

// NewTally wires the tally engine to the vote ledger, the escrow power
// source and the snapshot store.
func NewTally(cfg Config, ledger *Ledger, power PowerSource, store SnapshotStore, sink events.Sink, logger *zap.Logger) *Tally {
	return &Tally{
		cfg:    cfg,
		ledger: ledger,
		power:  power,
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

// TallyEpoch settles the given epoch (identified by the period it starts
// on) and persists the resulting snapshot. Each epoch can be settled
// exactly once. Voting power is evaluated at the epoch start, so votes
// from fully decayed or withdrawn locks expire silently.
func (t *Tally) TallyEpoch(epoch, now uint64) (Snapshot, error) {
	grid := t.ledger.grid
	if epoch > grid.Period(now) {
		return Snapshot{}, fmt.Errorf("tally epoch %d: %w", epoch, ErrEpochInFuture)
	}
	if _, ok, err := t.store.Snapshot(epoch); err != nil {
		return Snapshot{}, fmt.Errorf("tally epoch %d: %w", epoch, err)
	} else if ok {
		return Snapshot{}, fmt.Errorf("tally epoch %d: %w", epoch, ErrAlreadyTallied)
	}

	epochStart := grid.PeriodStart(epoch)
	if _, err := t.power.CatchUp(epochStart, now); err != nil {
		return Snapshot{}, fmt.Errorf("tally epoch %d: %w", epoch, err)
	}

	totals := make(map[string]decimal.Decimal)
	var warnings []Warning
	total := decimal.Zero

	for _, user := range t.ledger.voters() {
		power, err := t.power.VotingPowerAt(user, epochStart, now)
		if err != nil {
			warnings = append(warnings, Warning{User: user, Reason: err.Error()})
			t.logger.Warn("Skipping voter", zap.String("user", user), zap.Error(err))
			continue
		}
		if power.IsZero() {
			// lock fully decayed or withdrawn: the vote expired
			continue
		}
		for _, a := range t.ledger.votes[user].allocs {
			if !t.ledger.registered(a.GaugeID) {
				warnings = append(warnings, Warning{User: user, GaugeID: a.GaugeID, Reason: "gauge not registered"})
				t.logger.Warn("Skipping stale allocation",
					zap.String("user", user),
					zap.String("gauge_id", a.GaugeID))
				continue
			}
			contribution := power.Mul(a.Fraction)
			totals[a.GaugeID] = totals[a.GaugeID].Add(contribution)
			total = total.Add(contribution)
		}
	}

	weights := make(map[string]decimal.Decimal, len(t.ledger.gauges))
	for _, id := range t.ledger.Gauges() {
		weights[id] = decimal.Zero
	}

	if total.IsZero() {
		t.logger.Info("No active votes, persisting zero-weight snapshot", zap.Uint64("epoch", epoch))
	} else {
		for id, acc := range totals {
			weights[id] = acc.Div(total)
		}
		t.clamp(weights, epoch)
	}

	snapshot := Snapshot{
		Epoch:      epoch,
		Weights:    weights,
		TotalPower: total,
		Warnings:   warnings,
		TalliedAt:  now,
	}
	if err := t.store.SaveSnapshot(snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("tally epoch %d: %w", epoch, err)
	}

	t.logger.Info("Epoch tallied",
		zap.Uint64("epoch", epoch),
		zap.Int("gauges", len(weights)),
		zap.Int("warnings", len(warnings)),
		zap.String("total_power", total.String()))
	t.sink.Publish(events.Event{Kind: events.KindTally, Epoch: epoch, Timestamp: now})
	return snapshot, nil
}

// clamp limits each gauge's movement relative to the latest snapshot
// settled before this epoch, so back-filling an older epoch never clamps
// against a future one. The clamped remainder is not redistributed,
// keeping the result idempotent and order-independent across gauges. An
// epoch with no earlier snapshot is unclamped: there is no previous weight
// to move from.
func (t *Tally) clamp(weights map[string]decimal.Decimal, epoch uint64) {
	prev, ok, err := t.store.LatestSnapshotBefore(epoch)
	if err != nil {
		t.logger.Error("Failed to load previous snapshot, skipping clamp", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	for id, w := range weights {
		prevW := decimal.Zero
		if p, found := prev.Weights[id]; found {
			prevW = p
		}
		delta := w.Sub(prevW)
		switch {
		case delta.GreaterThan(t.cfg.MaxWeightDelta):
			weights[id] = prevW.Add(t.cfg.MaxWeightDelta)
		case delta.LessThan(t.cfg.MaxWeightDelta.Neg()):
			weights[id] = prevW.Sub(t.cfg.MaxWeightDelta)
		}
	}
}

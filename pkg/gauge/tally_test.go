package gauge_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vortex-dex/gaugex/pkg/escrow"
	"github.com/vortex-dex/gaugex/pkg/events"
	"github.com/vortex-dex/gaugex/pkg/gauge"
	"github.com/vortex-dex/gaugex/pkg/schedule"
)

type tallyFixture struct {
	ledger *gauge.Ledger
	tally  *gauge.Tally
	store  *memStore
}

func newTally(t *testing.T, power gauge.PowerSource, gauges ...string) tallyFixture {
	t.Helper()
	cfg := gauge.DefaultConfig()
	store := newMemStore()
	ledger := gauge.NewLedger(cfg, schedule.DefaultGrid(), power, events.NopSink{}, zaptest.NewLogger(t))
	for _, id := range gauges {
		require.NoError(t, ledger.RegisterGauge(id, t0))
	}
	tally := gauge.NewTally(cfg, ledger, power, store, events.NopSink{}, zaptest.NewLogger(t))
	return tallyFixture{ledger: ledger, tally: tally, store: store}
}

func TestTallySingleVoterFullAllocation(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	fx := newTally(t, power, "pool-a", "pool-b")

	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0))

	snap, err := fx.tally.TallyEpoch(1000, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), snap.Epoch)
	assert.True(t, snap.Weights["pool-a"].Equal(decimal.NewFromInt(1)), "got %s", snap.Weights["pool-a"])
	assert.True(t, snap.Weights["pool-b"].IsZero())
	assert.True(t, snap.TotalPower.Equal(decimal.NewFromInt(1000)))
	assert.Empty(t, snap.Warnings)
}

func TestTallyAccumulatesVotersOnSharedGauge(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000, "bob": 750})
	fx := newTally(t, power, "pool-a", "pool-b")

	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0))
	require.NoError(t, fx.ledger.CastVote("bob", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0))

	// contributions to the same gauge add up rather than replace
	snap, err := fx.tally.TallyEpoch(1000, t0)
	require.NoError(t, err)
	assert.True(t, snap.Weights["pool-a"].Equal(decimal.NewFromInt(1)), "got %s", snap.Weights["pool-a"])
	assert.True(t, snap.Weights["pool-b"].IsZero())
	assert.True(t, snap.TotalPower.Equal(decimal.NewFromInt(1750)), "got %s", snap.TotalPower)
}

func TestTallyNormalizesAcrossVoters(t *testing.T) {
	power := constPower(map[string]int64{"alice": 3000, "bob": 1000})
	fx := newTally(t, power, "pool-a", "pool-b")

	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0))
	require.NoError(t, fx.ledger.CastVote("bob", []gauge.Allocation{{GaugeID: "pool-b", Fraction: frac(1)}}, t0))

	snap, err := fx.tally.TallyEpoch(1000, t0)
	require.NoError(t, err)
	assert.True(t, snap.Weights["pool-a"].Equal(frac(0.75)), "got %s", snap.Weights["pool-a"])
	assert.True(t, snap.Weights["pool-b"].Equal(frac(0.25)), "got %s", snap.Weights["pool-b"])
	assert.True(t, snap.TotalPower.Equal(decimal.NewFromInt(4000)))
}

func TestTallyExcludesExpiredVoters(t *testing.T) {
	// bob's lock has fully decayed by the epoch start
	power := constPower(map[string]int64{"alice": 1000, "bob": 0})
	fx := newTally(t, power, "pool-a", "pool-b")

	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0))

	// cast while bob still had power, then zero it before the tally
	power.powers["bob"] = decimal.NewFromInt(500)
	require.NoError(t, fx.ledger.CastVote("bob", []gauge.Allocation{{GaugeID: "pool-b", Fraction: frac(1)}}, t0))
	power.powers["bob"] = decimal.Zero

	snap, err := fx.tally.TallyEpoch(1000, t0)
	require.NoError(t, err)
	assert.True(t, snap.Weights["pool-a"].Equal(decimal.NewFromInt(1)))
	assert.True(t, snap.Weights["pool-b"].IsZero())
	// silent expiry, not a warning
	assert.Empty(t, snap.Warnings)
}

func TestTallyWarnsOnStaleGauge(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	fx := newTally(t, power, "pool-a", "pool-b")

	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{
		{GaugeID: "pool-a", Fraction: frac(0.5)},
		{GaugeID: "pool-b", Fraction: frac(0.5)},
	}, t0))
	require.NoError(t, fx.ledger.DeregisterGauge("pool-b", t0))

	snap, err := fx.tally.TallyEpoch(1000, t0)
	require.NoError(t, err)
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, "alice", snap.Warnings[0].User)
	assert.Equal(t, "pool-b", snap.Warnings[0].GaugeID)

	// the surviving allocation carries the full weight
	assert.True(t, snap.Weights["pool-a"].Equal(decimal.NewFromInt(1)))
	_, ok := snap.Weights["pool-b"]
	assert.False(t, ok)
}

func TestTallyZeroWeightSnapshotWhenNoVotes(t *testing.T) {
	fx := newTally(t, constPower(nil), "pool-a", "pool-b")

	snap, err := fx.tally.TallyEpoch(1000, t0)
	require.NoError(t, err)
	assert.True(t, snap.TotalPower.IsZero())
	assert.True(t, snap.Weights["pool-a"].IsZero())
	assert.True(t, snap.Weights["pool-b"].IsZero())
}

func TestTallyOncePerEpoch(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	fx := newTally(t, power, "pool-a")
	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0))

	_, err := fx.tally.TallyEpoch(1000, t0)
	require.NoError(t, err)

	_, err = fx.tally.TallyEpoch(1000, t0)
	require.ErrorIs(t, err, gauge.ErrAlreadyTallied)
}

func TestTallyRejectsFutureEpoch(t *testing.T) {
	fx := newTally(t, constPower(nil), "pool-a")

	_, err := fx.tally.TallyEpoch(1001, t0)
	require.ErrorIs(t, err, gauge.ErrEpochInFuture)
}

func TestTallyClampsWeightMovement(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	fx := newTally(t, power, "pool-a", "pool-b")

	// epoch 1000: everything on pool-a; the first snapshot is unclamped
	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0))
	snap, err := fx.tally.TallyEpoch(1000, t0)
	require.NoError(t, err)
	require.True(t, snap.Weights["pool-a"].Equal(decimal.NewFromInt(1)))

	// epoch 1001: alice flips to an even split. Raw weights would be
	// 0.5/0.5 but each gauge may only move 0.2 per epoch.
	now := t0 + week
	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{
		{GaugeID: "pool-a", Fraction: frac(0.5)},
		{GaugeID: "pool-b", Fraction: frac(0.5)},
	}, now))

	snap, err = fx.tally.TallyEpoch(1001, now)
	require.NoError(t, err)
	assert.True(t, snap.Weights["pool-a"].Equal(frac(0.8)), "got %s", snap.Weights["pool-a"])
	assert.True(t, snap.Weights["pool-b"].Equal(frac(0.2)), "got %s", snap.Weights["pool-b"])

	// the clamped remainder is not redistributed
	sum := snap.Weights["pool-a"].Add(snap.Weights["pool-b"])
	assert.True(t, sum.Equal(decimal.NewFromInt(1)))
}

func TestTallyBackfillClampsAgainstEarlierEpochOnly(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	fx := newTally(t, power, "pool-a", "pool-b")

	// epoch 1001 settles first, everything on pool-a
	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0+week))
	snap, err := fx.tally.TallyEpoch(1001, t0+week)
	require.NoError(t, err)
	require.True(t, snap.Weights["pool-a"].Equal(decimal.NewFromInt(1)))

	// back-filling epoch 1000 afterwards must not clamp against the
	// future epoch-1001 snapshot; with no earlier snapshot it lands raw
	now := t0 + 2*week
	require.NoError(t, fx.ledger.CastVote("alice", []gauge.Allocation{
		{GaugeID: "pool-a", Fraction: frac(0.5)},
		{GaugeID: "pool-b", Fraction: frac(0.5)},
	}, now))
	snap, err = fx.tally.TallyEpoch(1000, now)
	require.NoError(t, err)
	assert.True(t, snap.Weights["pool-a"].Equal(frac(0.5)), "got %s", snap.Weights["pool-a"])
	assert.True(t, snap.Weights["pool-b"].Equal(frac(0.5)), "got %s", snap.Weights["pool-b"])
}

func TestTallyAgainstLiveEscrow(t *testing.T) {
	grid := schedule.DefaultGrid()
	logger := zaptest.NewLogger(t)
	engine := escrow.NewEngine(grid, 0, t0, events.NopSink{}, logger)

	require.NoError(t, engine.CreateLock("alice", 1_000_000, 104*week, t0))
	require.NoError(t, engine.CreateLock("bob", 1_000_000, 52*week, t0))

	cfg := gauge.DefaultConfig()
	store := newMemStore()
	ledger := gauge.NewLedger(cfg, grid, engine, events.NopSink{}, logger)
	require.NoError(t, ledger.RegisterGauge("pool-a", t0))
	require.NoError(t, ledger.RegisterGauge("pool-b", t0))

	tally := gauge.NewTally(cfg, ledger, engine, store, events.NopSink{}, logger)

	require.NoError(t, ledger.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0))
	require.NoError(t, ledger.CastVote("bob", []gauge.Allocation{{GaugeID: "pool-b", Fraction: frac(1)}}, t0))

	// at t0 alice has twice bob's power (104 vs 52 remaining periods)
	snap, err := tally.TallyEpoch(1000, t0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, snap.Weights["pool-a"].InexactFloat64(), 1e-9)
	assert.InDelta(t, 1.0/3.0, snap.Weights["pool-b"].InexactFloat64(), 1e-9)

	// 52 weeks later bob's lock has fully decayed, so the raw weights are
	// 1/0. The clamp only lets each gauge move 0.2 from the previous
	// snapshot.
	now := t0 + 52*week
	snap, err = tally.TallyEpoch(1052, now)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0+0.2, snap.Weights["pool-a"].InexactFloat64(), 1e-9)
	assert.InDelta(t, 1.0/3.0-0.2, snap.Weights["pool-b"].InexactFloat64(), 1e-9)
	assert.InDelta(t, 500_000, snap.TotalPower.InexactFloat64(), 1)
}

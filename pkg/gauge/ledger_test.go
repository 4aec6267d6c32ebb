package gauge_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vortex-dex/gaugex/pkg/events"
	"github.com/vortex-dex/gaugex/pkg/gauge"
	"github.com/vortex-dex/gaugex/pkg/schedule"
)

const week = schedule.WeekSeconds

// t0 sits on a period boundary.
const t0 = 1000 * week

// fakePower serves fixed per-user voting power regardless of timestamp.
type fakePower struct {
	powers map[string]decimal.Decimal
}

func (f *fakePower) VotingPowerAt(user string, _, _ uint64) (decimal.Decimal, error) {
	if p, ok := f.powers[user]; ok {
		return p, nil
	}
	return decimal.Zero, nil
}

func (f *fakePower) CatchUp(_, _ uint64) (int, error) { return 0, nil }

func constPower(users map[string]int64) *fakePower {
	f := &fakePower{powers: make(map[string]decimal.Decimal, len(users))}
	for u, p := range users {
		f.powers[u] = decimal.NewFromInt(p)
	}
	return f
}

// memStore is an in-memory SnapshotStore.
type memStore struct {
	snaps map[uint64]gauge.Snapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[uint64]gauge.Snapshot)}
}

func (m *memStore) SaveSnapshot(s gauge.Snapshot) error {
	m.snaps[s.Epoch] = s
	return nil
}

func (m *memStore) Snapshot(epoch uint64) (gauge.Snapshot, bool, error) {
	s, ok := m.snaps[epoch]
	return s, ok, nil
}

func (m *memStore) LatestSnapshotBefore(epoch uint64) (gauge.Snapshot, bool, error) {
	var best gauge.Snapshot
	found := false
	for e, s := range m.snaps {
		if e < epoch && (!found || e > best.Epoch) {
			best = s
			found = true
		}
	}
	return best, found, nil
}

func frac(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newLedger(t *testing.T, power gauge.PowerSource, gauges ...string) *gauge.Ledger {
	t.Helper()
	l := gauge.NewLedger(gauge.DefaultConfig(), schedule.DefaultGrid(), power, events.NopSink{}, zaptest.NewLogger(t))
	for _, id := range gauges {
		require.NoError(t, l.RegisterGauge(id, t0))
	}
	return l
}

func TestGaugeRegistry(t *testing.T) {
	l := newLedger(t, constPower(nil))

	require.NoError(t, l.RegisterGauge("pool-a", t0))
	require.ErrorIs(t, l.RegisterGauge("pool-a", t0), gauge.ErrGaugeExists)

	require.NoError(t, l.RegisterGauge("pool-b", t0))
	require.Equal(t, []string{"pool-a", "pool-b"}, l.Gauges())

	require.NoError(t, l.DeregisterGauge("pool-a", t0))
	require.ErrorIs(t, l.DeregisterGauge("pool-a", t0), gauge.ErrUnknownGauge)
	require.Equal(t, []string{"pool-b"}, l.Gauges())
}

func TestCastVoteValidation(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	l := newLedger(t, power, "pool-a", "pool-b")

	// no voting power
	err := l.CastVote("bob", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}, t0)
	require.ErrorIs(t, err, gauge.ErrNoVotingPower)

	// unknown gauge
	err = l.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-x", Fraction: frac(1)}}, t0)
	require.ErrorIs(t, err, gauge.ErrUnknownGauge)

	// duplicate gauge in one set
	err = l.CastVote("alice", []gauge.Allocation{
		{GaugeID: "pool-a", Fraction: frac(0.3)},
		{GaugeID: "pool-a", Fraction: frac(0.3)},
	}, t0)
	require.ErrorIs(t, err, gauge.ErrDuplicateGauge)

	// fraction bounds
	err = l.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(0)}}, t0)
	require.ErrorIs(t, err, gauge.ErrFractionOutOfRange)
	err = l.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1.01)}}, t0)
	require.ErrorIs(t, err, gauge.ErrFractionOutOfRange)

	// fractions summing past one
	err = l.CastVote("alice", []gauge.Allocation{
		{GaugeID: "pool-a", Fraction: frac(0.7)},
		{GaugeID: "pool-b", Fraction: frac(0.7)},
	}, t0)
	require.ErrorIs(t, err, gauge.ErrFractionOutOfRange)

	// partial allocation below one is allowed
	require.NoError(t, l.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(0.4)}}, t0))
}

func TestCastVoteGaugeLimit(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	cfg := gauge.DefaultConfig()
	cfg.MaxGaugesPerUser = 2
	l := gauge.NewLedger(cfg, schedule.DefaultGrid(), power, events.NopSink{}, zaptest.NewLogger(t))
	for _, id := range []string{"pool-a", "pool-b", "pool-c"} {
		require.NoError(t, l.RegisterGauge(id, t0))
	}

	err := l.CastVote("alice", []gauge.Allocation{
		{GaugeID: "pool-a", Fraction: frac(0.3)},
		{GaugeID: "pool-b", Fraction: frac(0.3)},
		{GaugeID: "pool-c", Fraction: frac(0.3)},
	}, t0)
	require.ErrorIs(t, err, gauge.ErrTooManyGauges)
}

func TestCastVoteCooldown(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	l := newLedger(t, power, "pool-a", "pool-b")

	set := []gauge.Allocation{{GaugeID: "pool-a", Fraction: frac(1)}}
	require.NoError(t, l.CastVote("alice", set, t0))

	// recasting within the same period is blocked, even with an
	// identical allocation set
	err := l.CastVote("alice", set, t0+3600)
	require.ErrorIs(t, err, gauge.ErrVoteCooldownActive)

	// the previous set survives a failed recast
	err = l.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-b", Fraction: frac(1)}}, t0+3600)
	require.ErrorIs(t, err, gauge.ErrVoteCooldownActive)

	// one full period later the cooldown has elapsed
	require.NoError(t, l.CastVote("alice", []gauge.Allocation{{GaugeID: "pool-b", Fraction: frac(1)}}, t0+week))
}

func TestRemoveVote(t *testing.T) {
	power := constPower(map[string]int64{"alice": 1000})
	l := newLedger(t, power, "pool-a", "pool-b")

	// removing with no vote at all is a no-op
	require.NoError(t, l.RemoveVote("alice", "pool-a", t0))

	require.NoError(t, l.CastVote("alice", []gauge.Allocation{
		{GaugeID: "pool-a", Fraction: frac(0.5)},
		{GaugeID: "pool-b", Fraction: frac(0.5)},
	}, t0))

	// removing an allocated gauge during cooldown is blocked
	err := l.RemoveVote("alice", "pool-a", t0+3600)
	require.ErrorIs(t, err, gauge.ErrVoteCooldownActive)

	// removing a gauge absent from the set is a no-op even in cooldown
	require.NoError(t, l.RemoveVote("alice", "pool-x", t0+3600))

	// after cooldown the removal goes through and restarts the cooldown
	require.NoError(t, l.RemoveVote("alice", "pool-a", t0+week))
	err = l.RemoveVote("alice", "pool-b", t0+week+3600)
	require.ErrorIs(t, err, gauge.ErrVoteCooldownActive)
	require.NoError(t, l.RemoveVote("alice", "pool-b", t0+2*week))
}

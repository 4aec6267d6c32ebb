package schedule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortex-dex/gaugex/pkg/schedule"
)

func TestGridPeriodMath(t *testing.T) {
	g := schedule.DefaultGrid()
	week := schedule.WeekSeconds

	assert.Equal(t, uint64(0), g.Period(0))
	assert.Equal(t, uint64(0), g.Period(week-1))
	assert.Equal(t, uint64(1), g.Period(week))
	assert.Equal(t, uint64(1000), g.Period(1000*week))

	assert.Equal(t, uint64(7*week), g.PeriodStart(7))
}

func TestLockEndRoundsUp(t *testing.T) {
	g := schedule.DefaultGrid()
	week := schedule.WeekSeconds

	// on-boundary creation lands exactly duration periods out
	assert.Equal(t, uint64(1003), g.LockEnd(1000*week, 3*week))

	// mid-period creation rounds the end up to the next boundary
	assert.Equal(t, uint64(1004), g.LockEnd(1000*week+3600, 3*week))
}

func TestValidateDuration(t *testing.T) {
	g := schedule.DefaultGrid()
	week := schedule.WeekSeconds

	require.NoError(t, g.ValidateDuration(week))
	require.NoError(t, g.ValidateDuration(104*week))

	err := g.ValidateDuration(week - 1)
	require.ErrorIs(t, err, schedule.ErrDurationOutOfRange)

	err = g.ValidateDuration(104*week + 1)
	require.ErrorIs(t, err, schedule.ErrDurationOutOfRange)
}

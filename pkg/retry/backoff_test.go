package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vortex-dex/gaugex/pkg/retry"
)

func fastConfig() retry.Config {
	return retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithBackoffSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := retry.WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "flaky", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffExhaustsRetries(t *testing.T) {
	sentinel := errors.New("down")
	attempts := 0
	err := retry.WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "dead", func() error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retry.WithBackoff(ctx, fastConfig(), zaptest.NewLogger(t), "cancelled", func() error {
		attempts++
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

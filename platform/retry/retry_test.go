package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"booking_sync_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Attempts: 3, BaseDelay: time.Millisecond}

func TestValueSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fast, logger.Discard(), "redis", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "up", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "up", v)
	assert.Equal(t, 3, calls)
}

func TestDoWrapsLastError(t *testing.T) {
	refused := errors.New("connection refused")
	err := Do(context.Background(), fast, logger.Discard(), "postgres", func(context.Context) error { return refused })
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "postgres")
}

func TestStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, BaseDelay: time.Hour}, logger.Discard(), "bucket", func(context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRejectsZeroAttempts(t *testing.T) {
	assert.Error(t, Do(context.Background(), Policy{}, logger.Discard(), "x", func(context.Context) error { return nil }))
}

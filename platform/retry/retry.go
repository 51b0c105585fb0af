// Package retry runs startup dependencies (Redis, Postgres, buckets) until
// they come up or the attempts run out.
package retry

import (
	"context"
	"fmt"
	"time"

	"booking_sync_backend/platform/logger"
)

// Policy waits attempt² × BaseDelay between tries.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

// Startup gives a dependency roughly a minute to come up.
var Startup = Policy{Attempts: 5, BaseDelay: 2 * time.Second}

// Value calls fn until it succeeds, the attempts are spent or ctx ends. The
// last failure is wrapped in the returned error.
func Value[T any](ctx context.Context, p Policy, log *logger.Logger, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.Attempts < 1 {
		return zero, fmt.Errorf("%s: invalid retry attempts %d", name, p.Attempts)
	}

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)

		if attempt == p.Attempts {
			break
		}
		t := time.NewTimer(time.Duration(attempt*attempt) * p.BaseDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, fmt.Errorf("%s: %w", name, last)
}

// Do is Value for operations without a result.
func Do(ctx context.Context, p Policy, log *logger.Logger, name string, fn func(context.Context) error) error {
	_, err := Value(ctx, p, log, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

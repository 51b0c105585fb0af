package reminders

import (
	"context"
	"errors"
	"strconv"
	"time"

	"booking_sync_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ClaimDue removes up to limit due ids from the index and returns them. An id
// is claimed only by the caller whose ZREM removed it, so concurrent
// dispatchers never enqueue the same job twice.
func (s *Scheduler) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]uuid.UUID, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, apperr.Unavailable("scan due reminders", err)
	}

	claimed := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		removed, err := s.rdb.ZRem(ctx, s.dueKey(), raw).Result()
		if err != nil {
			return claimed, apperr.Unavailable("claim due reminder", err)
		}
		if removed == 0 {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			s.log.Warn("dropping malformed reminder id", "id", raw)
			continue
		}
		claimed = append(claimed, id)
	}
	return claimed, nil
}

// Requeue puts a claimed job back on the index, for when enqueueing failed.
func (s *Scheduler) Requeue(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := s.rdb.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(at.Unix()), Member: id.String()}).Err()
	if err != nil {
		return apperr.Unavailable("requeue reminder", err)
	}
	return nil
}

// MarkSent records a successful delivery. Jobs cancelled meanwhile keep
// their status.
func (s *Scheduler) MarkSent(ctx context.Context, id uuid.UUID) error {
	return s.withJob(ctx, id, false, func(cur *Job) (*Job, error) {
		if cur == nil {
			return nil, ErrJobNotFound
		}
		if cur.Status != StatusPending {
			return nil, nil
		}
		next := *cur
		next.Status = StatusSent
		next.Attempts++
		next.LastError = ""
		next.UpdatedAt = s.now()
		return &next, nil
	})
}

// RecordFailure counts a failed delivery attempt. The job becomes failed once
// maxAttempts is reached; final reports that no retry should follow.
func (s *Scheduler) RecordFailure(ctx context.Context, id uuid.UUID, cause error, maxAttempts int) (final bool, err error) {
	err = s.withJob(ctx, id, false, func(cur *Job) (*Job, error) {
		final = true
		if cur == nil {
			return nil, ErrJobNotFound
		}
		if cur.Status != StatusPending {
			return nil, nil
		}
		next := *cur
		next.Attempts++
		next.LastError = cause.Error()
		next.UpdatedAt = s.now()
		if next.Attempts >= maxAttempts {
			next.Status = StatusFailed
		} else {
			final = false
		}
		return &next, nil
	})
	if errors.Is(err, ErrJobNotFound) {
		return true, err
	}
	return final, err
}

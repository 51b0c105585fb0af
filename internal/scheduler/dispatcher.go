package scheduler

import (
	"context"
	"time"

	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultPollInterval = 2 * time.Second
	dispatchBatch       = 50
)

// DueClaimer is the part of the reminder store the dispatcher needs.
type DueClaimer interface {
	ClaimDue(ctx context.Context, now time.Time, limit int64) ([]uuid.UUID, error)
	Requeue(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ReminderDispatcher moves due reminder jobs from the due index onto the
// worker queue.
type ReminderDispatcher struct {
	jobs        DueClaimer
	queue       ReminderEnqueuer
	interval    time.Duration
	maxAttempts int
	log         *logger.Logger
	now         func() time.Time
}

func NewReminderDispatcher(cfg config.SchedulerConfig, jobs DueClaimer, queue ReminderEnqueuer, log *logger.Logger) *ReminderDispatcher {
	interval := cfg.GetReminderPollInterval()
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &ReminderDispatcher{
		jobs:        jobs,
		queue:       queue,
		interval:    interval,
		maxAttempts: cfg.GetReminderMaxAttempts(),
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (d *ReminderDispatcher) Run(ctx context.Context) {
	if d == nil || d.jobs == nil || d.queue == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := d.DispatchOnce(ctx); err != nil {
			d.log.Warn("reminder claim failed", "error", err)
		}
	}
}

// DispatchOnce claims one batch of due jobs and enqueues them. Jobs that
// cannot be enqueued go back on the due index.
func (d *ReminderDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := d.now()
	ids, err := d.jobs.ClaimDue(ctx, now, dispatchBatch)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, id := range ids {
		if err := d.queue.EnqueueReminder(ctx, id, d.maxAttempts); err != nil {
			d.log.Warn("reminder enqueue failed", "jobId", id, "error", err)
			if rerr := d.jobs.Requeue(ctx, id, now); rerr != nil {
				d.log.Error("reminder requeue failed", "jobId", id, "error", rerr)
			}
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		d.log.Debug("reminders dispatched", "count", enqueued)
	}
	return enqueued, nil
}

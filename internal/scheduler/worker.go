package scheduler

import (
	"context"
	"errors"
	"fmt"

	"booking_sync_backend/internal/reminders"
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const defaultMaxAttempts = 3

// JobStore is the part of the reminder store the worker needs.
type JobStore interface {
	Get(ctx context.Context, id uuid.UUID) (*reminders.Job, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID, cause error, maxAttempts int) (bool, error)
}

// Deliverer sends one reminder to the client.
type Deliverer interface {
	DeliverReminder(ctx context.Context, job *reminders.Job) error
}

type Worker struct {
	server      *asynq.Server
	mux         *asynq.ServeMux
	jobs        JobStore
	deliverer   Deliverer
	maxAttempts int
	log         *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, jobs JobStore, deliverer Deliverer, log *logger.Logger) (*Worker, error) {
	opt, err := connOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := newWorker(jobs, deliverer, cfg.GetReminderMaxAttempts(), log)
	w.server = server
	w.mux = mux

	mux.HandleFunc(TaskReminderDeliver, w.handleReminderDeliver)

	return w, nil
}

func newWorker(jobs JobStore, deliverer Deliverer, maxAttempts int, log *logger.Logger) *Worker {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	return &Worker{
		jobs:        jobs,
		deliverer:   deliverer,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleReminderDeliver(ctx context.Context, task *asynq.Task) error {
	jobID, err := ParseReminderDeliverPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	job, err := w.jobs.Get(ctx, jobID)
	if errors.Is(err, reminders.ErrJobNotFound) {
		w.log.Warn("reminder job vanished", "jobId", jobID)
		return nil
	}
	if err != nil {
		return err
	}

	// Cancelled or already delivered in the meantime.
	if job.Status != reminders.StatusPending {
		return nil
	}

	if err := w.deliverer.DeliverReminder(ctx, job); err != nil {
		limit := w.maxAttempts
		if apperr.IsDataError(err) {
			limit = 1
		}
		final, rerr := w.jobs.RecordFailure(ctx, jobID, err, limit)
		if rerr != nil {
			return rerr
		}
		if final {
			w.log.Error("reminder delivery failed permanently", "jobId", jobID, "error", err)
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}

	if err := w.jobs.MarkSent(ctx, jobID); err != nil {
		return err
	}
	w.log.Info("reminder delivered", "jobId", jobID, "appointmentId", job.AppointmentID, "rule", job.RuleID)
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"

	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/kv"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ReminderEnqueuer hands a claimed reminder job to the worker queue.
type ReminderEnqueuer interface {
	EnqueueReminder(ctx context.Context, jobID uuid.UUID, maxAttempts int) error
}

// Client enqueues reminder deliveries.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := connOpt(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{client: asynq.NewClient(opt), queue: queueName(cfg)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueReminder is idempotent per job: the task id is the job id.
func (c *Client) EnqueueReminder(ctx context.Context, jobID uuid.UUID, maxAttempts int) error {
	if c == nil || c.client == nil {
		return nil
	}
	task, err := NewReminderDeliverTask(ReminderDeliverPayload{JobID: jobID.String()})
	if err != nil {
		return err
	}

	opts := []asynq.Option{asynq.Queue(c.queue), asynq.TaskID(jobID.String())}
	if maxAttempts > 0 {
		opts = append(opts, asynq.MaxRetry(maxAttempts-1))
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return "default"
}

// connOpt shares the key-value store's URL parsing so both sides agree on TLS.
func connOpt(cfg config.SchedulerConfig) (asynq.RedisClientOpt, error) {
	if cfg.GetRedisURL() == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("redis url not configured")
	}
	o, err := kv.ParseOptions(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}, nil
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"booking_sync_backend/internal/reminders"
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/kv/kvtest"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)

type stubConfig struct{}

func (stubConfig) GetRedisURL() string                    { return "redis://localhost:6379/0" }
func (stubConfig) GetRedisTLSInsecure() bool              { return false }
func (stubConfig) GetRedisKeyPrefix() string              { return "test:" }
func (stubConfig) GetAsynqQueueName() string              { return "" }
func (stubConfig) GetAsynqConcurrency() int               { return 1 }
func (stubConfig) GetReminderPollInterval() time.Duration { return time.Second }
func (stubConfig) GetReminderMaxAttempts() int            { return 2 }

type fakeDeliverer struct {
	mu   sync.Mutex
	err  error
	sent []uuid.UUID
}

func (f *fakeDeliverer) DeliverReminder(_ context.Context, job *reminders.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, job.ID)
	return nil
}

type fakeEnqueuer struct {
	err      error
	enqueued []uuid.UUID
}

func (f *fakeEnqueuer) EnqueueReminder(_ context.Context, id uuid.UUID, _ int) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, id)
	return nil
}

func newReminderStore(t *testing.T) *reminders.Scheduler {
	t.Helper()
	rdb, _ := kvtest.New(t)
	s := reminders.New(rdb, kvtest.Keys(), []reminders.Rule{{ID: "day-before", OffsetDays: 1}}, logger.Discard())
	s.SetClock(func() time.Time { return testNow })
	_, err := s.Schedule(context.Background(), reminders.Appointment{
		ID:    "appt-1",
		At:    testNow.Add(36 * time.Hour),
		Scope: reminders.ScopeConsultation,
	})
	require.NoError(t, err)
	return s
}

func deliverTask(t *testing.T, id uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := NewReminderDeliverTask(ReminderDeliverPayload{JobID: id.String()})
	require.NoError(t, err)
	return task
}

func TestWorkerDeliversPendingJob(t *testing.T) {
	ctx := context.Background()
	store := newReminderStore(t)
	deliverer := &fakeDeliverer{}
	w := newWorker(store, deliverer, 2, logger.Discard())
	id := reminders.JobID("appt-1", "day-before")

	require.NoError(t, w.handleReminderDeliver(ctx, deliverTask(t, id)))
	assert.Equal(t, []uuid.UUID{id}, deliverer.sent)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reminders.StatusSent, job.Status)

	// A duplicate task does not deliver twice.
	require.NoError(t, w.handleReminderDeliver(ctx, deliverTask(t, id)))
	assert.Len(t, deliverer.sent, 1)
}

func TestWorkerSkipsCanceledJob(t *testing.T) {
	ctx := context.Background()
	store := newReminderStore(t)
	_, err := store.CancelAppointment(ctx, "appt-1")
	require.NoError(t, err)

	deliverer := &fakeDeliverer{}
	w := newWorker(store, deliverer, 2, logger.Discard())
	require.NoError(t, w.handleReminderDeliver(ctx, deliverTask(t, reminders.JobID("appt-1", "day-before"))))
	assert.Empty(t, deliverer.sent)
}

func TestWorkerFailureRetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	store := newReminderStore(t)
	deliverer := &fakeDeliverer{err: errors.New("gateway down")}
	w := newWorker(store, deliverer, 2, logger.Discard())
	id := reminders.JobID("appt-1", "day-before")

	err := w.handleReminderDeliver(ctx, deliverTask(t, id))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	err = w.handleReminderDeliver(ctx, deliverTask(t, id))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reminders.StatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestWorkerInvalidRecipientFailsAtOnce(t *testing.T) {
	ctx := context.Background()
	store := newReminderStore(t)
	deliverer := &fakeDeliverer{err: apperr.Validation("bad phone")}
	w := newWorker(store, deliverer, 5, logger.Discard())
	id := reminders.JobID("appt-1", "day-before")

	err := w.handleReminderDeliver(ctx, deliverTask(t, id))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reminders.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestWorkerRejectsMalformedPayload(t *testing.T) {
	w := newWorker(newReminderStore(t), &fakeDeliverer{}, 2, logger.Discard())
	err := w.handleReminderDeliver(context.Background(), asynq.NewTask(TaskReminderDeliver, []byte(`{"jobId":"nope"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestDispatchOnce(t *testing.T) {
	ctx := context.Background()
	store := newReminderStore(t)
	queue := &fakeEnqueuer{}
	d := NewReminderDispatcher(stubConfig{}, store, queue, logger.Discard())

	d.now = func() time.Time { return testNow }
	n, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	d.now = func() time.Time { return testNow.Add(12 * time.Hour) }
	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{reminders.JobID("appt-1", "day-before")}, queue.enqueued)

	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatchRequeuesOnEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	store := newReminderStore(t)
	queue := &fakeEnqueuer{err: errors.New("redis down")}
	d := NewReminderDispatcher(stubConfig{}, store, queue, logger.Discard())
	d.now = func() time.Time { return testNow.Add(12 * time.Hour) }

	n, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	queue.err = nil
	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

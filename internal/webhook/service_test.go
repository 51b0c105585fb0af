package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"booking_sync_backend/internal/classifier"
	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/internal/clients/repository"
	"booking_sync_backend/internal/eventlog"
	"booking_sync_backend/internal/events"
	"booking_sync_backend/internal/identity"
	"booking_sync_backend/internal/reconcile"
	"booking_sync_backend/internal/reminders"
	"booking_sync_backend/internal/staff"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/kv/kvtest"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bookedFor = time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC)
	before    = time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)
	after     = time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
)

type syncCall struct {
	clientID   uuid.UUID
	externalID string
	visitAt    *time.Time
}

type fakeMetrics struct {
	mu    sync.Mutex
	calls []syncCall
}

func (f *fakeMetrics) Sync(_ context.Context, clientID uuid.UUID, externalID string, visitAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, syncCall{clientID, externalID, visitAt})
	return nil
}

func (f *fakeMetrics) snapshot() []syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncCall(nil), f.calls...)
}

type corruptStore struct{}

func (corruptStore) Update(context.Context, uuid.UUID, repository.MutateFunc) (*domain.Client, bool, error) {
	return nil, false, fmt.Errorf("decode client: %w", repository.ErrCorruptAggregate)
}

type pipeline struct {
	service   *Service
	store     *repository.Store
	log       *eventlog.Log
	reminders *reminders.Scheduler
	metrics   *fakeMetrics
	deps      Deps
	now       time.Time
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	rdb, _ := kvtest.New(t)
	keys := kvtest.Keys()
	settings := config.DefaultDomainSettings()
	bus := events.NewInMemoryBus(logger.Discard())
	t.Cleanup(bus.Wait)

	p := &pipeline{now: before, metrics: &fakeMetrics{}}
	clock := func() time.Time { return p.now }

	p.store = repository.New(rdb, keys, repository.NewRedisHistory(rdb, keys), 10, logger.Discard())
	p.log = eventlog.New(rdb, keys, 50, logger.Discard())
	p.reminders = reminders.New(rdb, keys, reminders.RulesFrom(settings.Reminders), logger.Discard())
	p.reminders.SetClock(clock)

	resolver := identity.New(p.store, bus, identity.Options{
		AbsentMarkers: settings.AbsentMarkers,
		PhoneRegion:   "RU",
	}, logger.Discard())
	resolver.SetClock(clock)

	p.deps = Deps{
		EventLog:   p.log,
		Resolver:   resolver,
		Staff:      staff.NewDirectory(rdb, keys),
		Store:      p.store,
		Classifier: classifier.New(classifier.VocabularyFrom(settings.Vocabulary)),
		Reconciler: reconcile.New(settings.AdminRoles),
		Metrics:    p.metrics,
		Reminders:  p.reminders,
		Bus:        bus,
	}
	p.service = NewService(p.deps, Options{CompanyID: "42", HandleField: settings.HandleField}, logger.Discard())
	p.service.SetClock(clock)
	return p
}

func recordBody(status string, attendance int) string {
	return fmt.Sprintf(`{
		"company_id": 42,
		"resource": "record",
		"status": %q,
		"resource_id": 9001,
		"data": {
			"id": 9001,
			"datetime": "2025-11-20T13:00:00+03:00",
			"attendance": %d,
			"services": [{"id": 1, "title": "Consultation", "cost": 0, "amount": 1}],
			"staff": {"id": 7, "name": "Olga"},
			"client": {
				"id": 501,
				"name": "Anna",
				"surname": "Petrova",
				"phone": "+7 916 123-45-67",
				"custom_fields": {"instagram": "anna.hair"}
			}
		}
	}`, status, attendance)
}

func (p *pipeline) client(t *testing.T, res Result) *domain.Client {
	t.Helper()
	id, err := uuid.Parse(res.ClientID)
	require.NoError(t, err, "result: %+v", res)
	c, err := p.store.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestProcessBooksConsultation(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	res := p.service.Process(ctx, []byte(recordBody(StatusCreate, 0)))
	require.True(t, res.OK, "result: %+v", res)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, string(domain.StateConsultationBooked), res.State)
	assert.Equal(t, reconcile.RuleBooked, res.Rule)
	assert.NotEmpty(t, res.EventID)

	c := p.client(t, res)
	assert.Equal(t, "501", c.ExternalID)
	assert.Equal(t, "anna.hair", c.Handle)
	assert.Equal(t, "9001", c.Consultation.AppointmentID)
	require.NotNil(t, c.Consultation.BookedAt)
	assert.True(t, bookedFor.Equal(*c.Consultation.BookedAt))

	jobs, err := p.reminders.ListAppointment(ctx, "9001")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, reminders.ScopeConsultation, jobs[0].Payload.Scope)
	assert.Equal(t, "anna.hair", jobs[0].Payload.Handle)
	assert.Equal(t, "Consultation", jobs[0].Payload.Service)

	logged, err := p.log.ReadRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, res.EventID, logged[0].ID.String())
	assert.Equal(t, ResourceRecord, logged[0].Resource)
	assert.Equal(t, "9001", logged[0].ResourceID)

	assert.Empty(t, p.metrics.snapshot(), "a booking is not a visit")
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	body := []byte(recordBody(StatusCreate, 0))

	first := p.service.Process(ctx, body)
	require.True(t, first.OK)
	stored := p.client(t, first)

	p.now = before.Add(time.Hour)
	second := p.service.Process(ctx, body)
	require.True(t, second.OK)
	assert.Equal(t, first.ClientID, second.ClientID)
	assert.NotEqual(t, first.EventID, second.EventID)

	again := p.client(t, second)
	assert.Equal(t, stored.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, stored.State, again.State)

	jobs, err := p.reminders.ListAppointment(ctx, "9001")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	logged, err := p.log.ReadRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logged, 2, "every delivery is logged")
}

func TestProcessArrivalSyncsMetrics(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	booked := p.service.Process(ctx, []byte(recordBody(StatusCreate, 0)))
	require.True(t, booked.OK)

	p.now = after
	arrived := p.service.Process(ctx, []byte(recordBody(StatusUpdate, 1)))
	require.True(t, arrived.OK, "result: %+v", arrived)
	assert.Equal(t, reconcile.RuleArrived, arrived.Rule)

	c := p.client(t, arrived)
	assert.Equal(t, domain.True, c.Consultation.Attended)
	assert.Equal(t, "Olga", c.Consultation.Consultant)

	calls := p.metrics.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, c.ID, calls[0].clientID)
	assert.Equal(t, "501", calls[0].externalID)
	require.NotNil(t, calls[0].visitAt)
	assert.True(t, bookedFor.Equal(*calls[0].visitAt))

	// The same arrival delivered again is not a second visit.
	p.service.Process(ctx, []byte(recordBody(StatusUpdate, 1)))
	assert.Len(t, p.metrics.snapshot(), 1)
}

func TestProcessDeletionCancelsReminders(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	booked := p.service.Process(ctx, []byte(recordBody(StatusCreate, 0)))
	require.True(t, booked.OK)

	deleted := p.service.Process(ctx, []byte(recordBody(StatusDelete, 0)))
	require.True(t, deleted.OK, "result: %+v", deleted)
	assert.Equal(t, reconcile.RuleDeleted, deleted.Rule)

	jobs, err := p.reminders.ListAppointment(ctx, "9001")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, reminders.StatusCanceled, jobs[0].Status)

	c := p.client(t, deleted)
	assert.True(t, c.Consultation.Deleted)
}

func TestProcessSkipsAndErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		skipped string
		err     string
	}{
		{
			name: "malformed json",
			body: `{"resource": "record",`,
			err:  "invalid payload",
		},
		{
			name:    "unsupported resource",
			body:    `{"resource": "finance_operation", "status": "create", "data": {}}`,
			skipped: "unsupported resource",
		},
		{
			name:    "foreign company",
			body:    `{"company_id": "7", "resource": "record", "status": "create", "data": {}}`,
			skipped: "foreign company",
		},
		{
			name:    "missing record id",
			body:    `{"resource": "record", "status": "create", "data": {"datetime": "2025-11-20 13:00:00"}}`,
			skipped: "missing record id",
		},
		{
			name:    "missing datetime",
			body:    `{"resource": "record", "status": "update", "resource_id": "9001", "data": {}}`,
			skipped: "missing datetime",
		},
		{
			name:    "missing client",
			body:    `{"resource": "record", "status": "create", "resource_id": 9001, "data": {"datetime": "2025-11-20 13:00:00"}}`,
			skipped: "missing client",
		},
		{
			name:    "client deletion",
			body:    `{"resource": "client", "status": "delete", "resource_id": 501}`,
			skipped: "client deletion ignored",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)
			res := p.service.Process(context.Background(), []byte(tt.body))
			assert.True(t, res.Received)
			assert.NotEmpty(t, res.EventID)
			assert.Equal(t, tt.skipped, res.Skipped)
			assert.Equal(t, tt.err, res.Error)
			assert.Empty(t, res.ClientID)

			logged, err := p.log.ReadRecent(context.Background(), 0)
			require.NoError(t, err)
			assert.Len(t, logged, 1, "skipped deliveries are still logged")
		})
	}
}

func TestProcessRejectsUnknownStatus(t *testing.T) {
	p := newPipeline(t)
	res := p.service.Process(context.Background(), []byte(`{"resource": "record", "status": "archive", "data": {}}`))
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.Skipped)
}

func TestProcessNoIdentityIsSkipped(t *testing.T) {
	p := newPipeline(t)
	body := `{"resource": "record", "status": "create", "resource_id": 1,
		"data": {"datetime": "2025-11-20 13:00:00", "client": {"name": ""}}}`
	res := p.service.Process(context.Background(), []byte(body))
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.Skipped)
	assert.Empty(t, res.ClientID)
}

func TestProcessResourceIDFallback(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	body := `{"resource": "record", "status": "create", "resource_id": "777",
		"data": {
			"datetime": "2025-11-20 13:00:00",
			"services": [{"title": "Online consultation", "cost": "0"}],
			"client": {"id": "501", "name": "Anna", "phone": "89161234567"}
		}}`
	res := p.service.Process(ctx, []byte(body))
	require.True(t, res.OK, "result: %+v", res)

	c := p.client(t, res)
	assert.Equal(t, "777", c.Consultation.AppointmentID)
	assert.True(t, c.Consultation.Online)
	require.NotNil(t, c.Consultation.BookedAt)
	// Zone-less datetimes default to UTC.
	assert.True(t, time.Date(2025, 11, 20, 13, 0, 0, 0, time.UTC).Equal(*c.Consultation.BookedAt))
}

func TestProcessLocalTimezone(t *testing.T) {
	p := newPipeline(t)
	loc := time.FixedZone("MSK", 3*60*60)
	p.service = NewService(p.deps, Options{Location: loc}, logger.Discard())
	p.service.SetClock(func() time.Time { return p.now })

	body := `{"resource": "record", "status": "create", "resource_id": 5,
		"data": {"datetime": "2025-11-20 13:00:00", "services": [{"title": "Consultation"}],
		"client": {"id": 501, "name": "Anna"}}}`
	res := p.service.Process(context.Background(), []byte(body))
	require.True(t, res.OK, "result: %+v", res)

	c := p.client(t, res)
	require.NotNil(t, c.Consultation.BookedAt)
	assert.True(t, bookedFor.Equal(*c.Consultation.BookedAt))
}

func TestProcessClientEventSyncsMetrics(t *testing.T) {
	p := newPipeline(t)
	body := `{"resource": "client", "status": "update", "resource_id": 501,
		"data": {"name": "<b>Anna</b>", "surname": "Petrova ", "phone": "+79161234567",
		"custom_fields": [{"code": "instagram", "value": "anna.hair"}]}}`

	res := p.service.Process(context.Background(), []byte(body))
	require.True(t, res.OK, "result: %+v", res)
	assert.Equal(t, string(domain.StateNewContact), res.State)

	c := p.client(t, res)
	assert.Equal(t, "501", c.ExternalID)
	assert.Equal(t, "anna.hair", c.Handle)
	assert.Equal(t, "Anna", c.FirstName)
	assert.Equal(t, "Petrova", c.LastName)

	calls := p.metrics.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "501", calls[0].externalID)
	assert.Nil(t, calls[0].visitAt)
}

func TestReplayDoesNotRelog(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	first := p.service.Process(ctx, []byte(recordBody(StatusCreate, 0)))
	require.True(t, first.OK)

	logged, err := p.log.ReadRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)

	replayed := p.service.Replay(ctx, logged[0])
	assert.True(t, replayed.OK)
	assert.Equal(t, first.EventID, replayed.EventID)
	assert.Equal(t, first.ClientID, replayed.ClientID)

	logged, err = p.log.ReadRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestCorruptAggregatePanics(t *testing.T) {
	p := newPipeline(t)
	p.deps.Store = corruptStore{}
	p.service = NewService(p.deps, Options{}, logger.Discard())

	defer func() {
		r := recover()
		require.NotNil(t, r, "store corruption must not be swallowed")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, repository.ErrCorruptAggregate))
	}()
	p.service.Process(context.Background(), []byte(recordBody(StatusCreate, 0)))
}

package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"booking_sync_backend/internal/events"
	"booking_sync_backend/internal/reminders"
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	to      string
	subject string
	body    string
}

type fakeWhatsApp struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeWhatsApp) SendMessage(_ context.Context, phoneNumber, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: phoneNumber, body: message})
	return f.err
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeEmail) SendAlert(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func newTestModule(t *testing.T, operators map[string]config.OperatorSettings) (*Module, *fakeWhatsApp, *fakeEmail) {
	t.Helper()
	m, err := New(operators, logger.Discard())
	require.NoError(t, err)
	wa := &fakeWhatsApp{}
	mail := &fakeEmail{}
	m.SetWhatsAppSender(wa)
	m.SetEmailSender(mail)
	return m, wa, mail
}

var operators = map[string]config.OperatorSettings{
	DefaultOperatorSet: {Phones: []string{"+79160000001"}, Emails: []string{"ops@example.com"}},
}

func TestNotifySendsToEveryChannel(t *testing.T) {
	m, wa, mail := newTestModule(t, operators)

	m.Notify(context.Background(), DefaultOperatorSet, TemplateMissingHandle, events.ClientHandleMissing{
		ClientID:   uuid.New(),
		ExternalID: "1001",
		Name:       "Anna Petrova",
		Phone:      "+79161234567",
	})
	m.Wait()

	require.Len(t, wa.sent, 1)
	assert.Equal(t, "+79160000001", wa.sent[0].to)
	assert.Contains(t, wa.sent[0].body, "Anna Petrova (#1001)")
	assert.Contains(t, wa.sent[0].body, "Please ask for it.")

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "ops@example.com", mail.sent[0].to)
	assert.Equal(t, "[booking-sync] Client handle missing", mail.sent[0].subject)
}

func TestNotifyFallsBackToDefaultSet(t *testing.T) {
	m, wa, _ := newTestModule(t, operators)

	m.Notify(context.Background(), "night-shift", TemplateClientsMerged, events.ClientsMerged{
		SurvivorID: uuid.New(),
		RemovedID:  uuid.New(),
		Name:       "Anna",
		Reason:     "name",
	})
	m.Wait()
	require.Len(t, wa.sent, 1)
	assert.Contains(t, wa.sent[0].body, "Matched by: name.")
}

func TestNotifyWithoutRecipientsIsNoop(t *testing.T) {
	m, wa, mail := newTestModule(t, nil)
	m.Notify(context.Background(), DefaultOperatorSet, TemplateMissingHandle, events.ClientHandleMissing{Name: "x"})
	m.Wait()
	assert.Empty(t, wa.sent)
	assert.Empty(t, mail.sent)
}

func TestNotifyReturnsBeforeSending(t *testing.T) {
	m, _, _ := newTestModule(t, operators)
	block := make(chan struct{})
	m.SetWhatsAppSender(blockingSender{block})

	done := make(chan struct{})
	go func() {
		m.Notify(context.Background(), DefaultOperatorSet, TemplateMissingHandle, events.ClientHandleMissing{Name: "x"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on the gateway")
	}
	close(block)
	m.Wait()
}

type blockingSender struct{ ch chan struct{} }

func (b blockingSender) SendMessage(ctx context.Context, _, _ string) error {
	select {
	case <-b.ch:
	case <-ctx.Done():
	}
	return nil
}

func TestNotifyGatewayErrorsAreSwallowed(t *testing.T) {
	m, wa, mail := newTestModule(t, operators)
	wa.err = errors.New("device offline")

	m.Notify(context.Background(), DefaultOperatorSet, TemplateMissingHandle, events.ClientHandleMissing{Name: "x"})
	m.Wait()
	assert.Len(t, mail.sent, 1, "email still goes out when whatsapp fails")
}

func TestHandleRoutesIdentityEvents(t *testing.T) {
	m, wa, _ := newTestModule(t, operators)
	bus := events.NewInMemoryBus(logger.Discard())
	m.RegisterHandlers(bus)

	a, b := uuid.New(), uuid.New()
	bus.Publish(context.Background(), events.ClientIdentityAmbiguous{
		ClientID:     uuid.New(),
		Name:         "Anna",
		CandidateIDs: []uuid.UUID{a, b},
	})
	bus.Wait()
	m.Wait()

	require.Len(t, wa.sent, 1)
	assert.Contains(t, wa.sent[0].body, a.String()+", "+b.String())
}

func TestDeliverReminder(t *testing.T) {
	m, wa, _ := newTestModule(t, operators)
	job := &reminders.Job{
		ID: uuid.New(),
		Payload: reminders.Payload{
			ClientID:      uuid.New(),
			Name:          "Anna",
			Phone:         "+79161234567",
			Service:       "Consultation",
			AppointmentAt: time.Date(2025, 11, 20, 14, 30, 0, 0, time.UTC),
			Template:      "custom-not-defined",
		},
	}

	require.NoError(t, m.DeliverReminder(context.Background(), job))
	require.Len(t, wa.sent, 1)
	assert.Equal(t, "+79161234567", wa.sent[0].to)
	assert.True(t, strings.HasPrefix(wa.sent[0].body, "Hello, Anna!"))
	assert.Contains(t, wa.sent[0].body, "Consultation appointment on 20.11.2025 14:30")
}

func TestDeliverReminderErrors(t *testing.T) {
	m, wa, _ := newTestModule(t, operators)

	err := m.DeliverReminder(context.Background(), &reminders.Job{ID: uuid.New()})
	assert.True(t, apperr.IsDataError(err), "missing phone must not be retried: %v", err)
	assert.Empty(t, wa.sent)

	bare, err := New(operators, logger.Discard())
	require.NoError(t, err)
	err = bare.DeliverReminder(context.Background(), &reminders.Job{Payload: reminders.Payload{Phone: "+79161234567"}})
	assert.Equal(t, apperr.KindUnavailable, apperr.GetKind(err))

	wa.err = errors.New("gateway down")
	err = m.DeliverReminder(context.Background(), &reminders.Job{Payload: reminders.Payload{Phone: "+79161234567"}})
	assert.EqualError(t, err, "gateway down")
}

func TestAllTemplatesRender(t *testing.T) {
	r, err := newRenderer()
	require.NoError(t, err)

	samples := map[string]any{
		TemplateMissingHandle:     events.ClientHandleMissing{Name: "Anna", Explicit: true},
		TemplateAmbiguousIdentity: ambiguousView{Name: "Anna"},
		TemplateClientsMerged:     events.ClientsMerged{Name: "Anna"},
		TemplateReminder:          reminders.Payload{},
	}
	require.Len(t, samples, len(bodies))
	for name, data := range samples {
		out, err := r.render(name, data)
		assert.NoError(t, err, name)
		assert.NotEmpty(t, out, name)
	}

	out, _ := r.render(TemplateMissingHandle, samples[TemplateMissingHandle])
	assert.Contains(t, out, "The client stated they have none.")

	_, err = r.render("nope", nil)
	assert.Error(t, err)
}

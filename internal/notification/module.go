// Package notification sends operator alerts and client reminders. It listens
// on the event bus so the pipeline never waits for a gateway.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"booking_sync_backend/internal/email"
	"booking_sync_backend/internal/events"
	"booking_sync_backend/internal/reminders"
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
)

// DefaultOperatorSet receives alerts for sets that are not configured.
const DefaultOperatorSet = "default"

const defaultSendTimeout = 30 * time.Second

// WhatsAppSender sends WhatsApp messages.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, phoneNumber string, message string) error
}

// Module handles operator notifications and reminder delivery.
type Module struct {
	operators map[string]config.OperatorSettings
	whatsapp  WhatsAppSender
	sender    email.Sender
	templates *renderer
	timeout   time.Duration
	log       *logger.Logger
	wg        sync.WaitGroup
}

func New(operators map[string]config.OperatorSettings, log *logger.Logger) (*Module, error) {
	r, err := newRenderer()
	if err != nil {
		return nil, err
	}
	return &Module{
		operators: operators,
		sender:    email.NoopSender{},
		templates: r,
		timeout:   defaultSendTimeout,
		log:       log,
	}, nil
}

// SetWhatsAppSender sets the WhatsApp gateway.
func (m *Module) SetWhatsAppSender(sender WhatsAppSender) { m.whatsapp = sender }

// SetEmailSender sets the SMTP sender.
func (m *Module) SetEmailSender(sender email.Sender) {
	if sender == nil {
		sender = email.NoopSender{}
	}
	m.sender = sender
}

// SetTimeout bounds one background send.
func (m *Module) SetTimeout(d time.Duration) {
	if d > 0 {
		m.timeout = d
	}
}

// Notify renders the template and sends it to every recipient of the
// operator set in the background. It never blocks on a gateway and never
// fails the caller; problems are logged.
func (m *Module) Notify(ctx context.Context, operatorSet, templateName string, data any) {
	recipients, ok := m.recipients(operatorSet)
	if !ok {
		m.log.Debug("notification: no recipients configured", "operatorSet", operatorSet, "template", templateName)
		return
	}

	body, err := m.templates.render(templateName, data)
	if err != nil {
		m.log.Error("notification: render failed", "template", templateName, "error", err)
		return
	}
	subject := subjectFor(templateName)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		m.deliver(sendCtx, recipients, subject, body, templateName)
	}()
}

// Wait blocks until background sends have finished.
func (m *Module) Wait() {
	m.wg.Wait()
}

func (m *Module) recipients(set string) (config.OperatorSettings, bool) {
	r, ok := m.operators[set]
	if !ok || (len(r.Phones) == 0 && len(r.Emails) == 0) {
		r, ok = m.operators[DefaultOperatorSet]
	}
	return r, ok && (len(r.Phones) > 0 || len(r.Emails) > 0)
}

func (m *Module) deliver(ctx context.Context, to config.OperatorSettings, subject, body, templateName string) {
	if m.whatsapp != nil {
		for _, p := range to.Phones {
			if err := m.whatsapp.SendMessage(ctx, p, body); err != nil {
				m.log.Warn("notification: whatsapp send failed", "template", templateName, "phone", p, "error", err)
			}
		}
	}
	for _, addr := range to.Emails {
		if err := m.sender.SendAlert(ctx, addr, subject, body); err != nil {
			m.log.Warn("notification: email send failed", "template", templateName, "email", addr, "error", err)
		}
	}
}

// RegisterHandlers subscribes to the identity events operators care about.
func (m *Module) RegisterHandlers(bus events.Bus) {
	events.On(bus, func(ctx context.Context, e events.ClientHandleMissing) error {
		m.Notify(ctx, DefaultOperatorSet, TemplateMissingHandle, e)
		return nil
	})
	events.On(bus, func(ctx context.Context, e events.ClientIdentityAmbiguous) error {
		m.Notify(ctx, DefaultOperatorSet, TemplateAmbiguousIdentity, ambiguousView{
			ClientID:   e.ClientID,
			ExternalID: e.ExternalID,
			Name:       e.Name,
			Candidates: idStrings(e.CandidateIDs),
		})
		return nil
	})
	events.On(bus, func(ctx context.Context, e events.ClientsMerged) error {
		m.Notify(ctx, DefaultOperatorSet, TemplateClientsMerged, e)
		return nil
	})

	m.log.Info("notification module registered event handlers")
}

type ambiguousView struct {
	ClientID   uuid.UUID
	ExternalID string
	Name       string
	Candidates []string
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// DeliverReminder sends a reminder job to the client over WhatsApp. Unlike
// Notify it is synchronous so the worker can record the outcome.
func (m *Module) DeliverReminder(ctx context.Context, job *reminders.Job) error {
	if job == nil {
		return fmt.Errorf("reminder job is nil")
	}
	if strings.TrimSpace(job.Payload.Phone) == "" {
		return apperr.Validation(fmt.Sprintf("reminder %s: client %s has no phone", job.ID, job.Payload.ClientID))
	}
	if m.whatsapp == nil {
		return apperr.Unavailable("whatsapp gateway not configured", nil)
	}

	name := job.Payload.Template
	if name == "" || m.templates.set.Lookup(name) == nil {
		name = TemplateReminder
	}
	body, err := m.templates.render(name, job.Payload)
	if err != nil {
		return err
	}
	return m.whatsapp.SendMessage(ctx, job.Payload.Phone, body)
}

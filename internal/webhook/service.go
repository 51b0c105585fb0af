package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/logger"
	"booking_sync_backend/platform/sanitize"
	"booking_sync_backend/platform/validator"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultStageTimeout = 10 * time.Second

// EventLog records raw deliveries for replay.
type EventLog interface {
	Append(ctx context.Context, entry eventlog.Entry) (eventlog.Entry, error)
}

// IdentityResolver maps a customer descriptor to a client aggregate.
type IdentityResolver interface {
	Resolve(ctx context.Context, c identity.Customer) (*identity.Resolution, error)
}

// StaffDirectory maps staff references to masters.
type StaffDirectory interface {
	Ensure(ctx context.Context, ref staff.Ref) (*staff.Master, error)
}

// ClientStore is the optimistic update primitive of the client store.
type ClientStore interface {
	Update(ctx context.Context, id uuid.UUID, fn repository.MutateFunc) (*domain.Client, bool, error)
}

// MetricsSyncer refreshes spend and visit counters.
type MetricsSyncer interface {
	Sync(ctx context.Context, clientID uuid.UUID, externalID string, visitAt *time.Time) error
}

// ReminderScheduler owns the reminder job lifecycle.
type ReminderScheduler interface {
	Schedule(ctx context.Context, appt reminders.Appointment) (reminders.Summary, error)
	CancelAppointment(ctx context.Context, appointmentID string) (int, error)
}

// Deps are the collaborators of the pipeline. Metrics and Reminders may be
// nil to disable those stages.
type Deps struct {
	EventLog   EventLog
	Resolver   IdentityResolver
	Staff      StaffDirectory
	Store      ClientStore
	Classifier *classifier.Classifier
	Reconciler *reconcile.Reconciler
	Metrics    MetricsSyncer
	Reminders  ReminderScheduler
	Bus        events.Bus
	Validator  *validator.Validator
}

// Options tune parsing and stage behaviour.
type Options struct {
	// CompanyID, when set, skips deliveries for other companies.
	CompanyID string
	// HandleField is the custom field code carrying the client's handle.
	HandleField string
	// Location interprets datetimes sent without a zone.
	Location     *time.Location
	StageTimeout time.Duration
}

// Result is the webhook response body. It is informational; the endpoint
// always answers 200.
type Result struct {
	OK       bool   `json:"ok"`
	Received bool   `json:"received"`
	Skipped  string `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
	EventID  string `json:"eventId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	State    string `json:"state,omitempty"`
	Rule     string `json:"rule,omitempty"`
}

func skipped(reason string) Result {
	return Result{OK: true, Received: true, Skipped: reason}
}

// Service runs one delivery through the reconciliation pipeline.
type Service struct {
	deps Deps
	opts Options
	log  *logger.Logger
	now  func() time.Time
}

// NewService creates the pipeline.
func NewService(deps Deps, opts Options, log *logger.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	return &Service{
		deps: deps,
		opts: opts,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the reconciler's notion of now.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Process logs the raw body and runs it through the pipeline.
func (s *Service) Process(ctx context.Context, raw []byte) Result {
	entry := eventlog.Entry{ID: uuid.New(), Raw: string(raw), RequestID: logger.RequestIDFrom(ctx)}

	env, perr := decodeEnvelope(raw)
	if perr == nil {
		entry.Resource = env.Resource
		entry.Status = env.Status
		entry.ResourceID = env.ResourceID.String()
	}
	s.appendLog(ctx, entry)

	if perr != nil {
		s.log.WithContext(ctx).Warn("webhook: invalid payload", "eventId", entry.ID, "error", perr)
		return Result{Received: true, Error: "invalid payload", EventID: entry.ID.String()}
	}
	res := s.handle(ctx, entry.ID, env)
	res.EventID = entry.ID.String()
	return res
}

// Replay runs a logged entry through the pipeline again without re-logging it.
func (s *Service) Replay(ctx context.Context, entry eventlog.Entry) Result {
	env, err := decodeEnvelope([]byte(entry.Raw))
	if err != nil {
		return Result{Received: true, Error: "invalid payload", EventID: entry.ID.String()}
	}
	res := s.handle(ctx, entry.ID, env)
	res.EventID = entry.ID.String()
	return res
}

// appendLog never fails the delivery.
func (s *Service) appendLog(ctx context.Context, entry eventlog.Entry) {
	if s.deps.EventLog == nil {
		return
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StageTimeout)
	defer cancel()
	if _, err := s.deps.EventLog.Append(logCtx, entry); err != nil {
		s.log.WithContext(ctx).StageFailed("eventlog", err, "eventId", entry.ID)
	}
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	env.Resource = strings.ToLower(strings.TrimSpace(env.Resource))
	env.Status = strings.ToLower(strings.TrimSpace(env.Status))
	return env, nil
}

func (s *Service) handle(ctx context.Context, eventID uuid.UUID, env Envelope) Result {
	ctx = logger.ContextWithEventID(ctx, eventID.String())

	if err := s.deps.Validator.Struct(env); err != nil {
		return skipped(validator.Describe(err))
	}
	if s.opts.CompanyID != "" && env.CompanyID != "" && env.CompanyID.String() != s.opts.CompanyID {
		return skipped("foreign company")
	}

	switch env.Resource {
	case ResourceRecord:
		return s.handleRecord(ctx, eventID, env)
	case ResourceClient:
		return s.handleClient(ctx, env)
	default:
		return skipped("unsupported resource")
	}
}

// fail maps a critical stage error onto the response. Data errors become
// skips; store corruption is fatal.
func (s *Service) fail(ctx context.Context, name string, err error) Result {
	if errors.Is(err, repository.ErrCorruptAggregate) {
		s.log.WithContext(ctx).Error("webhook: store corruption", "stage", name, "error", err)
		panic(fmt.Errorf("webhook: %s: %w", name, err))
	}
	if apperr.IsDataError(err) {
		return skipped(err.Error())
	}
	s.log.WithContext(ctx).Error("webhook: stage failed", "stage", name, "error", err)
	return Result{Received: true, Error: name + ": " + err.Error()}
}

func (s *Service) handleRecord(ctx context.Context, eventID uuid.UUID, env Envelope) Result {
	log := s.log.WithContext(ctx)

	var data RecordData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return skipped("invalid record data")
		}
	}
	appointmentID := data.ID.String()
	if appointmentID == "" {
		appointmentID = env.ResourceID.String()
	}
	if appointmentID == "" {
		return skipped("missing record id")
	}

	kind := reconcile.Kind(env.Status)
	deletion := kind == reconcile.KindDeleted || data.Deleted

	var at time.Time
	if raw := data.when(); raw != "" {
		t, err := parseDatetime(raw, s.opts.Location)
		if err != nil {
			return skipped(err.Error())
		}
		at = t
	} else if !deletion {
		return skipped("missing datetime")
	}
	if data.Client == nil {
		return skipped("missing client")
	}

	res, err := s.deps.Resolver.Resolve(ctx, s.customer(data.Client))
	if err != nil {
		return s.fail(ctx, "identity", err)
	}

	lines := toLines(data.Services)
	_, paidLines := s.deps.Classifier.Split(lines)
	ev := reconcile.Event{
		ID:            eventID.String(),
		AppointmentID: appointmentID,
		Kind:          kind,
		At:            at,
		Attendance:    reconcile.AttendanceFromCode(data.attendanceCode()),
		Deleted:       data.Deleted,
		Services:      s.deps.Classifier.Classify(lines),
		PaidLines:     paidLines,
		Staff:         s.resolveStaff(ctx, &data),
		ActorIsAdmin:  data.LastChangeBy != nil && s.deps.Reconciler.IsAdmin(data.LastChangeBy.Role),
	}

	if ev.IsDeletion() {
		s.cancelReminders(ctx, appointmentID)
	}

	var (
		out  reconcile.Outcome
		from domain.LifecycleState
	)
	now := s.now()
	client, changed, err := s.deps.Store.Update(ctx, res.Client.ID, func(c *domain.Client) ([]domain.StateLogEntry, error) {
		from = c.State
		out = s.deps.Reconciler.Apply(c, ev, now)
		*c = *out.Next
		return out.Entries, nil
	})
	if err != nil {
		return s.fail(ctx, "reconcile", err)
	}

	log.Info("webhook: record reconciled",
		"clientId", client.ID,
		"externalId", client.ExternalID,
		"appointmentId", appointmentID,
		"rule", out.Rule,
		"changed", changed,
		"matchedBy", res.MatchedBy,
	)

	if changed && from != client.State {
		s.deps.Bus.Publish(ctx, events.ClientStateChanged{
			BaseEvent:     events.BaseEventAt(now),
			ClientID:      client.ID,
			ExternalID:    client.ExternalID,
			AppointmentID: appointmentID,
			From:          string(from),
			To:            string(client.State),
			Rule:          out.Rule,
		})
	}

	s.afterCommit(ctx, client, ev, out, lines)

	return Result{
		OK:       true,
		Received: true,
		ClientID: client.ID.String(),
		State:    string(client.State),
		Rule:     out.Rule,
	}
}

func (s *Service) handleClient(ctx context.Context, env Envelope) Result {
	if env.Status == StatusDelete {
		return skipped("client deletion ignored")
	}

	var data ClientData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return skipped("invalid client data")
		}
	}
	if data.ID == "" {
		data.ID = env.ResourceID
	}

	res, err := s.deps.Resolver.Resolve(ctx, s.customer(&data))
	if err != nil {
		return s.fail(ctx, "identity", err)
	}
	client := res.Client

	if s.deps.Metrics != nil && client.ExternalID != "" {
		s.runStages(ctx, stage{"metrics", func(sctx context.Context) error {
			return s.deps.Metrics.Sync(sctx, client.ID, client.ExternalID, nil)
		}})
	}

	s.log.WithContext(ctx).Info("webhook: client resolved",
		"clientId", client.ID,
		"externalId", client.ExternalID,
		"matchedBy", res.MatchedBy,
		"created", res.Created,
	)
	return Result{
		OK:       true,
		Received: true,
		ClientID: client.ID.String(),
		State:    string(client.State),
	}
}

func (s *Service) customer(c *ClientData) identity.Customer {
	handle, _ := c.field(handleLabels(s.opts.HandleField))
	return identity.Customer{
		ExternalID: c.ID.String(),
		Name:       sanitize.Name(c.DisplayName),
		FirstName:  sanitize.Name(c.Name),
		LastName:   sanitize.Name(c.Surname),
		Phone:      c.Phone,
		Email:      strings.TrimSpace(c.Email),
		Handle:     handle,
	}
}

// resolveStaff is best effort; without a master the reconciler skips assignment.
func (s *Service) resolveStaff(ctx context.Context, data *RecordData) *reconcile.Staff {
	if s.deps.Staff == nil {
		return nil
	}
	ref := staff.Ref{ExternalID: data.StaffID.String()}
	if data.Staff != nil {
		if id := data.Staff.ID.String(); id != "" {
			ref.ExternalID = id
		}
		ref.Name = data.Staff.Name
	}
	if ref.ExternalID == "0" {
		ref.ExternalID = ""
	}
	if ref.IsZero() {
		return nil
	}

	m, err := s.deps.Staff.Ensure(ctx, ref)
	if err != nil {
		s.log.WithContext(ctx).StageFailed("staff", err, "staffId", ref.ExternalID)
		return nil
	}
	return &reconcile.Staff{ID: m.ID.String(), Name: m.Name}
}

func (s *Service) cancelReminders(ctx context.Context, appointmentID string) {
	if s.deps.Reminders == nil {
		return
	}
	stageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StageTimeout)
	defer cancel()
	n, err := s.deps.Reminders.CancelAppointment(stageCtx, appointmentID)
	if err != nil {
		s.log.WithContext(ctx).StageFailed("reminders.cancel", err, "appointmentId", appointmentID)
		return
	}
	if n > 0 {
		s.log.WithContext(ctx).Info("webhook: reminders canceled", "appointmentId", appointmentID, "count", n)
	}
}

type stage struct {
	name string
	run  func(ctx context.Context) error
}

// afterCommit runs the side-effect stages against the committed aggregate.
func (s *Service) afterCommit(ctx context.Context, client *domain.Client, ev reconcile.Event, out reconcile.Outcome, lines []classifier.Line) {
	var stages []stage

	if out.VisitOccurred && s.deps.Metrics != nil {
		visitAt := out.VisitAt
		stages = append(stages, stage{"metrics", func(sctx context.Context) error {
			return s.deps.Metrics.Sync(sctx, client.ID, client.ExternalID, &visitAt)
		}})
	}

	if out.Schedulable && !ev.IsDeletion() && s.deps.Reminders != nil {
		appt := reminders.Appointment{
			ID:      ev.AppointmentID,
			At:      ev.At,
			Scope:   out.ReminderScope,
			Payload: reminderPayload(client, lines),
		}
		stages = append(stages, stage{"reminders", func(sctx context.Context) error {
			sum, err := s.deps.Reminders.Schedule(sctx, appt)
			if err != nil {
				return err
			}
			s.log.WithContext(ctx).Debug("webhook: reminders scheduled",
				"appointmentId", appt.ID,
				"created", sum.Created,
				"updated", sum.Updated,
				"revived", sum.Revived,
				"skipped", sum.Skipped,
			)
			return nil
		}})
	}

	s.runStages(ctx, stages...)
}

// runStages runs stages concurrently, each with its own timeout on a context
// detached from the request. Failures are logged and never propagated.
func (s *Service) runStages(ctx context.Context, stages ...stage) {
	if len(stages) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, st := range stages {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(base, s.opts.StageTimeout)
			defer cancel()
			if err := st.run(sctx); err != nil {
				s.log.WithContext(ctx).StageFailed(st.name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func toLines(services []ServiceLine) []classifier.Line {
	lines := make([]classifier.Line, 0, len(services))
	for _, sv := range services {
		lines = append(lines, classifier.Line{
			ID:     sv.ID.String(),
			Title:  sv.Title,
			Cost:   sv.Price(),
			Amount: sv.Amount,
		})
	}
	return lines
}

func reminderPayload(c *domain.Client, lines []classifier.Line) reminders.Payload {
	p := reminders.Payload{
		ClientID: c.ID,
		Name:     c.FullName(),
		Phone:    c.Phone,
	}
	if !c.HasPlaceholderHandle() {
		p.Handle = c.Handle
	}
	titles := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := strings.TrimSpace(l.Title); t != "" {
			titles = append(titles, t)
		}
	}
	p.Service = strings.Join(titles, ", ")
	return p
}

package reconcile

import (
	"strings"
	"time"

	"booking_sync_backend/internal/clients/domain"
)

// Rule names reported in Outcome.Rule and audit metadata.
const (
	RuleDeleted      = "deleted"
	RuleBooked       = "consultation-booked"
	RuleRescheduled  = "rescheduled"
	RuleNoShow       = "no-show"
	RuleArrived      = "arrived"
	RulePaidBooked   = "paid-booked"
	RuleDual         = "dual"
	RuleDateUpdated  = "date-updated"
	RuleIgnored      = "ignored"
	RuleUnclassified = "unclassified"
	RuleNoop         = "noop"
)

// Reminder scopes reported in Outcome.ReminderScope.
const (
	ScopeConsultation = "consultation"
	ScopePaid         = "paid"
)

// Outcome is the result of applying one event.
type Outcome struct {
	Next *domain.Client
	// Entries are the audit records to append. Transition entries are
	// dropped when nothing changed; ignored-input entries are always kept.
	Entries []domain.StateLogEntry
	Changed bool
	Rule    string

	// VisitOccurred is set when attendance newly became true.
	VisitOccurred bool
	VisitAt       time.Time

	CancelReminders bool
	// Schedulable is set when the event's appointment is the active booking
	// after the update and reminders should be (re)computed for it.
	Schedulable   bool
	ReminderScope string
}

// Reconciler holds the static policy used by Apply.
type Reconciler struct {
	adminRoles map[string]bool
}

// New creates a reconciler. adminRoles are matched case-insensitively.
func New(adminRoles []string) *Reconciler {
	roles := make(map[string]bool, len(adminRoles))
	for _, r := range adminRoles {
		roles[strings.ToLower(strings.TrimSpace(r))] = true
	}
	return &Reconciler{adminRoles: roles}
}

// IsAdmin reports whether role is an administrative actor role.
func (r *Reconciler) IsAdmin(role string) bool {
	return r.adminRoles[strings.ToLower(strings.TrimSpace(role))]
}

// Apply computes the next aggregate for ev. current is not modified.
// Rules are tried in priority order and the first match wins.
func (r *Reconciler) Apply(current *domain.Client, ev Event, now time.Time) Outcome {
	a := &applier{
		cur:  current,
		next: current.Clone(),
		ev:   ev,
		now:  now,
	}

	switch {
	case ev.IsDeletion():
		a.deletion()
	case ev.Services.IsMixed():
		a.dual()
	case ev.Services.HasPaidService():
		a.paid(true)
	case ev.Services.IsConsultation:
		a.consultation()
	case ev.AppointmentID != "" && ev.AppointmentID == current.Consultation.AppointmentID:
		a.consultation()
	case ev.AppointmentID != "" && ev.AppointmentID == current.Paid.AppointmentID:
		a.paid(false)
	default:
		a.ignore(RuleUnclassified, "no consultation or paid service lines")
	}

	a.recordAppointment()
	return a.outcome()
}

type applier struct {
	cur  *domain.Client
	next *domain.Client
	ev   Event
	now  time.Time

	rule        string
	transitions []domain.StateLogEntry
	audits      []domain.StateLogEntry
	visit       bool
	visitAt     time.Time
	cancel      bool
	schedulable bool
	scope       string
}

func (a *applier) outcome() Outcome {
	if a.rule == "" {
		a.rule = RuleNoop
	}
	changed := !domain.Equivalent(a.cur, a.next)
	entries := a.audits
	if changed {
		entries = append(append([]domain.StateLogEntry{}, a.transitions...), a.audits...)
	}
	for i := range entries {
		entries[i].ClientID = a.cur.ID
		entries[i].EventID = a.ev.ID
		if entries[i].Metadata == nil {
			entries[i].Metadata = map[string]any{}
		}
		entries[i].Metadata["rule"] = a.rule
		if a.ev.AppointmentID != "" {
			entries[i].Metadata["appointmentId"] = a.ev.AppointmentID
		}
	}

	next := a.next
	if !changed {
		next = a.cur
	}
	return Outcome{
		Next:            next,
		Entries:         entries,
		Changed:         changed,
		Rule:            a.rule,
		VisitOccurred:   a.visit,
		VisitAt:         a.visitAt,
		CancelReminders: a.cancel,
		Schedulable:     a.schedulable,
		ReminderScope:   a.scope,
	}
}

// setState moves the lifecycle state and records a transition. Administrative
// states are kept and the attempted move is audited instead. force records an
// entry even when the state does not change.
func (a *applier) setState(to domain.LifecycleState, reason string, force bool) {
	from := a.next.State
	if from.IsAdministrative() {
		a.audits = append(a.audits, domain.StateLogEntry{
			From:   from,
			To:     from,
			Reason: reason + ": administrative state kept",
		})
		return
	}
	if from == to && !force {
		return
	}
	a.next.State = to
	a.transitions = append(a.transitions, domain.StateLogEntry{From: from, To: to, Reason: reason})
}

// note records a transition-class entry without a state change.
func (a *applier) note(reason string) {
	a.transitions = append(a.transitions, domain.StateLogEntry{From: a.next.State, To: a.next.State, Reason: reason})
}

// ignore keeps the input visible in the audit log without applying it.
func (a *applier) ignore(rule, reason string) {
	if a.rule == "" {
		a.rule = rule
	}
	a.audits = append(a.audits, domain.StateLogEntry{
		From:   a.next.State,
		To:     a.next.State,
		Reason: "ignored: " + reason,
	})
}

// Rule 1.
func (a *applier) deletion() {
	a.rule = RuleDeleted
	a.cancel = true

	id := a.ev.AppointmentID
	if id == "" {
		return
	}
	if c := &a.next.Consultation; c.AppointmentID == id && !c.Deleted {
		c.Deleted = true
		c.Cancelled = domain.True
		a.note("consultation deleted upstream")
	}
	if p := &a.next.Paid; p.AppointmentID == id && !p.Deleted {
		p.Deleted = true
		p.Cancelled = domain.True
		a.note("paid service deleted upstream")
	}
}

func (a *applier) recordAppointment() {
	if a.ev.AppointmentID == "" || a.ev.IsDeletion() {
		return
	}
	if a.rule == RuleIgnored || a.rule == RuleUnclassified {
		return
	}

	var kind domain.AppointmentKind
	switch {
	case a.ev.Services.IsMixed():
		kind = domain.AppointmentMixed
	case a.ev.Services.HasPaidService():
		kind = domain.AppointmentPaid
	case a.ev.Services.IsConsultation:
		kind = domain.AppointmentConsultation
	case a.ev.AppointmentID == a.next.Consultation.AppointmentID:
		kind = domain.AppointmentConsultation
	default:
		kind = domain.AppointmentPaid
	}

	if a.next.Appointments == nil {
		a.next.Appointments = map[string]domain.AppointmentKind{}
	}
	a.next.Appointments[a.ev.AppointmentID] = kind
}

func (a *applier) assignConsultant() {
	if a.next.MasterManual || a.ev.Staff == nil {
		return
	}
	a.next.Consultation.ConsultantID = a.ev.Staff.ID
	a.next.Consultation.Consultant = a.ev.Staff.Name
}

func (a *applier) assignProvider() {
	if a.next.MasterManual || a.ev.Staff == nil {
		return
	}
	p := &a.next.Paid
	p.ProviderID = a.ev.Staff.ID
	p.Provider = a.ev.Staff.Name
	if n := len(p.ProviderHistory); n == 0 || p.ProviderHistory[n-1] != a.ev.Staff.ID {
		p.ProviderHistory = append(p.ProviderHistory, a.ev.Staff.ID)
	}
}

// attendedNow reports whether an arrival signal may be applied: the
// appointment must not lie in the future.
func (a *applier) attendedNow() bool {
	return a.ev.Attendance == AttendanceArrived && (a.ev.At.IsZero() || !a.ev.At.After(a.now))
}

func (a *applier) markVisit() {
	a.visit = true
	a.visitAt = a.ev.At
	if a.visitAt.IsZero() {
		a.visitAt = a.now
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

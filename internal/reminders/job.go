// Package reminders owns the reminder job lifecycle: one job per
// (appointment, rule), upserted idempotently, cancelled with the appointment
// and never created once its due time has passed.
package reminders

import (
	"strings"
	"time"

	"booking_sync_backend/platform/config"

	"github.com/google/uuid"
)

// Status is the lifecycle of a reminder job.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusCanceled Status = "canceled"
	StatusFailed   Status = "failed"
)

// Rule scopes.
const (
	ScopeConsultation = "consultation"
	ScopePaid         = "paid"
	ScopeAny          = "any"
)

// jobNamespace seeds deterministic job ids.
var jobNamespace = uuid.MustParse("6f1f8a3c-2d4e-5b7a-9c0d-3e2f1a4b5c6d")

// JobID derives the job id from the appointment and rule.
func JobID(appointmentID, ruleID string) uuid.UUID {
	return uuid.NewSHA1(jobNamespace, []byte(appointmentID+":"+ruleID))
}

// Rule is one active reminder offset.
type Rule struct {
	ID         string
	OffsetDays int
	AppliesTo  string
	Template   string
}

// Applies reports whether the rule covers appointments of scope.
func (r Rule) Applies(scope string) bool {
	return r.AppliesTo == "" || r.AppliesTo == ScopeAny || strings.EqualFold(r.AppliesTo, scope)
}

// DueAt is the reminder time for an appointment at t.
func (r Rule) DueAt(t time.Time) time.Time {
	return t.AddDate(0, 0, -r.OffsetDays)
}

// RulesFrom returns the active rules from settings.
func RulesFrom(settings []config.ReminderRuleSettings) []Rule {
	rules := make([]Rule, 0, len(settings))
	for _, s := range settings {
		if !s.IsActive() {
			continue
		}
		rules = append(rules, Rule{
			ID:         s.ID,
			OffsetDays: s.OffsetDays,
			AppliesTo:  s.AppliesTo,
			Template:   s.Template,
		})
	}
	return rules
}

// Payload is denormalized so delivery does not re-read the client.
type Payload struct {
	ClientID      uuid.UUID `json:"clientId"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	Handle        string    `json:"handle,omitempty"`
	Service       string    `json:"service,omitempty"`
	Scope         string    `json:"scope"`
	AppointmentAt time.Time `json:"appointmentAt"`
	Template      string    `json:"template"`
}

// Job is a persisted reminder.
type Job struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID string    `json:"appointmentId"`
	RuleID        string    `json:"ruleId"`
	DueAt         time.Time `json:"dueAt"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"lastError,omitempty"`
	Payload       Payload   `json:"payload"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Appointment is the input to Schedule.
type Appointment struct {
	ID      string
	At      time.Time
	Scope   string
	Payload Payload
}

// Summary counts what Schedule did per rule.
type Summary struct {
	Created   int
	Updated   int
	Revived   int
	Canceled  int
	Skipped   int
	Unchanged int
}

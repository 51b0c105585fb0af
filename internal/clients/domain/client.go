// Package domain holds the client aggregate tracked through the
// consultation → paid-service funnel, and the value types the reconciler
// mutates.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handle placeholder prefixes used when the real external handle is unknown.
const (
	HandlePrefixMissing = "missing:"
	HandlePrefixNone    = "none:"
)

// Client is the durable aggregate: identity, lifecycle state, the two
// booking facets and derived metrics.
type Client struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"externalId,omitempty"`
	Handle     string    `json:"handle"`

	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`

	State       LifecycleState `json:"state"`
	PaidSubtype string         `json:"paidSubtype,omitempty"`

	Consultation ConsultationFacet `json:"consultation"`
	Paid         PaidFacet         `json:"paid"`

	SignedUpForPaidService    bool `json:"signedUpForPaidService"`
	ConvertedFromConsultation bool `json:"convertedFromConsultation"`

	// NoShowCount counts distinct consultation appointments marked as no-show.
	NoShowCount int `json:"noShowCount"`
	// Appointments maps every appointment ID seen for this client to its kind.
	Appointments map[string]AppointmentKind `json:"appointments,omitempty"`

	Metrics Metrics `json:"metrics"`

	MasterManual     bool `json:"masterManual"`
	NotificationSent bool `json:"notificationSent"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConsultationFacet tracks the single active consultation booking.
type ConsultationFacet struct {
	AppointmentID string     `json:"appointmentId,omitempty"`
	BookedAt      *time.Time `json:"bookedAt,omitempty"`
	Online        bool       `json:"online"`
	Attended      Tristate   `json:"attended"`
	Cancelled     Tristate   `json:"cancelled"`
	ConsultantID  string     `json:"consultantId,omitempty"`
	Consultant    string     `json:"consultant,omitempty"`
	Deleted       bool       `json:"deleted"`
	// CountedNoShow is the appointment@date key last counted as a no-show,
	// so a redelivered no-show does not count twice.
	CountedNoShow string     `json:"countedNoShow,omitempty"`
}

// PaidFacet tracks the single active paid-service booking.
type PaidFacet struct {
	AppointmentID   string                     `json:"appointmentId,omitempty"`
	AppointmentAt   *time.Time                 `json:"appointmentAt,omitempty"`
	Attended        Tristate                   `json:"attended"`
	Cancelled       Tristate                   `json:"cancelled"`
	IsRebooking     bool                       `json:"isRebooking"`
	TotalCost       decimal.Decimal            `json:"totalCost"`
	CostByProvider  map[string]decimal.Decimal `json:"costByProvider,omitempty"`
	ProviderID      string                     `json:"providerId,omitempty"`
	Provider        string                     `json:"provider,omitempty"`
	ProviderHistory []string                   `json:"providerHistory,omitempty"`
	Deleted         bool                       `json:"deleted"`
}

// Metrics are counters derived from the booking platform.
type Metrics struct {
	Spend       decimal.Decimal `json:"spend"`
	Visits      int             `json:"visits"`
	LastVisitAt *time.Time      `json:"lastVisitAt,omitempty"`
}

// AppointmentKind distinguishes consultation from paid appointments in the
// per-client appointment history.
type AppointmentKind string

const (
	AppointmentConsultation AppointmentKind = "consultation"
	AppointmentPaid         AppointmentKind = "paid"
	AppointmentMixed        AppointmentKind = "mixed"
)

// NewClient creates an aggregate in the new-contact state.
func NewClient(now time.Time) *Client {
	return &Client{
		ID:        uuid.New(),
		State:     StateNewContact,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FullName joins first and last names.
func (c *Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ConsultationAttempt is derived: one plus the number of prior no-shows.
func (c *Client) ConsultationAttempt() int {
	return c.NoShowCount + 1
}

// HasPlaceholderHandle reports whether the handle is synthetic.
func (c *Client) HasPlaceholderHandle() bool {
	return IsPlaceholderHandle(c.Handle)
}

// HasExplicitNoHandle reports whether the customer stated they have no handle.
func (c *Client) HasExplicitNoHandle() bool {
	return strings.HasPrefix(c.Handle, HandlePrefixNone)
}

// IsPlaceholderHandle reports whether handle is a synthetic placeholder.
func IsPlaceholderHandle(handle string) bool {
	return handle == "" || strings.HasPrefix(handle, HandlePrefixMissing) || strings.HasPrefix(handle, HandlePrefixNone)
}

// MissingHandle builds the placeholder for "no data about the handle".
func MissingHandle(externalID string) string {
	return HandlePrefixMissing + externalID
}

// NoneHandle builds the placeholder for "customer stated no handle".
func NoneHandle(externalID string) string {
	return HandlePrefixNone + externalID
}

// Clone returns a deep copy so a mutation can be compared with the original.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	out := *c
	out.Consultation.BookedAt = cloneTime(c.Consultation.BookedAt)
	out.Paid.AppointmentAt = cloneTime(c.Paid.AppointmentAt)
	out.Metrics.LastVisitAt = cloneTime(c.Metrics.LastVisitAt)
	if c.Paid.CostByProvider != nil {
		out.Paid.CostByProvider = make(map[string]decimal.Decimal, len(c.Paid.CostByProvider))
		for k, v := range c.Paid.CostByProvider {
			out.Paid.CostByProvider[k] = v
		}
	}
	if c.Paid.ProviderHistory != nil {
		out.Paid.ProviderHistory = append([]string(nil), c.Paid.ProviderHistory...)
	}
	if c.Appointments != nil {
		out.Appointments = make(map[string]AppointmentKind, len(c.Appointments))
		for k, v := range c.Appointments {
			out.Appointments[k] = v
		}
	}
	return &out
}

// Equivalent reports whether two aggregates are observably identical,
// ignoring bookkeeping (version and timestamps).
func Equivalent(a, b *Client) bool {
	if a == nil || b == nil {
		return a == b
	}
	return observable(a) == observable(b)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Envelope resources and statuses.
const (
	ResourceRecord = "record"
	ResourceClient = "client"

	StatusCreate = "create"
	StatusUpdate = "update"
	StatusDelete = "delete"
)

// Envelope is the outer webhook body sent by the booking platform.
type Envelope struct {
	CompanyID  FlexString      `json:"company_id"`
	Resource   string          `json:"resource" validate:"required"`
	Status     string          `json:"status" validate:"required,oneof=create update delete"`
	ResourceID FlexString      `json:"resource_id"`
	Data       json.RawMessage `json:"data"`
}

// FlexString accepts a JSON string or number; the booking platform sends ids
// as either.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// RecordData is the data of a record (appointment) event.
type RecordData struct {
	ID           FlexString    `json:"id"`
	Datetime     string        `json:"datetime"`
	Date         string        `json:"date"`
	Attendance   *int          `json:"attendance"`
	Visit        *int          `json:"visit_attendance"`
	Deleted      bool          `json:"deleted"`
	Services     []ServiceLine `json:"services"`
	Staff        *StaffData    `json:"staff"`
	StaffID      FlexString    `json:"staff_id"`
	Client       *ClientData   `json:"client"`
	LastChangeBy *ActorData    `json:"last_change_by"`
	Comment      string        `json:"comment"`
}

// ServiceLine is one booked service.
type ServiceLine struct {
	ID        FlexString          `json:"id"`
	Title     string              `json:"title"`
	Cost      decimal.Decimal     `json:"cost"`
	CostToPay decimal.NullDecimal `json:"cost_to_pay"`
	Amount    int                 `json:"amount"`
}

// Price is the amount due for the line, falling back to the list cost.
func (l ServiceLine) Price() decimal.Decimal {
	if l.CostToPay.Valid {
		return l.CostToPay.Decimal
	}
	return l.Cost
}

// StaffData is the master performing the appointment.
type StaffData struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

// ActorData identifies who last changed the record.
type ActorData struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
	Role string     `json:"role"`
}

// ClientData is the customer descriptor, both embedded in records and as
// the data of client events.
type ClientData struct {
	ID           FlexString      `json:"id"`
	Name         string          `json:"name"`
	Surname      string          `json:"surname"`
	DisplayName  string          `json:"display_name"`
	Phone        string          `json:"phone"`
	Email        string          `json:"email"`
	CustomFields json.RawMessage `json:"custom_fields"`
}

// customField is the list form of custom_fields.
type customField struct {
	Code  string          `json:"code"`
	Name  string          `json:"name"`
	Title string          `json:"title"`
	Value json.RawMessage `json:"value"`
}

// field looks a custom field up by label. The object form is keyed by field
// code; the list form carries code, name or title per entry. Labels are
// compared ignoring case, spaces, dashes and underscores.
func (c *ClientData) field(labels []string) (string, bool) {
	raw := bytes.TrimSpace(c.CustomFields)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", false
		}
		for k, v := range obj {
			if matchesAny(k, labels) {
				return scalar(v), true
			}
		}
	case '[':
		var list []customField
		if err := json.Unmarshal(raw, &list); err != nil {
			return "", false
		}
		for _, f := range list {
			if matchesAny(f.Code, labels) || matchesAny(f.Name, labels) || matchesAny(f.Title, labels) {
				return scalar(f.Value), true
			}
		}
	}
	return "", false
}

func scalar(raw json.RawMessage) string {
	var s FlexString
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return string(s)
}

var labelNormalizer = strings.NewReplacer("-", "", "_", "", " ", "")

func matchesAny(label string, patterns []string) bool {
	if label == "" {
		return false
	}
	normalized := strings.ToLower(labelNormalizer.Replace(label))
	for _, p := range patterns {
		if normalized == strings.ToLower(labelNormalizer.Replace(p)) {
			return true
		}
	}
	return false
}

// handleLabels returns the configured handle field plus its common spellings.
func handleLabels(field string) []string {
	labels := []string{"instagram", "insta", "instagram_login", "инстаграм", "инстаграмм"}
	if field = strings.TrimSpace(field); field != "" {
		labels = append([]string{field}, labels...)
	}
	return labels
}

var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// parseDatetime accepts RFC 3339 and the platform's zone-less layouts, which
// are interpreted in loc.
func parseDatetime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datetime %q", value)
}

// attendanceCode prefers the record's attendance over visit_attendance.
func (r *RecordData) attendanceCode() int {
	switch {
	case r.Attendance != nil:
		return *r.Attendance
	case r.Visit != nil:
		return *r.Visit
	default:
		return 0
	}
}

func (r *RecordData) when() string {
	if r.Datetime != "" {
		return r.Datetime
	}
	return r.Date
}

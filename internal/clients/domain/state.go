package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LifecycleState is the funnel position of a client.
type LifecycleState string

const (
	StateNewContact              LifecycleState = "new-contact"
	StateClient                  LifecycleState = "client"
	StateConsultationBooked      LifecycleState = "consultation-booked"
	StateConsultationRescheduled LifecycleState = "consultation-rescheduled"
	StateConsultationNoShow      LifecycleState = "consultation-no-show"
	StatePaidService             LifecycleState = "paid-service"

	// Administrative states are set by operators and never overwritten by events.
	StateArchived    LifecycleState = "archived"
	StateBlacklisted LifecycleState = "blacklisted"
)

// Paid-service subtypes.
const (
	PaidSubtypeHairExtension = "hair-extension"
	PaidSubtypeOther         = "other"
)

// IsAdministrative reports whether the state is operator-owned.
func (s LifecycleState) IsAdministrative() bool {
	return s == StateArchived || s == StateBlacklisted
}

// IsConsultation reports whether the state belongs to the consultation stage.
func (s LifecycleState) IsConsultation() bool {
	switch s {
	case StateConsultationBooked, StateConsultationRescheduled, StateConsultationNoShow:
		return true
	default:
		return false
	}
}

// Tristate models a flag that may not be known yet.
type Tristate int8

const (
	Unknown Tristate = iota
	True
	False
)

// TristateOf converts a plain bool.
func TristateOf(v bool) Tristate {
	if v {
		return True
	}
	return False
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// IsTrue reports whether the value is known to be true.
func (t Tristate) IsTrue() bool { return t == True }

// IsKnown reports whether the value is not Unknown.
func (t Tristate) IsKnown() bool { return t != Unknown }

// MarshalJSON encodes the tristate as true, false or null.
func (t Tristate) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false or null.
func (t *Tristate) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*t = True
	case "false":
		*t = False
	case "null":
		*t = Unknown
	default:
		return fmt.Errorf("invalid tristate %s", data)
	}
	return nil
}

// StateLogEntry is one audit record of a client's history.
type StateLogEntry struct {
	ClientID   uuid.UUID      `json:"clientId"`
	OccurredAt time.Time      `json:"occurredAt"`
	To         LifecycleState `json:"to"`
	From       LifecycleState `json:"from,omitempty"`
	EventID    string         `json:"eventId,omitempty"`
	Reason     string         `json:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// observable renders the aggregate without bookkeeping fields.
func observable(c *Client) string {
	clone := c.Clone()
	clone.Version = 0
	clone.CreatedAt = time.Time{}
	clone.UpdatedAt = time.Time{}
	raw, err := json.Marshal(clone)
	if err != nil {
		// Every field is JSON-safe; a failure here is a programming error.
		panic(fmt.Sprintf("marshal client: %v", err))
	}
	return string(raw)
}

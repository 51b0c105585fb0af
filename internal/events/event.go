// Package events holds the domain events the sync pipeline publishes. The bus
// itself lives in platform/events.
package events

import (
	"context"

	"booking_sync_backend/platform/events"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEvent   = events.NewBaseEvent
	BaseEventAt    = events.BaseEventAt
	NewInMemoryBus = events.NewInMemoryBus
)

// On subscribes fn to events of type T.
func On[T Event](bus Bus, fn func(ctx context.Context, event T) error) { events.On(bus, fn) }

// =============================================================================
// Client Lifecycle Events
// =============================================================================

// ClientStateChanged is published after a committed lifecycle transition.
type ClientStateChanged struct {
	BaseEvent
	ClientID      uuid.UUID `json:"clientId"`
	ExternalID    string    `json:"externalId,omitempty"`
	AppointmentID string    `json:"appointmentId,omitempty"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Rule          string    `json:"rule"`
}

func (e ClientStateChanged) EventName() string { return "clients.state.changed" }

// =============================================================================
// Identity Events
// =============================================================================

// ClientHandleMissing is published when a client has no usable external
// handle and an operator should collect it.
type ClientHandleMissing struct {
	BaseEvent
	ClientID   uuid.UUID `json:"clientId"`
	ExternalID string    `json:"externalId,omitempty"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	// Explicit is true when the customer stated they have no handle.
	Explicit bool `json:"explicit"`
}

func (e ClientHandleMissing) EventName() string { return "identity.handle.missing" }

// ClientIdentityAmbiguous is published when a name matched several clients
// and a new aggregate was created instead of guessing.
type ClientIdentityAmbiguous struct {
	BaseEvent
	ClientID     uuid.UUID   `json:"clientId"`
	ExternalID   string      `json:"externalId,omitempty"`
	Name         string      `json:"name"`
	CandidateIDs []uuid.UUID `json:"candidateIds"`
}

func (e ClientIdentityAmbiguous) EventName() string { return "identity.match.ambiguous" }

// ClientsMerged is published after a duplicate aggregate was folded into
// the one carrying the external id.
type ClientsMerged struct {
	BaseEvent
	SurvivorID uuid.UUID `json:"survivorId"`
	RemovedID  uuid.UUID `json:"removedId"`
	ExternalID string    `json:"externalId,omitempty"`
	Name       string    `json:"name"`
	Reason     string    `json:"reason"`
}

func (e ClientsMerged) EventName() string { return "identity.clients.merged" }

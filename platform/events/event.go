// Package events is the in-process publish/subscribe layer the sync pipeline
// uses to hand work (operator alerts, state-change fan-out) to other modules
// without calling them directly.
package events

import (
	"context"
	"fmt"
	"time"
)

// Event is anything that can travel on a Bus. The name is the routing key.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent carries the timestamp; embed it in concrete events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps the wall clock.
func NewBaseEvent() BaseEvent { return BaseEventAt(time.Now()) }

// BaseEventAt stamps t, so code running on an injected clock publishes
// consistent timestamps.
func BaseEventAt(t time.Time) BaseEvent { return BaseEvent{Timestamp: t.UTC()} }

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Bus routes events by name.
type Bus interface {
	// Publish hands the event off and returns immediately; handler errors are
	// logged by the bus.
	Publish(ctx context.Context, event Event)
	// PublishSync runs every handler before returning their joined errors.
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}

// On subscribes fn to events of type T, keyed by the zero value's name. An
// event published under that name with a different type is an error.
func On[T Event](bus Bus, fn func(ctx context.Context, event T) error) {
	var zero T
	name := zero.EventName()
	bus.Subscribe(name, HandlerFunc(func(ctx context.Context, event Event) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("events: %s delivered as %T", name, event)
		}
		return fn(ctx, typed)
	}))
}

package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"booking_sync_backend/platform/logger"
)

type pingEvent struct {
	BaseEvent
}

func (pingEvent) EventName() string { return "test.ping" }

func TestInMemoryBusPublishSyncJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	var calls int32

	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}))

	err := bus.PublishSync(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestInMemoryBusPublishRecoversPanics(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	var delivered int32

	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, e Event) error {
		panic("handler bug")
	}))
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	}))

	bus.Publish(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	bus.Wait()

	if atomic.LoadInt32(&delivered) != 1 {
		t.Fatalf("expected second handler to run after a panic")
	}
}

type pongEvent struct {
	BaseEvent
	Seq int
}

func (pongEvent) EventName() string { return "test.pong" }

// impostor shares pongEvent's name but not its type.
type impostor struct{ BaseEvent }

func (impostor) EventName() string { return "test.pong" }

func TestOnDeliversTypedEvents(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	var got []int
	On(bus, func(_ context.Context, e pongEvent) error {
		got = append(got, e.Seq)
		return nil
	})

	at := time.Date(2025, 11, 20, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	if err := bus.PublishSync(context.Background(), pongEvent{BaseEvent: BaseEventAt(at), Seq: 7}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected one delivery of seq 7, got %v", got)
	}
	if err := bus.PublishSync(context.Background(), impostor{}); err == nil {
		t.Fatalf("expected a type mismatch error")
	}
	if BaseEventAt(at).OccurredAt().Location() != time.UTC {
		t.Fatalf("expected timestamps in UTC")
	}
}

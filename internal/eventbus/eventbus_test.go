package eventbus

import (
	"context"
	"testing"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/storage"
	"github.com/dshills/flowforge/internal/storage/memory"
)

func newBusWithRun(t *testing.T) (*Bus, string) {
	t.Helper()
	backend := memory.New()
	run := &domain.Run{ID: "run-1", FlowID: "flow-1", Status: domain.RunRunning, NextSeq: 0}
	if err := backend.Runs().Save(context.Background(), run); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}
	return New(backend.Events()), run.ID
}

func TestBusAppendAssignsSequentialSeq(t *testing.T) {
	bus, runID := newBusWithRun(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev, err := bus.Append(ctx, runID, func(seq int64) domain.Event {
			return domain.Event{Type: domain.EventNodeQueued}
		})
		if err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
		if ev.Seq != int64(i) {
			t.Fatalf("event %d got seq %d, want %d", i, ev.Seq, i)
		}
	}

	events, err := bus.List(ctx, runID, storage.EventRange{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("List() returned %d events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i) {
			t.Fatalf("events[%d].Seq = %d, want %d", i, ev.Seq, i)
		}
	}
}

func TestBusPublishesToSubscribers(t *testing.T) {
	bus, runID := newBusWithRun(t)
	ctx := context.Background()

	var received []domain.Event
	sub := PublisherFunc(func(_ context.Context, ev domain.Event) {
		received = append(received, ev)
	})
	bus.Subscribe(sub)

	if _, err := bus.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{Type: domain.EventRunStarted}
	}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("subscriber received %d events, want 1", len(received))
	}
	if received[0].Type != domain.EventRunStarted {
		t.Fatalf("received event type = %q, want run.started", received[0].Type)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus, runID := newBusWithRun(t)
	ctx := context.Background()

	count := 0
	sub := PublisherFunc(func(_ context.Context, _ domain.Event) { count++ })
	bus.Subscribe(sub)
	bus.Unsubscribe(sub)

	if _, err := bus.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{Type: domain.EventRunStarted}
	}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("unsubscribed publisher received %d events, want 0", count)
	}
}

func TestBusDrainOutboxMarksOnlyAcceptedEvents(t *testing.T) {
	bus, runID := newBusWithRun(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := bus.Append(ctx, runID, func(seq int64) domain.Event {
			return domain.Event{Type: domain.EventNodeQueued}
		}); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	delivered := 0
	err := bus.DrainOutbox(ctx, 10, func(ev domain.Event) bool {
		delivered++
		return ev.Seq == 0 // accept only the first
	})
	if err != nil {
		t.Fatalf("DrainOutbox() failed: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("DrainOutbox saw %d pending events, want 2", delivered)
	}

	remaining := 0
	_ = bus.DrainOutbox(ctx, 10, func(domain.Event) bool {
		remaining++
		return true
	})
	if remaining != 1 {
		t.Fatalf("after marking seq 0 emitted, %d events remained pending, want 1", remaining)
	}
}

// Package eventbus appends events to the durable per-run log via an
// EventStore and fans them out to subscribers, decoupling writers
// (the run runner) from observers (RPC push, metrics, tracing).
package eventbus

import (
	"context"
	"reflect"
	"sync"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/storage"
)

// Publisher receives every event appended to the bus, after the
// append has durably committed. Implementations must not block the
// caller for long and must not panic.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(ctx context.Context, event domain.Event)

func (f PublisherFunc) Publish(ctx context.Context, event domain.Event) { f(ctx, event) }

// Bus appends events through an EventStore and fans each committed
// event out to registered Publishers. It is the single point through
// which the run runner's serialized write lane emits events, per
// spec.md §4.2's atomic sequence assignment.
type Bus struct {
	store storage.EventStore

	mu         sync.RWMutex
	publishers []Publisher
}

// New constructs a Bus appending through store.
func New(store storage.EventStore) *Bus {
	return &Bus{store: store}
}

// Subscribe registers p to receive every future appended event. Not
// safe to call concurrently with Append from the same goroutine that
// also removes subscriptions; typical use is one-time startup wiring.
func (b *Bus) Subscribe(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers = append(b.publishers, p)
}

// Unsubscribe removes p from future event delivery. No-op if p was
// never subscribed (or was already removed). Comparable publishers are
// matched by interface identity, so the same concrete pointer passed to
// Subscribe must be passed here; func-typed publishers (PublisherFunc)
// are matched by code pointer, so two closures of the same function
// literal count as the same publisher.
func (b *Bus) Unsubscribe(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pt := reflect.TypeOf(p)
	for i, existing := range b.publishers {
		if reflect.TypeOf(existing) != pt {
			continue
		}
		var same bool
		switch {
		case pt.Kind() == reflect.Func:
			same = reflect.ValueOf(existing).Pointer() == reflect.ValueOf(p).Pointer()
		case pt.Comparable():
			same = existing == p
		}
		if same {
			b.publishers = append(b.publishers[:i:i], b.publishers[i+1:]...)
			return
		}
	}
}

// Append builds and persists one event for runID via the EventStore
// (which assigns Seq atomically against the Run record's nextSeq
// watermark) and then publishes the committed event to subscribers.
func (b *Bus) Append(ctx context.Context, runID string, build func(seq int64) domain.Event) (domain.Event, error) {
	ev, err := b.store.Append(ctx, runID, build)
	if err != nil {
		return domain.Event{}, err
	}
	b.mu.RLock()
	subs := make([]Publisher, len(b.publishers))
	copy(subs, b.publishers)
	b.mu.RUnlock()
	for _, p := range subs {
		p.Publish(ctx, ev)
	}
	return ev, nil
}

// List reads a run's event log in strict seq order.
func (b *Bus) List(ctx context.Context, runID string, r storage.EventRange) ([]domain.Event, error) {
	return b.store.List(ctx, runID, r)
}

// DrainOutbox delivers up to limit not-yet-emitted events to fn and
// marks them emitted only for entries fn accepts, implementing the
// transactional-outbox half of event delivery for backends (e.g. a
// restarted process) that did not have live Publisher subscribers
// when the events were originally appended.
func (b *Bus) DrainOutbox(ctx context.Context, limit int, fn func(domain.Event) bool) error {
	pending, err := b.store.PendingEvents(ctx, limit)
	if err != nil {
		return err
	}
	var delivered []string
	for _, oe := range pending {
		if fn(oe.Event) {
			delivered = append(delivered, oe.ID)
		}
	}
	if len(delivered) == 0 {
		return nil
	}
	return b.store.MarkEventsEmitted(ctx, delivered)
}

package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/eventbus"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/storage"
	"github.com/dshills/flowforge/internal/storage/memory"
)

// stubHandler is a no-op Handler: tests fire trigger fire-time behavior
// via Manager.Fire directly rather than simulating a real host listener.
type stubHandler struct {
	kind domain.TriggerKind
}

func (h stubHandler) Kind() domain.TriggerKind                                     { return h.kind }
func (h stubHandler) Install(context.Context, *domain.TriggerSpec, FireFunc) error { return nil }
func (h stubHandler) Uninstall(string) error                                       { return nil }

func newTestManager(t *testing.T, cfg Config) (*Manager, *memory.Backend) {
	t.Helper()
	b := memory.New()
	bus := eventbus.New(b.Events())
	log := logging.New(logging.Config{Level: "error"})
	m := New(cfg, b.Triggers(), b.Runs(), b.Queue(), bus, nil, log, nil)
	m.RegisterHandler(stubHandler{kind: domain.TriggerHotkey})
	return m, b
}

func installSpec(t *testing.T, m *Manager, b *memory.Backend, spec *domain.TriggerSpec) {
	t.Helper()
	ctx := context.Background()
	if err := b.Triggers().Save(ctx, spec); err != nil {
		t.Fatalf("Save(trigger) failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
}

func TestFireErrorsWhenTriggerNotInstalled(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	if err := m.Fire(context.Background(), "missing"); err == nil {
		t.Fatal("Fire() on an uninstalled trigger should error")
	}
}

// TestFireCooldownDropsRepeatFires is spec.md §8 seed scenario 6: a
// 1000ms cooldown fired 5x within 200ms admits exactly one Run.
func TestFireCooldownDropsRepeatFires(t *testing.T) {
	m, b := newTestManager(t, Config{})
	spec := &domain.TriggerSpec{
		ID: "t1", Kind: domain.TriggerHotkey, Enabled: true, FlowID: "f1",
		CommandKey: "x", CooldownMs: 1000,
	}
	installSpec(t, m, b, spec)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := m.Fire(ctx, "t1"); err != nil {
			t.Fatalf("Fire() call %d failed: %v", i, err)
		}
	}

	runs, err := b.Runs().List(ctx, "")
	if err != nil {
		t.Fatalf("List(runs) failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want exactly 1 admitted by cooldown", len(runs))
	}
}

// TestFireCooldownReleasesAfterInterval confirms the cooldown is a
// sliding window, not a one-shot latch.
func TestFireCooldownReleasesAfterInterval(t *testing.T) {
	m, b := newTestManager(t, Config{})
	spec := &domain.TriggerSpec{
		ID: "t1", Kind: domain.TriggerHotkey, Enabled: true, FlowID: "f1",
		CommandKey: "x", CooldownMs: 20,
	}
	installSpec(t, m, b, spec)

	ctx := context.Background()
	if err := m.Fire(ctx, "t1"); err != nil {
		t.Fatalf("first Fire() failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if err := m.Fire(ctx, "t1"); err != nil {
		t.Fatalf("second Fire() failed: %v", err)
	}

	runs, err := b.Runs().List(ctx, "")
	if err != nil {
		t.Fatalf("List(runs) failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2 once the cooldown window elapsed", len(runs))
	}
}

// TestFireGlobalMaxQueuedCapsAcrossBurst is spec.md §8 seed scenario 6's
// maxQueued=3 half: a 100-fire burst with no per-trigger cooldown never
// admits more than the global cap while the queue stays full.
func TestFireGlobalMaxQueuedCapsAcrossBurst(t *testing.T) {
	m, b := newTestManager(t, Config{MaxQueued: 3})
	spec := &domain.TriggerSpec{
		ID: "t1", Kind: domain.TriggerHotkey, Enabled: true, FlowID: "f1", CommandKey: "x",
	}
	installSpec(t, m, b, spec)

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := m.Fire(ctx, "t1"); err != nil {
			t.Fatalf("Fire() call %d failed: %v", i, err)
		}
	}

	items, err := b.Queue().List(ctx)
	if err != nil {
		t.Fatalf("List(queue) failed: %v", err)
	}
	if len(items) > 3 {
		t.Fatalf("len(queue items) = %d, want never to exceed maxQueued=3", len(items))
	}
}

// TestFireKicksScheduler confirms a successful fire wakes the
// Scheduler immediately rather than leaving it to the next
// reclamation tick, per spec.md §2's control-flow description.
func TestFireKicksScheduler(t *testing.T) {
	b := memory.New()
	bus := eventbus.New(b.Events())
	log := logging.New(logging.Config{Level: "error"})
	kicked := 0
	m := New(Config{}, b.Triggers(), b.Runs(), b.Queue(), bus, nil, log, func() { kicked++ })
	m.RegisterHandler(stubHandler{kind: domain.TriggerHotkey})

	spec := &domain.TriggerSpec{
		ID: "t1", Kind: domain.TriggerHotkey, Enabled: true, FlowID: "f1", CommandKey: "x",
	}
	installSpec(t, m, b, spec)

	if err := m.Fire(context.Background(), "t1"); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if kicked != 1 {
		t.Fatalf("scheduler kicked %d times, want 1", kicked)
	}
}

func TestEnqueueRunCreatesQueuedRunAndEmitsEvent(t *testing.T) {
	b := memory.New()
	bus := eventbus.New(b.Events())
	ctx := context.Background()

	result, err := EnqueueRun(ctx, b.Runs(), b.Queue(), bus, EnqueueRequest{FlowID: "f1"})
	if err != nil {
		t.Fatalf("EnqueueRun() failed: %v", err)
	}
	if result.RunID == "" {
		t.Fatal("EnqueueRun() returned an empty RunID")
	}
	if result.Position != 1 {
		t.Fatalf("Position = %d, want 1 (sole queued item)", result.Position)
	}

	run, err := b.Runs().Get(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Get(run) failed: %v", err)
	}
	if run.Status != domain.RunQueued {
		t.Fatalf("run.Status = %s, want queued", run.Status)
	}
	if run.NextSeq != 1 {
		t.Fatalf("run.NextSeq = %d after the run.queued append, want 1", run.NextSeq)
	}

	item, err := b.Queue().Get(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Get(queue item) failed: %v", err)
	}
	if item.Status != domain.QueueQueued {
		t.Fatalf("queue item status = %s, want queued", item.Status)
	}

	events, err := b.Events().List(ctx, result.RunID, storage.EventRange{})
	if err != nil {
		t.Fatalf("List(events) failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventRunQueued {
		t.Fatalf("events = %+v, want a single run.queued", events)
	}
}

// failingEventStore rejects every append, standing in for a transient
// Event Store outage during enqueue.
type failingEventStore struct{}

func (failingEventStore) Append(context.Context, string, func(int64) domain.Event) (domain.Event, error) {
	return domain.Event{}, domain.NewError(domain.CodeInternal, "event store unavailable")
}

func (failingEventStore) List(context.Context, string, storage.EventRange) ([]domain.Event, error) {
	return nil, nil
}

func (failingEventStore) PendingEvents(context.Context, int) ([]storage.OutboxEvent, error) {
	return nil, nil
}

func (failingEventStore) MarkEventsEmitted(context.Context, []string) error { return nil }

func TestEnqueueRunFailsWhenRunQueuedAppendFails(t *testing.T) {
	b := memory.New()
	bus := eventbus.New(failingEventStore{})

	_, err := EnqueueRun(context.Background(), b.Runs(), b.Queue(), bus, EnqueueRequest{FlowID: "f1"})
	if err == nil {
		t.Fatal("EnqueueRun() reported success without a durable run.queued event")
	}
}

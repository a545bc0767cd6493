package recovery

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

func newCoordinator(b *memory.Backend) *Coordinator {
	log := logging.New(logging.Config{Level: "error"})
	bus := eventbus.New(b.Events())
	return New(b.Runs(), b.Queue(), bus, log)
}

func TestRecoveryRemovesOrphanQueueItemsWithNoRun(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "ghost", FlowID: "f1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	report, err := newCoordinator(b).Run(ctx, "owner-1", time.Minute)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.OrphanQueueItemsRemoved != 1 {
		t.Fatalf("OrphanQueueItemsRemoved = %d, want 1", report.OrphanQueueItemsRemoved)
	}
	if _, err := b.Queue().Get(ctx, "ghost"); err == nil {
		t.Fatal("orphan queue item should have been removed")
	}
}

func TestRecoveryRemovesQueueItemsForTerminalRuns(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	if err := b.Runs().Save(ctx, &domain.Run{ID: "r1", FlowID: "f1", Status: domain.RunSucceeded}); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}
	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "r1", FlowID: "f1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	report, err := newCoordinator(b).Run(ctx, "owner-1", time.Minute)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.OrphanQueueItemsRemoved != 1 {
		t.Fatalf("OrphanQueueItemsRemoved = %d, want 1", report.OrphanQueueItemsRemoved)
	}
}

func TestRecoveryRequeuesOrphanRunningAndEmitsRecoveredEvent(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	now := time.Now()
	if err := b.Runs().Save(ctx, &domain.Run{ID: "r1", FlowID: "f1", Status: domain.RunRunning, NextSeq: 1}); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}
	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "r1", FlowID: "f1", CreatedAt: now}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := b.Queue().ClaimNext(ctx, "dead-owner", time.Minute, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}

	report, err := newCoordinator(b).Run(ctx, "new-owner", time.Minute)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.RequeuedRuns != 1 {
		t.Fatalf("RequeuedRuns = %d, want 1", report.RequeuedRuns)
	}

	run, err := b.Runs().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get(run) failed: %v", err)
	}
	if run.Status != domain.RunQueued {
		t.Fatalf("run.Status = %s, want queued", run.Status)
	}

	events, err := b.Events().List(ctx, "r1", storage.EventRange{})
	if err != nil {
		t.Fatalf("List(events) failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventRunRecovered {
		t.Fatalf("events = %+v, want a single run.recovered", events)
	}
	if events[0].Data["fromStatus"] != string(domain.RunRunning) || events[0].Data["toStatus"] != string(domain.RunQueued) {
		t.Fatalf("event data = %+v, want fromStatus=running toStatus=queued", events[0].Data)
	}
	if events[0].Data["prevOwnerId"] != "dead-owner" {
		t.Fatalf("event prevOwnerId = %v, want dead-owner", events[0].Data["prevOwnerId"])
	}
}

func TestRecoveryAdoptsOrphanPausedRuns(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	now := time.Now()
	if err := b.Runs().Save(ctx, &domain.Run{ID: "r1", FlowID: "f1", Status: domain.RunPaused, NextSeq: 1}); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}
	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "r1", FlowID: "f1", CreatedAt: now}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := b.Queue().ClaimNext(ctx, "dead-owner", time.Minute, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}
	if _, err := b.Queue().MarkPaused(ctx, "r1"); err != nil {
		t.Fatalf("MarkPaused() failed: %v", err)
	}

	report, err := newCoordinator(b).Run(ctx, "new-owner", time.Minute)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.AdoptedPausedRuns != 1 {
		t.Fatalf("AdoptedPausedRuns = %d, want 1", report.AdoptedPausedRuns)
	}

	item, err := b.Queue().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get(queue item) failed: %v", err)
	}
	if item.Status != domain.QueuePaused {
		t.Fatalf("queue item status = %s, want paused", item.Status)
	}
	if item.Lease == nil || item.Lease.OwnerID != "new-owner" {
		t.Fatalf("queue item lease = %+v, want adopted by new-owner", item.Lease)
	}
}

func TestRecoveryIsIdempotentOnSecondRun(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	now := time.Now()
	if err := b.Runs().Save(ctx, &domain.Run{ID: "r1", FlowID: "f1", Status: domain.RunRunning, NextSeq: 1}); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}
	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "r1", FlowID: "f1", CreatedAt: now}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := b.Queue().ClaimNext(ctx, "dead-owner", time.Minute, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}

	coord := newCoordinator(b)
	if _, err := coord.Run(ctx, "new-owner", time.Minute); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	second, err := coord.Run(ctx, "new-owner", time.Minute)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if second.RequeuedRuns != 0 || second.AdoptedPausedRuns != 0 || second.OrphanQueueItemsRemoved != 0 {
		t.Fatalf("second Run() = %+v, want a no-op", second)
	}

	events, err := b.Events().List(ctx, "r1", storage.EventRange{})
	if err != nil {
		t.Fatalf("List(events) failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %+v, want exactly one run.recovered (no duplicate from second pass)", events)
	}
}

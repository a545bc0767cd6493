package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/storage"
)

func TestQueueClaimNextOrdersByPriorityThenCreatedAt(t *testing.T) {
	b := New()
	ctx := context.Background()
	now := time.Now()

	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "low", Priority: 0, CreatedAt: now.Add(-time.Minute)})
	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "high-old", Priority: 5, CreatedAt: now.Add(-time.Hour)})
	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "high-new", Priority: 5, CreatedAt: now})

	first, err := b.Queue().ClaimNext(ctx, "owner", time.Minute, now)
	if err != nil || first == nil {
		t.Fatalf("ClaimNext() = %v, %v", first, err)
	}
	if first.ID != "high-old" {
		t.Fatalf("first claim = %q, want high-old (highest priority, oldest)", first.ID)
	}

	second, err := b.Queue().ClaimNext(ctx, "owner", time.Minute, now)
	if err != nil || second == nil {
		t.Fatalf("ClaimNext() = %v, %v", second, err)
	}
	if second.ID != "high-new" {
		t.Fatalf("second claim = %q, want high-new", second.ID)
	}
}

func TestQueueClaimNextReturnsNilWhenEmpty(t *testing.T) {
	b := New()
	item, err := b.Queue().ClaimNext(context.Background(), "owner", time.Minute, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext() returned error: %v", err)
	}
	if item != nil {
		t.Fatalf("ClaimNext() on empty queue = %+v, want nil", item)
	}
}

func TestQueueClaimSetsLeaseAndIncrementsAttempt(t *testing.T) {
	b := New()
	ctx := context.Background()
	now := time.Now()
	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "r1", CreatedAt: now})

	item, err := b.Queue().ClaimNext(ctx, "owner-1", 10*time.Second, now)
	if err != nil || item == nil {
		t.Fatalf("ClaimNext() = %v, %v", item, err)
	}
	if item.Status != domain.QueueRunning {
		t.Fatalf("status = %s, want running", item.Status)
	}
	if item.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", item.Attempt)
	}
	if item.Lease == nil || item.Lease.OwnerID != "owner-1" {
		t.Fatalf("lease = %+v, want owner-1", item.Lease)
	}
	if !item.Lease.ExpiresAt.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("lease.ExpiresAt = %v, want %v", item.Lease.ExpiresAt, now.Add(10*time.Second))
	}
}

func TestQueueHeartbeatRefreshesRunningAndPausedOnly(t *testing.T) {
	b := New()
	ctx := context.Background()
	now := time.Now()
	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "r1", CreatedAt: now})
	if _, err := b.Queue().ClaimNext(ctx, "owner", 5*time.Second, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}

	later := now.Add(time.Second)
	n, err := b.Queue().Heartbeat(ctx, "owner", 30*time.Second, later)
	if err != nil {
		t.Fatalf("Heartbeat() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Heartbeat() refreshed %d leases, want 1", n)
	}

	item, err := b.Queue().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !item.Lease.ExpiresAt.Equal(later.Add(30 * time.Second)) {
		t.Fatalf("lease.ExpiresAt = %v, want %v", item.Lease.ExpiresAt, later.Add(30*time.Second))
	}
}

func TestQueueReclaimExpiredLeasesRequeues(t *testing.T) {
	b := New()
	ctx := context.Background()
	now := time.Now()
	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "r1", CreatedAt: now})
	if _, err := b.Queue().ClaimNext(ctx, "owner", time.Second, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}

	reclaimed, err := b.Queue().ReclaimExpiredLeases(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases() failed: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != "r1" {
		t.Fatalf("reclaimed = %+v, want [r1]", reclaimed)
	}

	item, err := b.Queue().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.Status != domain.QueueQueued {
		t.Fatalf("status after reclaim = %s, want queued", item.Status)
	}
	if item.Lease != nil {
		t.Fatal("lease should be dropped after reclaim")
	}
	if item.Attempt != 1 {
		t.Fatalf("attempt after reclaim = %d, want preserved at 1", item.Attempt)
	}
}

func TestQueueRecoverOrphanLeasesRequeuesRunningAdoptsPaused(t *testing.T) {
	b := New()
	ctx := context.Background()
	now := time.Now()

	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "running-orphan", CreatedAt: now})
	if _, err := b.Queue().ClaimNext(ctx, "dead-owner", time.Minute, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}

	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "paused-orphan", CreatedAt: now})
	if _, err := b.Queue().ClaimNext(ctx, "dead-owner", time.Minute, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}
	if _, err := b.Queue().MarkPaused(ctx, "paused-orphan"); err != nil {
		t.Fatalf("MarkPaused() failed: %v", err)
	}

	requeued, adopted, err := b.Queue().RecoverOrphanLeases(ctx, "new-owner", time.Minute, now)
	if err != nil {
		t.Fatalf("RecoverOrphanLeases() failed: %v", err)
	}
	if len(requeued) != 1 || requeued[0].Item.ID != "running-orphan" || requeued[0].PreviousOwner != "dead-owner" {
		t.Fatalf("requeued = %+v, want [running-orphan from dead-owner]", requeued)
	}
	if len(adopted) != 1 || adopted[0].Item.ID != "paused-orphan" || adopted[0].PreviousOwner != "dead-owner" {
		t.Fatalf("adopted = %+v, want [paused-orphan from dead-owner]", adopted)
	}

	runningItem, err := b.Queue().Get(ctx, "running-orphan")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if runningItem.Status != domain.QueueQueued || runningItem.Lease != nil {
		t.Fatalf("running-orphan = %+v, want requeued with no lease", runningItem)
	}

	pausedItem, err := b.Queue().Get(ctx, "paused-orphan")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if pausedItem.Status != domain.QueuePaused {
		t.Fatalf("paused-orphan status = %s, want paused", pausedItem.Status)
	}
	if pausedItem.Lease == nil || pausedItem.Lease.OwnerID != "new-owner" {
		t.Fatalf("paused-orphan lease = %+v, want adopted by new-owner", pausedItem.Lease)
	}
}

func TestQueueCancelOnlyAllowedFromQueued(t *testing.T) {
	b := New()
	ctx := context.Background()
	now := time.Now()
	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "r1", CreatedAt: now})

	if err := b.Queue().Cancel(ctx, "r1"); err != nil {
		t.Fatalf("Cancel() on queued item failed: %v", err)
	}
	if _, err := b.Queue().Get(ctx, "r1"); err == nil {
		t.Fatal("canceled queued item should be removed from the queue")
	}

	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "r2", CreatedAt: now})
	if _, err := b.Queue().ClaimNext(ctx, "owner", time.Minute, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}
	if err := b.Queue().Cancel(ctx, "r2"); err == nil {
		t.Fatal("Cancel() on a running item should fail")
	}
}

func TestQueueMarkDoneRemovesItem(t *testing.T) {
	b := New()
	ctx := context.Background()
	mustEnqueue(t, b, ctx, &domain.QueueItem{ID: "r1", CreatedAt: time.Now()})
	if err := b.Queue().MarkDone(ctx, "r1"); err != nil {
		t.Fatalf("MarkDone() failed: %v", err)
	}
	if _, err := b.Queue().Get(ctx, "r1"); err == nil {
		t.Fatal("MarkDone should remove the queue item entirely")
	}
}

func TestEventAppendAllocatesSeqFromRunWatermark(t *testing.T) {
	b := New()
	ctx := context.Background()
	run := &domain.Run{ID: "run-1", NextSeq: 0}
	if err := b.Runs().Save(ctx, run); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}

	ev, err := b.Events().Append(ctx, "run-1", func(seq int64) domain.Event {
		return domain.Event{Type: domain.EventRunStarted}
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if ev.Seq != 0 {
		t.Fatalf("first event Seq = %d, want 0", ev.Seq)
	}

	ev2, err := b.Events().Append(ctx, "run-1", func(seq int64) domain.Event {
		return domain.Event{Type: domain.EventNodeQueued}
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if ev2.Seq != 1 {
		t.Fatalf("second event Seq = %d, want 1", ev2.Seq)
	}

	updated, err := b.Runs().Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get(run) failed: %v", err)
	}
	if updated.NextSeq != 2 {
		t.Fatalf("run.NextSeq = %d after two appends, want 2", updated.NextSeq)
	}
}

func TestEventAppendFailsWithoutRunRecord(t *testing.T) {
	b := New()
	if _, err := b.Events().Append(context.Background(), "no-such-run", func(seq int64) domain.Event {
		return domain.Event{Type: domain.EventRunStarted}
	}); err == nil {
		t.Fatal("Append() accepted an event for a run with no Run record")
	}
}

func TestEventListHonorsFromSeqAndLimit(t *testing.T) {
	b := New()
	ctx := context.Background()
	run := &domain.Run{ID: "run-1", NextSeq: 0}
	if err := b.Runs().Save(ctx, run); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := b.Events().Append(ctx, "run-1", func(seq int64) domain.Event {
			return domain.Event{Type: domain.EventNodeQueued}
		}); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	events, err := b.Events().List(ctx, "run-1", storage.EventRange{FromSeq: 2, Limit: 2})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("List() returned %d events, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("List() = %+v, want seq 2 and 3", events)
	}
}

func TestPersistentVarWritesAreMonotonic(t *testing.T) {
	b := New()
	ctx := context.Background()

	v1, err := b.Vars().Set(ctx, "$counter", 1)
	if err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if v1.Version != 1 {
		t.Fatalf("first write version = %d, want 1", v1.Version)
	}

	v2, err := b.Vars().Set(ctx, "$counter", 2)
	if err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("second write version = %d, want 2 (previous + 1)", v2.Version)
	}
}

func TestPersistentVarRejectsNonDollarName(t *testing.T) {
	b := New()
	if _, err := b.Vars().Set(context.Background(), "counter", 1); err == nil {
		t.Fatal("Set() accepted a key without the $ prefix")
	}
}

func mustEnqueue(t *testing.T, b *Backend, ctx context.Context, item *domain.QueueItem) {
	t.Helper()
	if item.FlowID == "" {
		item.FlowID = "flow-1"
	}
	if err := b.Queue().Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", item.ID, err)
	}
}

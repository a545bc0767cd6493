package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestFlowSaveValidatesAndRoundTrips(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	flow := &domain.Flow{
		ID:          "f1",
		EntryNodeID: "a",
		Nodes: []domain.Node{
			{ID: "a", Kind: "noop"},
			{ID: "b", Kind: "noop"},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "a", Target: "b", Label: domain.LabelDefault}},
	}
	if err := b.Flows().Save(ctx, flow); err != nil {
		t.Fatalf("Save(flow) failed: %v", err)
	}

	got, err := b.Flows().Get(ctx, "f1")
	if err != nil {
		t.Fatalf("Get(flow) failed: %v", err)
	}
	if len(got.Nodes) != 2 || len(got.Edges) != 1 {
		t.Fatalf("round-tripped flow = %+v, want 2 nodes and 1 edge", got)
	}

	invalid := &domain.Flow{ID: "f2", EntryNodeID: "missing"}
	if err := b.Flows().Save(ctx, invalid); err == nil {
		t.Fatal("Save() should reject a flow whose entryNodeId does not exist")
	}
}

func TestFlowGetMissingReturnsErrNotFound(t *testing.T) {
	b := newTestBackend(t)
	if _, err := b.Flows().Get(context.Background(), "ghost"); err != domain.ErrNotFound {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRunPatchPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowforge.db")

	b1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ctx := context.Background()
	run := &domain.Run{ID: "r1", FlowID: "f1", Status: domain.RunRunning, NextSeq: 1}
	if err := b1.Runs().Save(ctx, run); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}
	if _, err := b1.Runs().Patch(ctx, "r1", func(r *domain.Run) error {
		r.Status = domain.RunSucceeded
		r.Outputs = map[string]any{"x": float64(1)}
		return nil
	}); err != nil {
		t.Fatalf("Patch(run) failed: %v", err)
	}
	if err := b1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	b2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen Open() failed: %v", err)
	}
	defer func() { _ = b2.Close() }()

	got, err := b2.Runs().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get(run) after reopen failed: %v", err)
	}
	if got.Status != domain.RunSucceeded {
		t.Fatalf("Status after reopen = %s, want succeeded", got.Status)
	}
	if got.Outputs["x"] != float64(1) {
		t.Fatalf("Outputs after reopen = %+v, want x=1", got.Outputs)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected db file to exist on disk: %v", statErr)
	}
}

func TestEventAppendAssignsSequentialSeqAndPreservesDecision(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	if err := b.Runs().Save(ctx, &domain.Run{ID: "r1", FlowID: "f1", Status: domain.RunRunning, NextSeq: 0}); err != nil {
		t.Fatalf("Save(run) failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := b.Events().Append(ctx, "r1", func(seq int64) domain.Event {
			return domain.Event{Type: domain.EventNodeFailed, NodeID: "a", Decision: "retry"}
		}); err != nil {
			t.Fatalf("Append() #%d failed: %v", i, err)
		}
	}

	events, err := b.Events().List(ctx, "r1", storage.EventRange{})
	if err != nil {
		t.Fatalf("List(events) failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i) {
			t.Fatalf("events[%d].Seq = %d, want %d", i, ev.Seq, i)
		}
		if ev.Decision != "retry" {
			t.Fatalf("events[%d].Decision = %q, want retry", i, ev.Decision)
		}
	}
}

func TestQueueClaimNextOrdersByPriorityThenCreatedAt(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "low", FlowID: "f1", Priority: 0, CreatedAt: now}); err != nil {
		t.Fatalf("Enqueue(low) failed: %v", err)
	}
	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "high", FlowID: "f1", Priority: 10, CreatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("Enqueue(high) failed: %v", err)
	}

	claimed, err := b.Queue().ClaimNext(ctx, "owner-1", time.Minute, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}
	if claimed == nil || claimed.ID != "high" {
		t.Fatalf("ClaimNext() = %+v, want the higher-priority item", claimed)
	}
	if claimed.Status != domain.QueueRunning || claimed.Lease == nil || claimed.Lease.OwnerID != "owner-1" {
		t.Fatalf("claimed item = %+v, want status=running with owner-1's lease", claimed)
	}
}

func TestQueueHeartbeatExtendsLeaseOnlyForOwnedItems(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "r1", FlowID: "f1", CreatedAt: now}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := b.Queue().ClaimNext(ctx, "owner-1", time.Second, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}

	n, err := b.Queue().Heartbeat(ctx, "owner-2", time.Minute, now.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("Heartbeat(wrong owner) failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("Heartbeat(wrong owner) refreshed %d leases, want 0", n)
	}

	n, err = b.Queue().Heartbeat(ctx, "owner-1", time.Minute, now.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("Heartbeat(owner-1) failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Heartbeat(owner-1) refreshed %d leases, want 1", n)
	}
}

func TestQueueReclaimExpiredLeasesRequeues(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: "r1", FlowID: "f1", CreatedAt: now}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := b.Queue().ClaimNext(ctx, "dead-owner", time.Millisecond, now); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}

	reclaimed, err := b.Queue().ReclaimExpiredLeases(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases() failed: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != "r1" {
		t.Fatalf("reclaimed = %+v, want exactly r1", reclaimed)
	}

	item, err := b.Queue().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get(queue item) failed: %v", err)
	}
	if item.Status != domain.QueueQueued || item.Lease != nil {
		t.Fatalf("item after reclaim = %+v, want queued with no lease", item)
	}
}

func TestVarSetRejectsNonPersistentKeyAndIncrementsVersion(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.Vars().Set(ctx, "notPrefixed", 1); err == nil {
		t.Fatal("Set() should reject a key without the persistent-var prefix")
	}

	first, err := b.Vars().Set(ctx, "$counter", 1)
	if err != nil {
		t.Fatalf("first Set() failed: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("first Version = %d, want 1", first.Version)
	}
	second, err := b.Vars().Set(ctx, "$counter", 2)
	if err != nil {
		t.Fatalf("second Set() failed: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("second Version = %d, want 2", second.Version)
	}
}

func TestTriggerSaveValidatesKindSpecificFields(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	bad := &domain.TriggerSpec{ID: "t1", Kind: domain.TriggerCron, FlowID: "f1", Enabled: true}
	if err := b.Triggers().Save(ctx, bad); err == nil {
		t.Fatal("Save() should reject a cron trigger with no cronExpr")
	}

	good := &domain.TriggerSpec{ID: "t1", Kind: domain.TriggerCron, FlowID: "f1", Enabled: true, CronExpr: "*/5 * * * *"}
	if err := b.Triggers().Save(ctx, good); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	got, err := b.Triggers().Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get(trigger) failed: %v", err)
	}
	if got.CronExpr != "*/5 * * * *" {
		t.Fatalf("CronExpr = %q, want round-tripped value", got.CronExpr)
	}
}

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/lease"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/storage/memory"
)

// blockingExecutor holds each claimed item until its run is released,
// letting tests observe in-flight counts deterministically.
type blockingExecutor struct {
	mu       sync.Mutex
	release  map[string]chan struct{}
	started  chan string
	maxSeen  int
	inFlight int
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		release: make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (e *blockingExecutor) releaseChan(runID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.release[runID]
	if !ok {
		ch = make(chan struct{})
		e.release[runID] = ch
	}
	return ch
}

func (e *blockingExecutor) Execute(ctx context.Context, item *domain.QueueItem) error {
	e.mu.Lock()
	e.inFlight++
	if e.inFlight > e.maxSeen {
		e.maxSeen = e.inFlight
	}
	e.mu.Unlock()

	e.started <- item.ID

	select {
	case <-e.releaseChan(item.ID):
	case <-ctx.Done():
	}

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	return nil
}

func (e *blockingExecutor) unblock(runID string) {
	close(e.releaseChan(runID))
}

func TestSchedulerNeverExceedsMaxParallelRuns(t *testing.T) {
	b := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := b.Queue().Enqueue(ctx, &domain.QueueItem{ID: id, FlowID: "f1", CreatedAt: now}); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
		now = now.Add(time.Millisecond)
	}

	log := logging.New(logging.Config{Level: "error"})
	leaseMgr := lease.New(b.Queue(), time.Minute, time.Minute, nil, log)
	exec := newBlockingExecutor()
	cfg := Config{OwnerID: "owner-1", MaxParallelRuns: 2, LeaseTTL: time.Minute, HeartbeatInterval: time.Minute, ReclaimInterval: time.Hour}
	s := New(cfg, b.Queue(), leaseMgr, nil, exec, nil, log)

	go s.Start(ctx)
	defer s.Stop()

	started := map[string]bool{}
	for len(started) < 2 {
		started[<-exec.started] = true
	}

	exec.mu.Lock()
	seen := exec.maxSeen
	exec.mu.Unlock()
	if seen != 2 {
		t.Fatalf("maxSeen in-flight = %d, want exactly 2 (the cap)", seen)
	}

	// Releasing one lets the third item claim; the cap must still hold.
	for id := range started {
		exec.unblock(id)
		delete(started, id)
		break
	}
	third := <-exec.started
	started[third] = true

	exec.mu.Lock()
	seen = exec.maxSeen
	exec.mu.Unlock()
	if seen > 2 {
		t.Fatalf("maxSeen in-flight = %d, want never to exceed cap 2", seen)
	}

	for id := range started {
		exec.unblock(id)
	}
}

func TestSchedulerKickIsIdempotent(t *testing.T) {
	b := memory.New()
	log := logging.New(logging.Config{Level: "error"})
	leaseMgr := lease.New(b.Queue(), time.Minute, time.Minute, nil, log)
	exec := newBlockingExecutor()
	cfg := Config{OwnerID: "owner-1", MaxParallelRuns: 1, LeaseTTL: time.Minute, HeartbeatInterval: time.Minute, ReclaimInterval: time.Hour}
	s := New(cfg, b.Queue(), leaseMgr, nil, exec, nil, log)

	// Kick before Start is running must not block or panic.
	s.Kick()
	s.Kick()
	s.Kick()
}

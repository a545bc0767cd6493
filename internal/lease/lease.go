// Package lease manages per-owner heartbeat timers for claimed queue
// items, keeping their lease.expiresAt watermark ahead of now for as
// long as the owning process holds them.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/metrics"
	"github.com/dshills/flowforge/internal/storage"
)

// CreateLease produces a new domain.Lease for ownerID expiring ttl
// after now.
func CreateLease(ownerID string, now time.Time, ttl time.Duration) domain.Lease {
	return domain.Lease{OwnerID: ownerID, ExpiresAt: now.Add(ttl)}
}

// Manager holds one heartbeat timer per owner ID, running from Start
// until Stop (the Scheduler starts its owner's timer when its loop
// begins and stops it when the loop exits). There is normally exactly one owner per host
// process (the Scheduler's ownerID), but the Manager supports more
// than one for hosts that run multiple schedulers against the same
// store.
type Manager struct {
	queue    storage.QueueStore
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	log      *logging.Logger

	mu      sync.Mutex
	workers map[string]*ownerHeartbeat
}

type ownerHeartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Manager. ttl is the lease duration granted on
// claim and refreshed on each heartbeat; interval is how often the
// heartbeat fires.
func New(queue storage.QueueStore, ttl, interval time.Duration, m *metrics.Metrics, log *logging.Logger) *Manager {
	return &Manager{
		queue:    queue,
		ttl:      ttl,
		interval: interval,
		metrics:  m,
		log:      log,
		workers:  make(map[string]*ownerHeartbeat),
	}
}

// TTL returns the configured lease duration.
func (mgr *Manager) TTL() time.Duration { return mgr.ttl }

// Start begins the heartbeat timer for ownerID if it is not already
// running. Safe to call redundantly after every successful claim.
func (mgr *Manager) Start(ctx context.Context, ownerID string) {
	mgr.mu.Lock()
	if _, ok := mgr.workers[ownerID]; ok {
		mgr.mu.Unlock()
		return
	}
	hbCtx, cancel := context.WithCancel(ctx)
	hb := &ownerHeartbeat{cancel: cancel, done: make(chan struct{})}
	mgr.workers[ownerID] = hb
	mgr.mu.Unlock()

	go mgr.run(hbCtx, ownerID, hb)
}

func (mgr *Manager) run(ctx context.Context, ownerID string, hb *ownerHeartbeat) {
	defer close(hb.done)
	ticker := time.NewTicker(mgr.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.beat(ctx, ownerID)
		}
	}
}

func (mgr *Manager) beat(ctx context.Context, ownerID string) {
	n, err := mgr.queue.Heartbeat(ctx, ownerID, mgr.ttl, time.Now())
	if err != nil {
		mgr.log.WithFields(map[string]any{"ownerId": ownerID, "error": err}).Warn("lease heartbeat failed")
		return
	}
	if mgr.metrics != nil {
		mgr.metrics.SetActiveLeases(n)
	}
}

// Stop halts the heartbeat timer for ownerID, whether or not it still
// holds leases. Blocks until the timer goroutine has exited.
func (mgr *Manager) Stop(ownerID string) {
	mgr.mu.Lock()
	hb, ok := mgr.workers[ownerID]
	if ok {
		delete(mgr.workers, ownerID)
	}
	mgr.mu.Unlock()
	if !ok {
		return
	}
	hb.cancel()
	<-hb.done
}

// StopAll halts every owner's heartbeat timer, used on host shutdown.
func (mgr *Manager) StopAll() {
	mgr.mu.Lock()
	owners := make([]string, 0, len(mgr.workers))
	for o := range mgr.workers {
		owners = append(owners, o)
	}
	mgr.mu.Unlock()
	for _, o := range owners {
		mgr.Stop(o)
	}
}

// Package scheduler implements the single-threaded cooperative
// dispatch loop per host described in spec.md §4.6: claim queue items
// up to maxParallelRuns, spawn a Runner executor for each, and react
// to kicks, reclamation ticks and heartbeat ticks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/lease"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/metrics"
	"github.com/dshills/flowforge/internal/recovery"
	"github.com/dshills/flowforge/internal/storage"
)

// Executor runs one claimed queue item to a terminal status. Runner
// implements this.
type Executor interface {
	Execute(ctx context.Context, item *domain.QueueItem) error
}

// Config configures the Scheduler's parallelism and timing.
type Config struct {
	OwnerID           string
	MaxParallelRuns   int
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	ReclaimInterval   time.Duration
}

// Scheduler owns the claim/dispatch loop. One per host process.
type Scheduler struct {
	cfg      Config
	queue    storage.QueueStore
	lease    *lease.Manager
	recovery *recovery.Coordinator
	executor Executor
	metrics  *metrics.Metrics
	log      *logging.Logger

	kickCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	mu       sync.Mutex
	inFlight int
	execDone chan string // runID of a completed executor
}

// New constructs a Scheduler. leaseMgr's TTL/interval must match cfg.
// recoveryCoord may be nil to skip the startup reconciliation pass
// (e.g. in tests against an empty store).
func New(cfg Config, queue storage.QueueStore, leaseMgr *lease.Manager, recoveryCoord *recovery.Coordinator, executor Executor, m *metrics.Metrics, log *logging.Logger) *Scheduler {
	if cfg.MaxParallelRuns <= 0 {
		cfg.MaxParallelRuns = 3
	}
	return &Scheduler{
		cfg:      cfg,
		queue:    queue,
		lease:    leaseMgr,
		recovery: recoveryCoord,
		executor: executor,
		metrics:  m,
		log:      log,
		kickCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		execDone: make(chan string, cfg.MaxParallelRuns*2+8),
	}
}

// Kick nudges the loop to re-check the queue. Idempotent: a pending
// kick coalesces with any already queued.
func (s *Scheduler) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until Stop is called or ctx is done.
// Intended to be called on its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.doneCh)

	if s.recovery != nil {
		report, err := s.recovery.Run(ctx, s.cfg.OwnerID, s.cfg.LeaseTTL)
		if err != nil {
			s.log.WithFields(map[string]any{"error": err}).Warn("startup recovery pass failed")
		} else {
			s.log.WithFields(map[string]any{
				"orphanQueueItemsRemoved": report.OrphanQueueItemsRemoved,
				"requeuedRuns":            report.RequeuedRuns,
				"adoptedPausedRuns":       report.AdoptedPausedRuns,
			}).Info("startup recovery pass complete")
		}
	}

	s.lease.Start(ctx, s.cfg.OwnerID)
	defer s.lease.Stop(s.cfg.OwnerID)

	reclaimTicker := time.NewTicker(s.cfg.ReclaimInterval)
	defer reclaimTicker.Stop()

	for {
		s.fillCapacity(ctx)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.kickCh:
		case <-reclaimTicker.C:
			s.reclaim(ctx)
		case runID := <-s.execDone:
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.SetActiveRuns(s.currentInFlight())
			}
			s.log.WithFields(map[string]any{"runId": runID}).Debug("executor completed")
		}
	}
}

// Stop signals the loop started by Start to exit and blocks until it
// has (releasing the reclaim ticker and this owner's lease heartbeat).
// It does not wait for in-flight executors; those observe the
// cancellation of the context passed to Start, so callers should
// cancel that context, then call Stop.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

func (s *Scheduler) currentInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Scheduler) fillCapacity(ctx context.Context) {
	for {
		s.mu.Lock()
		full := s.inFlight >= s.cfg.MaxParallelRuns
		s.mu.Unlock()
		if full {
			return
		}

		item, err := s.queue.ClaimNext(ctx, s.cfg.OwnerID, s.cfg.LeaseTTL, time.Now())
		if err != nil {
			s.log.WithFields(map[string]any{"error": err}).Warn("claimNext failed")
			return
		}
		if item == nil {
			return
		}

		s.mu.Lock()
		s.inFlight++
		inFlight := s.inFlight
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SetActiveRuns(inFlight)
		}

		go s.runExecutor(ctx, item)
	}
}

func (s *Scheduler) runExecutor(ctx context.Context, item *domain.QueueItem) {
	if err := s.executor.Execute(ctx, item); err != nil {
		s.log.WithFields(map[string]any{"runId": item.ID, "error": err}).Warn("run execution ended with error")
	}
	select {
	case s.execDone <- item.ID:
	case <-ctx.Done():
	}
}

func (s *Scheduler) reclaim(ctx context.Context) {
	reclaimed, err := s.queue.ReclaimExpiredLeases(ctx, time.Now())
	if err != nil {
		s.log.WithFields(map[string]any{"error": err}).Warn("reclaimExpiredLeases failed")
		return
	}
	if len(reclaimed) > 0 && s.metrics != nil {
		for range reclaimed {
			s.metrics.IncrementLeaseReclaims()
		}
	}
	if len(reclaimed) > 0 {
		s.Kick()
	}
	if s.metrics != nil {
		if items, err := s.queue.List(ctx); err == nil {
			depth := 0
			for _, it := range items {
				if it.Status == domain.QueueQueued {
					depth++
				}
			}
			s.metrics.SetQueueDepth(depth)
		}
	}
}

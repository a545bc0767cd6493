// Package recovery runs the startup reconciliation pass that restores
// queue/run invariants after an unclean host shutdown, before the
// Scheduler begins claiming work.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/eventbus"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/storage"
)

// Report summarizes one recovery pass, for logging and tests.
type Report struct {
	OrphanQueueItemsRemoved int
	RequeuedRuns            int
	AdoptedPausedRuns       int
}

// Coordinator runs the recovery pass once at host startup.
type Coordinator struct {
	runs   storage.RunStore
	queue  storage.QueueStore
	events *eventbus.Bus
	log    *logging.Logger
}

// New constructs a Coordinator.
func New(runs storage.RunStore, queue storage.QueueStore, events *eventbus.Bus, log *logging.Logger) *Coordinator {
	return &Coordinator{runs: runs, queue: queue, events: events, log: log}
}

// Run executes the four-step recovery algorithm and returns a Report.
// newOwnerID is the owner ID orphaned leases are reassigned to;
// leaseTTL is the TTL granted to adopted paused leases.
func (c *Coordinator) Run(ctx context.Context, newOwnerID string, leaseTTL time.Duration) (Report, error) {
	var report Report

	// Step 1: pre-clean. Remove queue items with no backing Run record
	// or whose Run record is already terminal (host crashed after the
	// runner finished but before queue cleanup).
	items, err := c.queue.List(ctx)
	if err != nil {
		return report, err
	}
	for _, item := range items {
		run, err := c.runs.Get(ctx, item.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if err := c.queue.MarkDone(ctx, item.ID); err != nil {
				c.log.WithFields(map[string]any{"queueId": item.ID, "error": err}).Warn("pre-clean: markDone failed for orphan queue item")
				continue
			}
			report.OrphanQueueItemsRemoved++
		case err != nil:
			c.log.WithFields(map[string]any{"queueId": item.ID, "error": err}).Warn("pre-clean: failed to read run record")
		case run.Status.IsTerminal():
			if err := c.queue.MarkDone(ctx, item.ID); err != nil {
				c.log.WithFields(map[string]any{"queueId": item.ID, "error": err}).Warn("pre-clean: markDone failed for terminal run")
				continue
			}
			report.OrphanQueueItemsRemoved++
		}
	}

	// Step 2: recover orphan leases (expired or otherwise ownerless
	// running/paused items), reassigning to newOwnerID.
	requeued, adopted, err := c.queue.RecoverOrphanLeases(ctx, newOwnerID, leaseTTL, time.Now())
	if err != nil {
		return report, err
	}

	// Step 3: reconcile requeued-running items back to queued status,
	// appending a run.recovered event recording the transition.
	for _, rec := range requeued {
		run, err := c.runs.Get(ctx, rec.Item.ID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && run.Status.IsTerminal()) {
			if err := c.queue.MarkDone(ctx, rec.Item.ID); err != nil {
				c.log.WithFields(map[string]any{"runId": rec.Item.ID, "error": err}).Warn("reconcile requeued: markDone failed")
			}
			continue
		}
		if err != nil {
			c.log.WithFields(map[string]any{"runId": rec.Item.ID, "error": err}).Warn("reconcile requeued: failed to read run record")
			continue
		}

		fromStatus := run.Status
		if _, err := c.runs.Patch(ctx, rec.Item.ID, func(r *domain.Run) error {
			r.Status = domain.RunQueued
			return nil
		}); err != nil {
			c.log.WithFields(map[string]any{"runId": rec.Item.ID, "error": err}).Warn("reconcile requeued: patch failed")
			continue
		}

		if c.events != nil {
			if _, err := c.events.Append(ctx, rec.Item.ID, func(seq int64) domain.Event {
				return domain.Event{
					RunID:     rec.Item.ID,
					Seq:       seq,
					Timestamp: time.Now(),
					Type:      domain.EventRunRecovered,
					Reason:    "sw_restart",
					Data: map[string]any{
						"fromStatus":  string(fromStatus),
						"toStatus":    string(domain.RunQueued),
						"prevOwnerId": rec.PreviousOwner,
					},
				}
			}); err != nil {
				c.log.WithFields(map[string]any{"runId": rec.Item.ID, "error": err}).Warn("reconcile requeued: failed to append run.recovered")
			}
		}
		report.RequeuedRuns++
	}

	// Step 4: reconcile adopted-paused items, ensuring the Run record
	// status is paused (a crash mid-pause-patch could have left it
	// running).
	for _, rec := range adopted {
		run, err := c.runs.Get(ctx, rec.Item.ID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && run.Status.IsTerminal()) {
			if err := c.queue.MarkDone(ctx, rec.Item.ID); err != nil {
				c.log.WithFields(map[string]any{"runId": rec.Item.ID, "error": err}).Warn("reconcile adopted: markDone failed")
			}
			continue
		}
		if err != nil {
			c.log.WithFields(map[string]any{"runId": rec.Item.ID, "error": err}).Warn("reconcile adopted: failed to read run record")
			continue
		}
		if run.Status == domain.RunPaused {
			report.AdoptedPausedRuns++
			continue
		}
		fromStatus := run.Status
		if _, err := c.runs.Patch(ctx, rec.Item.ID, func(r *domain.Run) error {
			r.Status = domain.RunPaused
			return nil
		}); err != nil {
			c.log.WithFields(map[string]any{"runId": rec.Item.ID, "error": err}).Warn("reconcile adopted: patch failed")
			continue
		}
		if c.events != nil {
			if _, err := c.events.Append(ctx, rec.Item.ID, func(seq int64) domain.Event {
				return domain.Event{
					RunID:     rec.Item.ID,
					Seq:       seq,
					Timestamp: time.Now(),
					Type:      domain.EventRunRecovered,
					Reason:    "sw_restart",
					Data: map[string]any{
						"fromStatus":  string(fromStatus),
						"toStatus":    string(domain.RunPaused),
						"prevOwnerId": rec.PreviousOwner,
					},
				}
			}); err != nil {
				c.log.WithFields(map[string]any{"runId": rec.Item.ID, "error": err}).Warn("reconcile adopted: failed to append run.recovered")
			}
		}
		report.AdoptedPausedRuns++
	}

	return report, nil
}

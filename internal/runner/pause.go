package runner

import (
	"context"

	"github.com/dshills/flowforge/internal/domain"
)

// pauseAndWait durably transitions run to paused (Run record, queue
// item, run.paused event), blocks until resumed or canceled per
// control's cooperative wait primitive, and — if resumed rather than
// canceled — durably transitions back to running (Run record, queue
// item, run.resumed event) before returning, per spec.md §4.7's
// "Resume clears the flag, patches queue item to running, patches Run
// record to running, emits run.resumed". Mirrors the commit-then-emit
// shape of succeedTerminal/failTerminal/cancelTerminal in terminal.go.
func (rn *Runner) pauseAndWait(ctx context.Context, run *domain.Run, c *control) (canceled bool) {
	_, reason := c.IsPaused()
	rn.enterPaused(ctx, run, reason)
	if c.WaitWhilePaused(ctx.Done()) {
		return true
	}
	rn.exitPaused(ctx, run)
	return false
}

func (rn *Runner) enterPaused(ctx context.Context, run *domain.Run, reason *domain.PauseReason) {
	if _, err := rn.runs.Patch(ctx, run.ID, func(r *domain.Run) error {
		if !domain.CanTransition(r.Status, domain.RunPaused) {
			return nil
		}
		r.Status = domain.RunPaused
		r.PauseReason = reason
		return nil
	}); err != nil {
		rn.log.WithFields(map[string]any{"runId": run.ID, "error": err}).Warn("failed to patch run to paused")
	}
	if _, err := rn.queue.MarkPaused(ctx, run.ID); err != nil {
		rn.log.WithFields(map[string]any{"runId": run.ID, "error": err}).Warn("failed to mark queue item paused")
	}

	var nodeID, reasonText string
	var data map[string]any
	if reason != nil {
		nodeID = reason.NodeID
		reasonText = reason.Reason
		data = map[string]any{"kind": string(reason.Kind)}
	}
	rn.emit(ctx, run.ID, domain.EventRunPaused, nodeID, 0, data, reasonText)
}

func (rn *Runner) exitPaused(ctx context.Context, run *domain.Run) {
	if _, err := rn.runs.Patch(ctx, run.ID, func(r *domain.Run) error {
		if !domain.CanTransition(r.Status, domain.RunRunning) {
			return nil
		}
		r.Status = domain.RunRunning
		r.PauseReason = nil
		return nil
	}); err != nil {
		rn.log.WithFields(map[string]any{"runId": run.ID, "error": err}).Warn("failed to patch run to running")
	}
	if _, err := rn.queue.MarkRunning(ctx, run.ID); err != nil {
		rn.log.WithFields(map[string]any{"runId": run.ID, "error": err}).Warn("failed to mark queue item running")
	}
	rn.emit(ctx, run.ID, domain.EventRunResumed, "", 0, nil, "")
}

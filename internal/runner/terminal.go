package runner

import (
	"context"
	"time"

	"github.com/dshills/flowforge/internal/domain"
)

func (rn *Runner) succeedTerminal(ctx context.Context, run *domain.Run, vars map[string]any) error {
	now := time.Now()
	var tookMs int64
	if run.StartedAt != nil {
		tookMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	updated, err := rn.runs.Patch(ctx, run.ID, func(r *domain.Run) error {
		r.Status = domain.RunSucceeded
		r.FinishedAt = &now
		r.TookMs = &tookMs
		return nil
	})
	if err != nil {
		return err
	}
	rn.emit(ctx, run.ID, domain.EventRunSucceeded, "", 0, nil, "")
	if rn.metrics != nil {
		rn.metrics.RecordRunDuration(run.FlowID, string(domain.RunSucceeded), now.Sub(run.CreatedAt))
	}
	return rn.finishQueueItem(ctx, updated)
}

func (rn *Runner) failTerminal(ctx context.Context, run *domain.Run, cause *domain.Error, lastNodeID string) error {
	now := time.Now()
	var tookMs int64
	if run.StartedAt != nil {
		tookMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	updated, err := rn.runs.Patch(ctx, run.ID, func(r *domain.Run) error {
		r.Status = domain.RunFailed
		r.FinishedAt = &now
		r.TookMs = &tookMs
		r.Error = cause
		if lastNodeID != "" {
			r.CurrentNodeID = lastNodeID
		}
		return nil
	})
	if err != nil {
		return err
	}
	rn.emit(ctx, run.ID, domain.EventRunFailed, lastNodeID, 0, map[string]any{"error": cause}, "")
	if rn.metrics != nil {
		rn.metrics.RecordRunDuration(run.FlowID, string(domain.RunFailed), now.Sub(run.CreatedAt))
	}
	return rn.finishQueueItem(ctx, updated)
}

func (rn *Runner) cancelTerminal(ctx context.Context, run *domain.Run, reason string) error {
	now := time.Now()
	var tookMs int64
	if run.StartedAt != nil {
		tookMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	updated, err := rn.runs.Patch(ctx, run.ID, func(r *domain.Run) error {
		r.Status = domain.RunCanceled
		r.FinishedAt = &now
		r.TookMs = &tookMs
		return nil
	})
	if err != nil {
		return err
	}
	rn.emit(ctx, run.ID, domain.EventRunCanceled, "", 0, nil, reason)
	if rn.metrics != nil {
		rn.metrics.RecordRunDuration(run.FlowID, string(domain.RunCanceled), now.Sub(run.CreatedAt))
	}
	return rn.finishQueueItem(ctx, updated)
}

// finishQueueItem removes the run's queue item. Per spec.md §4.6 the
// Scheduler normally owns this call after its executor completes; the
// Runner performs it directly here since Execute is the Scheduler's
// synchronous executor call in this design.
func (rn *Runner) finishQueueItem(ctx context.Context, run *domain.Run) error {
	if err := rn.queue.MarkDone(ctx, run.ID); err != nil {
		rn.log.WithFields(map[string]any{"runId": run.ID, "error": err}).Warn("failed to mark queue item done")
		return err
	}
	return nil
}

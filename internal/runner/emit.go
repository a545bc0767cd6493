package runner

import (
	"context"
	"time"

	"github.com/dshills/flowforge/internal/domain"
)

func (rn *Runner) emit(ctx context.Context, runID string, typ domain.EventType, nodeID string, attempt int, data map[string]any, reason string) {
	if _, err := rn.events.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{
			RunID: runID, Seq: seq, Timestamp: time.Now(), Type: typ,
			NodeID: nodeID, Attempt: attempt, Data: data, Reason: reason,
		}
	}); err != nil {
		rn.log.WithFields(map[string]any{"runId": runID, "type": typ, "error": err}).Warn("failed to append event")
	}
}

func (rn *Runner) emitVarsPatch(ctx context.Context, runID string, ops []domain.VarOp) {
	if _, err := rn.events.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{RunID: runID, Seq: seq, Timestamp: time.Now(), Type: domain.EventVarsPatch, Ops: ops}
	}); err != nil {
		rn.log.WithFields(map[string]any{"runId": runID, "error": err}).Warn("failed to append vars.patch")
	}
}

func (rn *Runner) emitNodeSucceeded(ctx context.Context, runID, nodeID string, tookMs int64, next *domain.NextHint) {
	if _, err := rn.events.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{
			RunID: runID, Seq: seq, Timestamp: time.Now(), Type: domain.EventNodeSucceeded,
			NodeID: nodeID, TookMs: &tookMs, Next: next,
		}
	}); err != nil {
		rn.log.WithFields(map[string]any{"runId": runID, "error": err}).Warn("failed to append node.succeeded")
	}
}

// emitLog appends a structured log event from a node executor's Log
// call, alongside the process-level logrus line execContext writes.
func (rn *Runner) emitLog(ctx context.Context, runID, nodeID, level, msg string, data map[string]any) {
	if _, err := rn.events.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{
			RunID: runID, Seq: seq, Timestamp: time.Now(), Type: domain.EventLog,
			NodeID: nodeID, Level: level, Message: msg, Data: data,
		}
	}); err != nil {
		rn.log.WithFields(map[string]any{"runId": runID, "error": err}).Warn("failed to append log event")
	}
}

func (rn *Runner) emitArtifactScreenshot(ctx context.Context, runID, nodeID, name, ref string) {
	if _, err := rn.events.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{
			RunID: runID, Seq: seq, Timestamp: time.Now(), Type: domain.EventArtifactScreenshot,
			NodeID: nodeID, ArtifactName: name, ArtifactRef: ref,
		}
	}); err != nil {
		rn.log.WithFields(map[string]any{"runId": runID, "error": err}).Warn("failed to append artifact.screenshot")
	}
}

// emitNodeFailedDecision appends node.failed with the onError decision
// already resolved, per spec.md §4.7's "Policy decisions are always
// recorded in node.failed.decision before acting".
func (rn *Runner) emitNodeFailedDecision(ctx context.Context, runID, nodeID string, attempt int, execErr *domain.Error, decision string) {
	if _, err := rn.events.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{
			RunID: runID, Seq: seq, Timestamp: time.Now(), Type: domain.EventNodeFailed,
			NodeID: nodeID, Attempt: attempt, Error: execErr, Decision: decision,
		}
	}); err != nil {
		rn.log.WithFields(map[string]any{"runId": runID, "error": err}).Warn("failed to append node.failed")
	}
}

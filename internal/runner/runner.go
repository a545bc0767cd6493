// Package runner implements the per-run DAG interpreter: the Run
// Runner that executes exactly one claimed queue item from start to a
// terminal status, per spec.md §4.7.
package runner

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/eventbus"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/metrics"
	"github.com/dshills/flowforge/internal/registry"
	"github.com/dshills/flowforge/internal/storage"
)

// Runner executes claimed queue items. One Runner instance is shared
// across a host process; it tracks one control per in-flight run so
// RPC-driven pause/resume/cancel/breakpoint commands can reach the
// goroutine actually executing that run.
type Runner struct {
	flows    storage.FlowStore
	runs     storage.RunStore
	queue    storage.QueueStore
	varStore storage.VarStore
	events   *eventbus.Bus
	registry *registry.Registry
	artifact ArtifactStore
	metrics  *metrics.Metrics
	log      *logging.Logger

	controls controlTable
}

// New constructs a Runner.
func New(
	flows storage.FlowStore,
	runs storage.RunStore,
	queue storage.QueueStore,
	varStore storage.VarStore,
	events *eventbus.Bus,
	reg *registry.Registry,
	artifact ArtifactStore,
	m *metrics.Metrics,
	log *logging.Logger,
) *Runner {
	if artifact == nil {
		artifact = NewMemoryArtifactStore()
	}
	return &Runner{
		flows:    flows,
		runs:     runs,
		queue:    queue,
		varStore: varStore,
		events:   events,
		registry: reg,
		artifact: artifact,
		metrics:  m,
		log:      log,
		controls: newControlTable(),
	}
}

// Pause requests a command-initiated pause on runID.
func (rn *Runner) Pause(runID, reason string) error {
	c, ok := rn.controls.get(runID)
	if !ok {
		return domain.NewError(domain.CodeInvariantViolated, "run %q is not in flight on this host", runID)
	}
	c.RequestPause(domain.PauseReason{Kind: domain.PauseReasonCommand, Reason: reason})
	return nil
}

// Resume clears a pause on an in-flight run.
func (rn *Runner) Resume(runID string) error {
	c, ok := rn.controls.get(runID)
	if !ok {
		return domain.NewError(domain.CodeInvariantViolated, "run %q is not in flight on this host", runID)
	}
	c.Resume()
	return nil
}

// Cancel signals cancellation on an in-flight run.
func (rn *Runner) Cancel(runID string) error {
	c, ok := rn.controls.get(runID)
	if !ok {
		return domain.NewError(domain.CodeInvariantViolated, "run %q is not in flight on this host", runID)
	}
	c.Cancel()
	return nil
}

// SetBreakpoints replaces an in-flight run's breakpoint set.
func (rn *Runner) SetBreakpoints(runID string, nodeIDs []string) error {
	c, ok := rn.controls.get(runID)
	if !ok {
		return domain.NewError(domain.CodeInvariantViolated, "run %q is not in flight on this host", runID)
	}
	c.SetBreakpoints(nodeIDs)
	return nil
}

// StepOver arms single-step mode for the next cooperative checkpoint.
func (rn *Runner) StepOver(runID string) error {
	c, ok := rn.controls.get(runID)
	if !ok {
		return domain.NewError(domain.CodeInvariantViolated, "run %q is not in flight on this host", runID)
	}
	c.StepOver()
	return nil
}

// Execute runs item to a terminal status (or until ctx is canceled).
// Called by the Scheduler once per claimed item, on its own goroutine.
func (rn *Runner) Execute(ctx context.Context, item *domain.QueueItem) error {
	run, err := rn.initialize(ctx, item)
	if err != nil {
		return err
	}

	flow, ferr := rn.flows.Get(ctx, run.FlowID)
	if ferr != nil {
		return rn.failTerminal(ctx, run, domain.NewError(domain.CodeDAGInvalid, "flow %q not found: %v", run.FlowID, ferr), "")
	}
	if verr := flow.Validate(); verr != nil {
		return rn.failTerminal(ctx, run, verr, "")
	}

	c := newControl(run.Debug)
	rn.controls.put(run.ID, c)
	defer rn.controls.remove(run.ID)

	vars := make(map[string]any, len(run.Args)+len(flow.Variables))
	for _, v := range flow.Variables {
		if v.Default != nil {
			vars[v.Name] = v.Default
		}
	}
	for k, v := range run.Args {
		vars[k] = v
	}

	if run.Debug != nil && run.Debug.PauseOnStart {
		startNode := run.StartNodeID
		if startNode == "" {
			startNode = flow.EntryNodeID
		}
		c.RequestPause(domain.PauseReason{Kind: domain.PauseReasonPolicy, NodeID: startNode, Reason: "pauseOnStart"})
	}

	runCtx := ctx
	if flow.Policy != nil && flow.Policy.RunTimeoutMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(flow.Policy.RunTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	return rn.mainLoop(ctx, runCtx, run, flow, c, vars)
}

// initialize ensures a Run record exists for item. If missing, it
// creates one and begins the log with run.started at seq 0 (leaving
// nextSeq=1); if present, it patches without disturbing nextSeq or
// startedAt.
func (rn *Runner) initialize(ctx context.Context, item *domain.QueueItem) (*domain.Run, error) {
	run, err := rn.runs.Get(ctx, item.ID)
	if errors.Is(err, domain.ErrNotFound) {
		now := time.Now()
		run = &domain.Run{
			SchemaVersion: domain.SchemaVersion,
			ID:            item.ID,
			FlowID:        item.FlowID,
			Status:        domain.RunRunning,
			CreatedAt:     now,
			UpdatedAt:     now,
			StartedAt:     &now,
			Attempt:       item.Attempt,
			MaxAttempts:   item.MaxAttempts,
			Args:          item.Args,
			Trigger:       item.Trigger,
			Debug:         item.Debug,
			NextSeq:       0,
			Priority:      item.Priority,
		}
		if saveErr := rn.runs.Save(ctx, run); saveErr != nil {
			return nil, saveErr
		}
		if _, appendErr := rn.events.Append(ctx, run.ID, func(seq int64) domain.Event {
			return domain.Event{RunID: run.ID, Seq: seq, Timestamp: now, Type: domain.EventRunStarted}
		}); appendErr != nil {
			rn.log.WithFields(map[string]any{"runId": run.ID, "error": appendErr}).Warn("failed to append run.started")
		}
		return run, nil
	}
	if err != nil {
		return nil, err
	}
	return rn.runs.Patch(ctx, item.ID, func(r *domain.Run) error {
		if r.StartedAt == nil {
			now := time.Now()
			r.StartedAt = &now
		}
		r.Status = domain.RunRunning
		return nil
	})
}

// mainLoop drives the run to a terminal status. rootCtx is the
// Scheduler's context (done only on host shutdown or external
// cancellation); ctx is rootCtx possibly wrapped with the flow
// policy's runTimeoutMs deadline, so ctx expiring while rootCtx is
// still live means the run as a whole timed out.
func (rn *Runner) mainLoop(rootCtx, ctx context.Context, run *domain.Run, flow *domain.Flow, c *control, vars map[string]any) error {
	currentNodeID := run.StartNodeID
	if currentNodeID == "" {
		currentNodeID = flow.EntryNodeID
	}

	for {
		if _, err := rn.runs.Patch(ctx, run.ID, func(r *domain.Run) error {
			r.CurrentNodeID = currentNodeID
			return nil
		}); err != nil {
			rn.log.WithFields(map[string]any{"runId": run.ID, "error": err}).Warn("failed to patch currentNodeId")
		}

		if c.IsCanceled() {
			return rn.cancelTerminal(ctx, run, "")
		}
		if paused, _ := c.IsPaused(); paused {
			if canceled := rn.pauseAndWait(ctx, run, c); canceled {
				return rn.cancelTerminal(ctx, run, "")
			}
		}
		if ctx.Err() != nil {
			if rootCtx.Err() == nil {
				return rn.failTerminal(rootCtx, run, domain.NewError(domain.CodeTimeout, "run exceeded its runTimeoutMs budget"), currentNodeID)
			}
			return rn.cancelTerminal(rootCtx, run, "context canceled")
		}

		node, ok := flow.NodeByID(currentNodeID)
		if !ok {
			return rn.failTerminal(ctx, run, domain.NewError(domain.CodeDAGInvalid, "node %q not found", currentNodeID), currentNodeID)
		}

		if node.Disabled {
			rn.emit(ctx, run.ID, domain.EventNodeSkipped, currentNodeID, 0, nil, "disabled")
			next, ok := flow.ResolveSuccessor(currentNodeID, domain.LabelDefault)
			if !ok {
				return rn.succeedTerminal(ctx, run, vars)
			}
			currentNodeID = next
			continue
		}

		if pause, kind := c.ShouldPauseAt(currentNodeID); pause {
			c.RequestPause(domain.PauseReason{Kind: kind, NodeID: currentNodeID})
			if canceled := rn.pauseAndWait(ctx, run, c); canceled {
				return rn.cancelTerminal(ctx, run, "")
			}
		}

		rn.emit(ctx, run.ID, domain.EventNodeQueued, currentNodeID, 0, nil, "")

		outcome, err := rn.executeNode(rootCtx, ctx, run, flow, node, vars, c)
		if err != nil {
			return err // terminal transition already handled
		}

		switch {
		case outcome.terminalSuccess:
			return rn.succeedTerminal(ctx, run, vars)
		case outcome.nextNodeID != "":
			currentNodeID = outcome.nextNodeID
		default:
			return rn.succeedTerminal(ctx, run, vars)
		}
	}
}

type nodeOutcome struct {
	terminalSuccess bool
	nextNodeID      string
}

// executeNode runs a node to either success (with its chosen
// successor) or a terminal run transition already issued internally,
// looping attempts according to its effective retry policy.
func (rn *Runner) executeNode(rootCtx, ctx context.Context, run *domain.Run, flow *domain.Flow, node domain.Node, vars map[string]any, c *control) (nodeOutcome, error) {
	def, regErr := rn.registry.Get(node.Kind)
	if regErr != nil {
		if flow.Policy != nil && flow.Policy.UnsupportedNodePolicy != nil {
			if outcome, handled := rn.applyUnsupportedNodePolicy(ctx, run, flow, node, flow.Policy.UnsupportedNodePolicy, regErr); handled {
				return outcome, nil
			}
		}
		return nodeOutcome{}, rn.failTerminal(rootCtx, run, regErr, node.ID)
	}

	var pluginDefault *domain.NodePolicy
	if def.DefaultPolicy != nil {
		pluginDefault = def.DefaultPolicy
	}
	var flowDefault *domain.NodePolicy
	if flow.Policy != nil {
		flowDefault = flow.Policy.DefaultNodePolicy
	}
	policy := mergePolicy(flowDefault, pluginDefault, node.Policy)

	if def.Schema != nil {
		if verr := def.Schema(node.Config); verr != nil {
			return nodeOutcome{}, rn.failTerminal(rootCtx, run, verr, node.ID)
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- retry jitter timing only

	// scope=node wraps the total node execution across retries in a
	// single deadline, per spec.md §4.7; scope=attempt (the default)
	// is instead applied fresh per attempt inside invoke. The already-
	// consumed attempts still count toward the wrapping retry's
	// MaxAttempts if this deadline fires mid-retry (SPEC_FULL.md's
	// Open Questions decision 1).
	nodeCtx := ctx
	if policy.Timeout != nil && policy.Timeout.Ms > 0 && policy.Timeout.Scope == domain.TimeoutScopeNode {
		var nodeCancel context.CancelFunc
		nodeCtx, nodeCancel = context.WithTimeout(ctx, time.Duration(policy.Timeout.Ms)*time.Millisecond)
		defer nodeCancel()
	}

	for attempt := 1; ; attempt++ {
		rn.emit(ctx, run.ID, domain.EventNodeStarted, node.ID, attempt, nil, "")

		start := time.Now()
		res, execErr := rn.invoke(rootCtx, nodeCtx, run, node, policy, vars, def, attempt)
		took := time.Since(start)
		if rn.metrics != nil {
			rn.metrics.RecordNodeDuration(run.FlowID, node.Kind, took)
		}

		rn.captureScreenshot(ctx, run, node, policy, execErr != nil)

		if execErr == nil {
			tookMs := took.Milliseconds()
			for _, op := range res.VarsPatch {
				applyVarOp(vars, op)
			}
			if len(res.VarsPatch) > 0 {
				rn.emitVarsPatch(ctx, run.ID, res.VarsPatch)
			}
			if len(res.Outputs) > 0 {
				if _, err := rn.runs.Patch(ctx, run.ID, func(r *domain.Run) error {
					if r.Outputs == nil {
						r.Outputs = map[string]any{}
					}
					for k, v := range res.Outputs {
						r.Outputs[k] = v
					}
					return nil
				}); err != nil {
					rn.log.WithFields(map[string]any{"runId": run.ID, "error": err}).Warn("failed to merge node outputs")
				}
			}

			next := res.Next
			rn.emitNodeSucceeded(ctx, run.ID, node.ID, tookMs, next)

			if next != nil && next.Kind == domain.NextEnd {
				return nodeOutcome{terminalSuccess: true}, nil
			}
			label := domain.LabelDefault
			if next != nil && next.Kind == domain.NextEdgeLabel {
				label = next.Label
			}
			successor, ok := flow.ResolveSuccessor(node.ID, label)
			if !ok {
				return nodeOutcome{terminalSuccess: true}, nil
			}
			return nodeOutcome{nextNodeID: successor}, nil
		}

		onError := policy.OnError
		if onError == nil {
			if _, hasOnErrorEdge := flow.ResolveSuccessor(node.ID, domain.LabelOnError); hasOnErrorEdge {
				onError = &domain.OnErrorPolicy{Mode: domain.OnErrorGoto, EdgeLabel: domain.LabelOnError}
			} else if policy.Retry != nil {
				onError = &domain.OnErrorPolicy{Mode: domain.OnErrorRetry}
			} else {
				onError = &domain.OnErrorPolicy{Mode: domain.OnErrorStop}
			}
		}
		rn.emitNodeFailedDecision(ctx, run.ID, node.ID, attempt, execErr, string(onError.Mode))

		switch onError.Mode {
		case domain.OnErrorStop:
			return nodeOutcome{}, rn.failTerminal(rootCtx, run, execErr, node.ID)

		case domain.OnErrorContinue:
			successor, ok := flow.ResolveSuccessor(node.ID, domain.LabelDefault)
			if !ok {
				return nodeOutcome{terminalSuccess: true}, nil
			}
			return nodeOutcome{nextNodeID: successor}, nil

		case domain.OnErrorGoto:
			if onError.EdgeLabel != "" {
				if successor, ok := flow.ResolveSuccessor(node.ID, onError.EdgeLabel); ok {
					return nodeOutcome{nextNodeID: successor}, nil
				}
			}
			if onError.Node != "" {
				if _, ok := flow.NodeByID(onError.Node); ok {
					return nodeOutcome{nextNodeID: onError.Node}, nil
				}
			}
			return nodeOutcome{}, rn.failTerminal(rootCtx, run, execErr, node.ID)

		case domain.OnErrorRetry:
			effective := domain.MergeRetry(policy.Retry, onError.Override)
			if effective == nil {
				return nodeOutcome{}, rn.failTerminal(rootCtx, run, execErr, node.ID)
			}
			if !effective.Allows(execErr.Code) {
				return nodeOutcome{}, rn.failTerminal(rootCtx, run, execErr, node.ID)
			}
			if attempt >= 1+effective.Retries {
				return nodeOutcome{}, rn.failTerminal(rootCtx, run, execErr, node.ID)
			}
			if rn.metrics != nil {
				rn.metrics.IncrementNodeRetries(run.FlowID, node.ID, string(execErr.Code))
			}
			delay := effective.Delay(attempt, rng)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				if rootCtx.Err() == nil {
					return nodeOutcome{}, rn.failTerminal(rootCtx, run, domain.NewError(domain.CodeTimeout, "run exceeded its runTimeoutMs budget"), node.ID)
				}
				return nodeOutcome{}, rn.cancelTerminal(rootCtx, run, "context canceled during retry delay")
			}
			if c.IsCanceled() {
				return nodeOutcome{}, rn.cancelTerminal(rootCtx, run, "")
			}
			continue

		default:
			return nodeOutcome{}, rn.failTerminal(rootCtx, run, execErr, node.ID)
		}
	}
}

// captureScreenshot applies the node's effective ArtifactPolicy after
// an attempt: always-mode captures on every outcome, onFailure-mode
// only when the attempt failed.
func (rn *Runner) captureScreenshot(ctx context.Context, run *domain.Run, node domain.Node, policy *domain.NodePolicy, failed bool) {
	if policy.Artifacts == nil {
		return
	}
	switch policy.Artifacts.Screenshot {
	case domain.ScreenshotAlways:
	case domain.ScreenshotOnFailure:
		if !failed {
			return
		}
	default:
		return
	}
	name := policy.Artifacts.SaveScreenshotAs
	if name == "" {
		name = node.ID
	}
	ref, err := rn.artifact.Put(ctx, run.ID, name, nil)
	if err != nil {
		rn.log.WithFields(map[string]any{"runId": run.ID, "nodeId": node.ID, "error": err}).Warn("failed to capture screenshot artifact")
		return
	}
	rn.emitArtifactScreenshot(ctx, run.ID, node.ID, name, ref)
}

// applyUnsupportedNodePolicy is used only for the flow-level
// unsupportedNodePolicy path, where there is no NodeDefinition (and
// therefore no retry policy to merge) — only stop/continue/goto are
// meaningful; handled=false tells the caller to fail the run.
func (rn *Runner) applyUnsupportedNodePolicy(ctx context.Context, run *domain.Run, flow *domain.Flow, node domain.Node, p *domain.OnErrorPolicy, execErr *domain.Error) (nodeOutcome, bool) {
	rn.emitNodeFailedDecision(ctx, run.ID, node.ID, 1, execErr, string(p.Mode))
	switch p.Mode {
	case domain.OnErrorContinue:
		successor, ok := flow.ResolveSuccessor(node.ID, domain.LabelDefault)
		if !ok {
			return nodeOutcome{terminalSuccess: true}, true
		}
		return nodeOutcome{nextNodeID: successor}, true
	case domain.OnErrorGoto:
		if p.EdgeLabel != "" {
			if successor, ok := flow.ResolveSuccessor(node.ID, p.EdgeLabel); ok {
				return nodeOutcome{nextNodeID: successor}, true
			}
		}
		if p.Node != "" {
			if _, ok := flow.NodeByID(p.Node); ok {
				return nodeOutcome{nextNodeID: p.Node}, true
			}
		}
		return nodeOutcome{}, false
	default:
		return nodeOutcome{}, false
	}
}

// invoke runs one attempt of node's executor. rootCtx is the
// unmodified context the Runner was given (cancels only on real
// process/host shutdown); nodeCtx is rootCtx possibly wrapped with a
// scope=node deadline by the caller's retry loop. invoke applies a
// further scope=attempt deadline on top of nodeCtx when configured, so
// whichever of the two timeouts is tighter governs each attempt.
// Distinguishing rootCtx from nodeCtx is what lets invoke tell a
// scope=node or scope=attempt timeout apart from genuine outer
// cancellation: only rootCtx.Err() being nil means any Done() on the
// (possibly doubly-wrapped) execCtx here is a timeout, not a shutdown.
func (rn *Runner) invoke(rootCtx, nodeCtx context.Context, run *domain.Run, node domain.Node, policy *domain.NodePolicy, vars map[string]any, def registry.NodeDefinition, attempt int) (registry.Result, *domain.Error) {
	ectx := newExecContext(run.ID, run.FlowID, node.ID, run.TabID, attempt, node.Config, vars, rn.varStore, rn.artifact,
		func(cctx context.Context, name, ref string) { rn.emitArtifactScreenshot(cctx, run.ID, node.ID, name, ref) },
		func(level, msg string, data map[string]any) { rn.emitLog(rootCtx, run.ID, node.ID, level, msg, data) },
		rn.log)

	execCtx := nodeCtx
	var cancel context.CancelFunc
	if policy.Timeout != nil && policy.Timeout.Ms > 0 && policy.Timeout.Scope == domain.TimeoutScopeAttempt {
		execCtx, cancel = context.WithTimeout(nodeCtx, time.Duration(policy.Timeout.Ms)*time.Millisecond)
		defer cancel()
	}

	resultCh := make(chan registry.Result, 1)
	go func() {
		resultCh <- def.Execute(execCtx, ectx)
	}()

	select {
	case res := <-resultCh:
		if res.Next == nil && ectx.hasNext {
			res.Next = &domain.NextHint{Kind: domain.NextEdgeLabel, Label: ectx.chosen}
		}
		if len(res.VarsPatch) == 0 && len(ectx.varOps) > 0 {
			res.VarsPatch = ectx.varOps
		}
		if res.Err != nil {
			if execCtx.Err() != nil && rootCtx.Err() == nil {
				return registry.Result{}, domain.NewError(domain.CodeTimeout, "node %q attempt %d timed out", node.ID, attempt)
			}
			return registry.Result{}, res.Err
		}
		return res, nil
	case <-execCtx.Done():
		// resultCh is buffered, so the executor goroutine can still
		// deliver its result after we return without blocking.
		if execCtx.Err() != nil && rootCtx.Err() == nil {
			return registry.Result{}, domain.NewError(domain.CodeTimeout, "node %q attempt %d timed out", node.ID, attempt)
		}
		return registry.Result{}, domain.Wrap(domain.CodeRunCanceled, rootCtx.Err())
	}
}

func applyVarOp(vars map[string]any, op domain.VarOp) {
	switch op.Op {
	case domain.VarOpSet:
		vars[op.Name] = op.Value
	case domain.VarOpDelete:
		delete(vars, op.Name)
	}
}

func mergePolicy(layers ...*domain.NodePolicy) *domain.NodePolicy {
	out := &domain.NodePolicy{}
	for _, p := range layers {
		if p == nil {
			continue
		}
		if p.Timeout != nil {
			out.Timeout = p.Timeout
		}
		if p.Retry != nil {
			out.Retry = p.Retry
		}
		if p.OnError != nil {
			out.OnError = p.OnError
		}
		if p.Artifacts != nil {
			if out.Artifacts == nil {
				out.Artifacts = &domain.ArtifactPolicy{}
			}
			if p.Artifacts.Screenshot != "" {
				out.Artifacts.Screenshot = p.Artifacts.Screenshot
			}
			if p.Artifacts.SaveScreenshotAs != "" {
				out.Artifacts.SaveScreenshotAs = p.Artifacts.SaveScreenshotAs
			}
			if p.Artifacts.IncludeConsole {
				out.Artifacts.IncludeConsole = true
			}
			if p.Artifacts.IncludeNetwork {
				out.Artifacts.IncludeNetwork = true
			}
		}
	}
	return out
}

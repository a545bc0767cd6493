package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/trigger"
)

type runListParams struct {
	FlowID string `json:"flowId"`
}

func (s *Server) runList(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[runListParams](params)
	if err != nil {
		return nil, err
	}
	return s.runs.List(ctx, p.FlowID)
}

type runIDParams struct {
	RunID string `json:"runId"`
}

func (s *Server) runGet(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[runIDParams](params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.RunID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "runId is required")
	}
	return s.runs.Get(ctx, p.RunID)
}

type runStartParams struct {
	FlowID      string              `json:"flowId"`
	Args        map[string]any      `json:"args"`
	Priority    int                 `json:"priority"`
	MaxAttempts int                 `json:"maxAttempts"`
	Debug       *domain.DebugConfig `json:"debug,omitempty"`
}

// runStart is the RPC surface's startRun method: spec.md §4.10 names
// it "= enqueueRun", so it shares the Trigger Manager's enqueue path
// rather than duplicating run/queue-item construction.
func (s *Server) runStart(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[runStartParams](params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.FlowID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "flowId is required")
	}
	if _, err := s.flows.Get(ctx, p.FlowID); err != nil {
		return nil, err
	}
	return trigger.EnqueueRun(ctx, s.runs, s.queue, s.events, trigger.EnqueueRequest{
		FlowID:      p.FlowID,
		Args:        p.Args,
		Priority:    p.Priority,
		MaxAttempts: p.MaxAttempts,
		Debug:       p.Debug,
		Kick:        s.kick,
	})
}

func (s *Server) runPause(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[runIDParams](params)
	if err != nil {
		return nil, err
	}
	run, err := s.runs.Get(ctx, p.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunRunning {
		return nil, domain.NewError(domain.CodeValidation, "run %s is not running (status=%s)", p.RunID, run.Status)
	}
	if err := s.runner.Pause(p.RunID, "rpc"); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) runResume(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[runIDParams](params)
	if err != nil {
		return nil, err
	}
	run, err := s.runs.Get(ctx, p.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunPaused {
		return nil, domain.NewError(domain.CodeValidation, "run %s is not paused (status=%s)", p.RunID, run.Status)
	}
	if err := s.runner.Resume(p.RunID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// runCancel routes to the queue for a still-queued run (never claimed,
// so no in-flight control exists) or to the Runner for a running or
// paused one, per spec.md §4.10's "routed to the runner registry
// (running/paused) or queue (queued)".
func (s *Server) runCancel(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[runIDParams](params)
	if err != nil {
		return nil, err
	}
	run, err := s.runs.Get(ctx, p.RunID)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case domain.RunQueued:
		if err := s.cancelQueuedRun(ctx, p.RunID); err != nil {
			return nil, err
		}
	case domain.RunRunning, domain.RunPaused:
		if err := s.runner.Cancel(p.RunID); err != nil {
			return nil, err
		}
	default:
		return nil, domain.NewError(domain.CodeValidation, "run %s already terminal (status=%s)", p.RunID, run.Status)
	}
	return map[string]bool{"ok": true}, nil
}

// cancelQueuedRun cancels a queue item that has never been claimed, so
// no Runner will ever drive it to a terminal status on its own: the
// RPC surface must patch the Run record and emit run.canceled itself,
// mirroring what internal/runner/terminal.go does for an in-flight
// cancellation.
func (s *Server) cancelQueuedRun(ctx context.Context, runID string) error {
	if err := s.queue.Cancel(ctx, runID); err != nil {
		return err
	}
	now := time.Now()
	if _, err := s.runs.Patch(ctx, runID, func(r *domain.Run) error {
		if !domain.CanTransition(r.Status, domain.RunCanceled) {
			return nil
		}
		r.Status = domain.RunCanceled
		r.FinishedAt = &now
		return nil
	}); err != nil {
		return err
	}
	_, err := s.events.Append(ctx, runID, func(seq int64) domain.Event {
		return domain.Event{RunID: runID, Seq: seq, Timestamp: now, Type: domain.EventRunCanceled}
	})
	return err
}

type runDebugParams struct {
	RunID       string   `json:"runId"`
	Breakpoints []string `json:"breakpoints,omitempty"`
	StepOver    bool     `json:"stepOver,omitempty"`
}

// runDebug folds the "debug command routed to the DebugController"
// method from spec.md §4.10 into the Runner's existing breakpoint and
// step-over API; there is no separate DebugController type.
func (s *Server) runDebug(_ context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[runDebugParams](params)
	if err != nil {
		return nil, err
	}
	if p.Breakpoints != nil {
		if err := s.runner.SetBreakpoints(p.RunID, p.Breakpoints); err != nil {
			return nil, err
		}
	}
	if p.StepOver {
		if err := s.runner.StepOver(p.RunID); err != nil {
			return nil, err
		}
	}
	return map[string]bool{"ok": true}, nil
}

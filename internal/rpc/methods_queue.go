package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dshills/flowforge/internal/domain"
)

// queueEnqueue is the low-level counterpart of run.start: both paths
// end at trigger.EnqueueRun, but this one is named after the queue
// item it produces rather than the run it starts, per spec.md §4.10
// listing "enqueue/list/cancel queue items" alongside "startRun"
// separately.
func (s *Server) queueEnqueue(ctx context.Context, c *Conn, params json.RawMessage) (any, error) {
	return s.runStart(ctx, c, params)
}

func (s *Server) queueList(ctx context.Context, _ *Conn, _ json.RawMessage) (any, error) {
	return s.queue.List(ctx)
}

func (s *Server) queueCancel(ctx context.Context, _ *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[runIDParams](params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.RunID) == "" {
		return nil, domain.NewError(domain.CodeValidation, "runId is required")
	}
	if err := s.cancelQueuedRun(ctx, p.RunID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

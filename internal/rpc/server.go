package rpc

import (
	"context"
	"encoding/json"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/eventbus"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/runner"
	"github.com/dshills/flowforge/internal/storage"
	"github.com/dshills/flowforge/internal/trigger"
)

// Server answers RPC requests over any number of concurrent
// connections, dispatching to the storage ports, Runner and Trigger
// Manager named in spec.md §4.10's method list.
type Server struct {
	flows      storage.FlowStore
	runs       storage.RunStore
	queue      storage.QueueStore
	triggers   storage.TriggerStore
	events     *eventbus.Bus
	runner     *runner.Runner
	triggerMgr *trigger.Manager
	log        *logging.Logger
	kick       func()

	methods map[string]methodFunc
}

type methodFunc func(ctx context.Context, c *Conn, params json.RawMessage) (any, error)

// New constructs a Server wired to the engine's ports. kick is called
// after every successful run.start/queue.enqueue to wake the
// Scheduler immediately; it may be nil.
func New(
	flows storage.FlowStore,
	runs storage.RunStore,
	queue storage.QueueStore,
	triggers storage.TriggerStore,
	events *eventbus.Bus,
	rn *runner.Runner,
	tm *trigger.Manager,
	log *logging.Logger,
	kick func(),
) *Server {
	s := &Server{
		flows:      flows,
		runs:       runs,
		queue:      queue,
		triggers:   triggers,
		events:     events,
		runner:     rn,
		triggerMgr: tm,
		log:        log,
		kick:       kick,
	}
	s.methods = map[string]methodFunc{
		"flow.list":   s.flowList,
		"flow.get":    s.flowGet,
		"flow.save":   s.flowSave,
		"flow.delete": s.flowDelete,

		"run.list":   s.runList,
		"run.get":    s.runGet,
		"run.start":  s.runStart,
		"run.pause":  s.runPause,
		"run.resume": s.runResume,
		"run.cancel": s.runCancel,
		"run.debug":  s.runDebug,

		"event.list": s.eventList,

		"queue.enqueue": s.queueEnqueue,
		"queue.list":    s.queueList,
		"queue.cancel":  s.queueCancel,

		"trigger.list":    s.triggerList,
		"trigger.get":     s.triggerGet,
		"trigger.save":    s.triggerSave,
		"trigger.delete":  s.triggerDelete,
		"trigger.enable":  s.triggerSetEnabled(true),
		"trigger.disable": s.triggerSetEnabled(false),
		"trigger.fire":    s.triggerFire,

		"subscribe":   s.subscribe,
		"unsubscribe": s.unsubscribe,
	}
	return s
}

// NewConn wraps t as a connection dispatching into s. Callers should
// invoke Conn.Serve(ctx) on their own goroutine per connection.
func (s *Server) NewConn(t Transport) *Conn {
	return newConn(s, t)
}

func (s *Server) dispatch(ctx context.Context, c *Conn, method string, params json.RawMessage) (any, error) {
	fn, ok := s.methods[method]
	if !ok {
		return nil, domain.NewError(domain.CodeValidation, "unknown method %q", method)
	}
	return fn(ctx, c, params)
}

func decodeParams[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		var zero T
		return zero, domain.NewError(domain.CodeValidation, "invalid params: %v", err)
	}
	return v, nil
}

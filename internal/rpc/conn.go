package rpc

import (
	"context"
	"sync"

	"github.com/dshills/flowforge/internal/domain"
)

// Conn is one client connection: it dispatches incoming requests to
// Server methods and pushes subscribed events back out. It implements
// eventbus.Publisher so the Server can Subscribe/Unsubscribe it
// directly against the event bus.
type Conn struct {
	srv       *Server
	transport Transport

	mu        sync.Mutex
	subAll    bool
	subRuns   map[string]bool
	sendQueue chan *Envelope
	closeCh   chan struct{}
	closed    bool
}

func newConn(srv *Server, t Transport) *Conn {
	c := &Conn{
		srv:       srv,
		transport: t,
		subRuns:   make(map[string]bool),
		sendQueue: make(chan *Envelope, 256),
		closeCh:   make(chan struct{}),
	}
	return c
}

// Publish implements eventbus.Publisher. It filters by the
// connection's current subscriptions and never blocks the bus for
// long: a full send queue drops the event rather than stalling other
// subscribers.
func (c *Conn) Publish(_ context.Context, event domain.Event) {
	c.mu.Lock()
	interested := c.subAll || c.subRuns[event.RunID]
	c.mu.Unlock()
	if !interested {
		return
	}
	select {
	case c.sendQueue <- &Envelope{Type: typeEvent, Event: event}:
	case <-c.closeCh:
	default:
		c.srv.log.WithField("runId", event.RunID).Warn("rpc conn send queue full, dropping event")
	}
}

// Serve runs the connection's read loop and write pump until the
// transport closes or ctx is canceled. Blocks until both finish.
func (c *Conn) Serve(ctx context.Context) {
	c.srv.events.Subscribe(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx)
	}()

	c.readLoop(ctx)

	c.srv.events.Unsubscribe(c)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.closeCh)
	<-done
}

func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case env := <-c.sendQueue:
			if err := c.transport.Send(env); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		env, err := c.transport.Recv()
		if err != nil {
			return
		}
		if env.Type != typeRequest {
			continue
		}
		go c.handle(ctx, env)
	}
}

func (c *Conn) handle(ctx context.Context, env *Envelope) {
	result, err := c.srv.dispatch(ctx, c, env.Method, env.Params)
	resp := &Envelope{Type: typeResponse, RequestID: env.RequestID, OK: err == nil}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}
	c.enqueue(resp)
}

func (c *Conn) enqueue(env *Envelope) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.sendQueue <- env:
	default:
		c.srv.log.Warn("rpc conn send queue full, dropping response")
	}
}

func (c *Conn) subscribe(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if runID == "" {
		c.subAll = true
		return
	}
	c.subRuns[runID] = true
}

func (c *Conn) unsubscribe(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if runID == "" {
		c.subAll = false
		c.subRuns = make(map[string]bool)
		return
	}
	delete(c.subRuns, runID)
}

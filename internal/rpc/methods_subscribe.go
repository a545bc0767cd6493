package rpc

import (
	"context"
	"encoding/json"
)

type subscribeParams struct {
	RunID string `json:"runId,omitempty"`
}

// subscribe filters future Conn.Publish calls to runId, or all runs
// when runId is empty, per spec.md §4.10's "Subscriptions filter by
// runId (null = all)".
func (s *Server) subscribe(_ context.Context, c *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[subscribeParams](params)
	if err != nil {
		return nil, err
	}
	c.subscribe(p.RunID)
	return &SubscribeAck{Subscribed: true, RunID: p.RunID}, nil
}

func (s *Server) unsubscribe(_ context.Context, c *Conn, params json.RawMessage) (any, error) {
	p, err := decodeParams[subscribeParams](params)
	if err != nil {
		return nil, err
	}
	c.unsubscribe(p.RunID)
	return &SubscribeAck{Subscribed: false, RunID: p.RunID}, nil
}

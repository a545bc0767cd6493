// Package rpc implements the host's narrow RPC surface (spec.md
// §4.10): a request/response/event envelope protocol carried over any
// duplex byte stream, with per-connection run subscriptions.
package rpc

import "encoding/json"

// SubscribeAck confirms a subscribe/unsubscribe call took effect.
type SubscribeAck struct {
	Subscribed bool   `json:"subscribed"`
	RunID      string `json:"runId,omitempty"`
}

// Envelope is the wire message, distinguished by Type
// (request/response/event/subscribeAck), per spec.md §4.10's "Message
// envelopes distinguished by a type tag". Exported so Transport
// implementations (e.g. internal/rpc/wsserver) outside this package
// can frame it over their own wire.
type Envelope struct {
	Type string `json:"type"`

	// request fields
	RequestID string          `json:"requestId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`

	// response fields
	OK     bool   `json:"ok,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// event field
	Event any `json:"event,omitempty"`

	// subscribeAck fields
	Subscribed bool   `json:"subscribed,omitempty"`
	RunID      string `json:"runId,omitempty"`
}

const (
	typeRequest      = "request"
	typeResponse     = "response"
	typeEvent        = "event"
	typeSubscribeAck = "subscribeAck"
)

// Package llm registers the "llm.chat" node kind, a thin wrapper over
// the anthropic/openai/google chat SDKs the teacher's graph/model
// package adapts, selected per node config by a "provider" field
// instead of compiled-in per-provider model types.
package llm

import "context"

// Role identifies the sender of a chat Message, aligned with the
// conventions the major providers share.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat conversation.
type Message struct {
	Role    Role
	Content string
}

// ChatOut is a provider's response to one Chat call.
type ChatOut struct {
	Text string
}

// Provider adapts one LLM vendor's SDK to the common Chat signature.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

package llm

import (
	"context"
	"errors"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider wraps the official Anthropic SDK, grounded on
// graph/model/anthropic.ChatModel's system-prompt extraction and
// message conversion.
type AnthropicProvider struct {
	apiKey string
	model  string
}

// NewAnthropicProvider constructs a Provider for Claude models. An
// empty modelName uses a recent default.
func NewAnthropicProvider(apiKey, modelName string) *AnthropicProvider {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicProvider{apiKey: apiKey, model: modelName}
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if p.apiKey == "" {
		return ChatOut{}, errors.New("anthropic provider: api key is required")
	}

	system, rest := extractSystem(messages)
	client := anthropicsdk.NewClient(option.WithAPIKey(p.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.model),
		Messages:  convertAnthropicMessages(rest),
		MaxTokens: 4096,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return ChatOut{}, err
	}

	var out ChatOut
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += tb.Text
		}
	}
	return out, nil
}

func extractSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func convertAnthropicMessages(messages []Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, len(messages))
	for i, m := range messages {
		switch m.Role {
		case RoleAssistant:
			out[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content))
		default:
			out[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content))
		}
	}
	return out
}

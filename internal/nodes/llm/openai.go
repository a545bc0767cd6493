package llm

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider wraps the official OpenAI SDK, grounded on
// graph/model/openai.ChatModel's message conversion.
type OpenAIProvider struct {
	apiKey string
	model  string
}

// NewOpenAIProvider constructs a Provider for GPT models. An empty
// modelName uses a recent default.
func NewOpenAIProvider(apiKey, modelName string) *OpenAIProvider {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &OpenAIProvider{apiKey: apiKey, model: modelName}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if p.apiKey == "" {
		return ChatOut{}, errors.New("openai provider: api key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(p.apiKey))
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(p.model),
		Messages: convertOpenAIMessages(messages),
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatOut{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatOut{}, nil
	}
	return ChatOut{Text: resp.Choices[0].Message.Content}, nil
}

func convertOpenAIMessages(messages []Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, m := range messages {
		switch m.Role {
		case RoleSystem:
			out[i] = openaisdk.SystemMessage(m.Content)
		case RoleAssistant:
			out[i] = openaisdk.AssistantMessage(m.Content)
		default:
			out[i] = openaisdk.UserMessage(m.Content)
		}
	}
	return out
}

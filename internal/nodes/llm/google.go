package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleProvider wraps the official Google Generative AI SDK,
// grounded on graph/model/google.ChatModel's client lifecycle
// (construct, GenerativeModel, GenerateContent, Close).
type GoogleProvider struct {
	apiKey string
	model  string
}

// NewGoogleProvider constructs a Provider for Gemini models. An empty
// modelName uses a recent default.
func NewGoogleProvider(apiKey, modelName string) *GoogleProvider {
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}
	return &GoogleProvider{apiKey: apiKey, model: modelName}
}

func (p *GoogleProvider) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if p.apiKey == "" {
		return ChatOut{}, errors.New("google provider: api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return ChatOut{}, fmt.Errorf("google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(p.model)

	var parts []genai.Part
	for _, m := range messages {
		parts = append(parts, genai.Text(m.Content))
	}

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return ChatOut{}, fmt.Errorf("google generateContent: %w", err)
	}

	var out ChatOut
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(t)
		}
	}
	return out, nil
}

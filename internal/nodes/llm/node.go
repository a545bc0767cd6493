package llm

import (
	"context"
	"fmt"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/registry"
)

// Kind is the registered node kind name: a single chat turn against a
// configurable LLM provider.
const Kind = "llm.chat"

// APIKeys supplies the default credential for each provider, read
// from internal/config at host startup. A node's config may override
// the provider but not the key — credentials never live in a
// persisted Flow.
type APIKeys struct {
	Anthropic string
	OpenAI    string
	Google    string
}

// Register adds the llm.chat node definition to reg, building a fresh
// Provider per attempt from the node's config and keys.
func Register(reg *registry.Registry, keys APIKeys) {
	reg.Register(registry.NodeDefinition{
		Kind:   Kind,
		Schema: validate,
		Execute: func(ctx context.Context, ectx registry.ExecutionContext) registry.Result {
			return execute(ctx, ectx, keys)
		},
	})
}

func validate(config map[string]any) *domain.Error {
	provider, _ := config["provider"].(string)
	switch provider {
	case "anthropic", "openai", "google":
	default:
		return domain.NewError(domain.CodeValidation, "llm.chat config.provider must be one of anthropic|openai|google, got %q", provider)
	}
	return nil
}

func execute(ctx context.Context, ectx registry.ExecutionContext, keys APIKeys) registry.Result {
	config := ectx.Config()
	provider, _ := config["provider"].(string)
	modelName, _ := config["model"].(string)
	systemPrompt, _ := config["systemPrompt"].(string)

	promptVar, _ := config["promptVar"].(string)
	if promptVar == "" {
		promptVar = "prompt"
	}
	outputVar, _ := config["outputVar"].(string)
	if outputVar == "" {
		outputVar = "response"
	}

	prompt, _ := ectx.GetVar(promptVar)
	promptText := fmt.Sprintf("%v", prompt)

	var p Provider
	switch provider {
	case "anthropic":
		p = NewAnthropicProvider(keys.Anthropic, modelName)
	case "openai":
		p = NewOpenAIProvider(keys.OpenAI, modelName)
	case "google":
		p = NewGoogleProvider(keys.Google, modelName)
	default:
		return registry.Result{Err: domain.NewError(domain.CodeValidation, "unknown llm provider %q", provider)}
	}

	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: promptText})

	out, err := p.Chat(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return registry.Result{Err: domain.Wrap(domain.CodeRunCanceled, ctx.Err())}
		}
		return registry.Result{Err: &domain.Error{Code: domain.CodeToolError, Message: err.Error(), Retryable: true, Cause: err}}
	}

	ectx.SetVar(outputVar, out.Text)
	return registry.Result{Outputs: map[string]any{outputVar: out.Text}}
}

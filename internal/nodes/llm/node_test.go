package llm

import (
	"context"
	"testing"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/registry"
)

// fakeExecutionContext is a minimal registry.ExecutionContext for
// exercising the llm.chat node without a Runner.
type fakeExecutionContext struct {
	config map[string]any
	vars   map[string]any
	set    map[string]any
}

func newFakeExecutionContext(config, vars map[string]any) *fakeExecutionContext {
	return &fakeExecutionContext{config: config, vars: vars, set: map[string]any{}}
}

func (f *fakeExecutionContext) RunID() string        { return "run-1" }
func (f *fakeExecutionContext) FlowID() string        { return "flow-1" }
func (f *fakeExecutionContext) NodeID() string        { return "node-1" }
func (f *fakeExecutionContext) TabID() string          { return "" }
func (f *fakeExecutionContext) Attempt() int           { return 1 }
func (f *fakeExecutionContext) Config() map[string]any { return f.config }

func (f *fakeExecutionContext) GetVar(name string) (any, bool) {
	v, ok := f.vars[name]
	return v, ok
}
func (f *fakeExecutionContext) SetVar(name string, value any) { f.set[name] = value }
func (f *fakeExecutionContext) DeleteVar(string)                {}

func (f *fakeExecutionContext) Log(string, string, map[string]any) {}

func (f *fakeExecutionContext) ChooseNext(string) {}

func (f *fakeExecutionContext) Screenshot(context.Context, string) (string, error) { return "", nil }

func (f *fakeExecutionContext) GetPersistent(context.Context, string) (*domain.PersistentVar, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeExecutionContext) SetPersistent(context.Context, string, any) error { return nil }
func (f *fakeExecutionContext) DeletePersistent(context.Context, string) error   { return nil }

var _ registry.ExecutionContext = (*fakeExecutionContext)(nil)

func TestValidateRejectsUnknownProvider(t *testing.T) {
	if err := validate(map[string]any{"provider": "bogus"}); err == nil {
		t.Fatal("validate accepted unknown provider")
	} else if err.Code != domain.CodeValidation {
		t.Fatalf("err.Code = %q, want %q", err.Code, domain.CodeValidation)
	}
}

func TestValidateAcceptsKnownProviders(t *testing.T) {
	for _, p := range []string{"anthropic", "openai", "google"} {
		if err := validate(map[string]any{"provider": p}); err != nil {
			t.Fatalf("validate(%q) = %v, want nil", p, err)
		}
	}
}

func TestExecuteMissingAPIKeyReturnsRetryableToolError(t *testing.T) {
	ectx := newFakeExecutionContext(
		map[string]any{"provider": "anthropic"},
		map[string]any{"prompt": "hello"},
	)
	res := execute(context.Background(), ectx, APIKeys{})
	if res.Err == nil {
		t.Fatal("expected an error with no API key configured")
	}
	if res.Err.Code != domain.CodeToolError {
		t.Fatalf("res.Err.Code = %q, want %q", res.Err.Code, domain.CodeToolError)
	}
	if !res.Err.Retryable {
		t.Fatal("expected tool error to be marked retryable")
	}
}

func TestExecuteUnknownProviderIsValidationError(t *testing.T) {
	ectx := newFakeExecutionContext(map[string]any{"provider": "mystery"}, nil)
	res := execute(context.Background(), ectx, APIKeys{})
	if res.Err == nil || res.Err.Code != domain.CodeValidation {
		t.Fatalf("res.Err = %+v, want CodeValidation", res.Err)
	}
}

func TestExtractSystemSeparatesSystemMessages(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "be concise"},
		{Role: RoleUser, Content: "hi"},
	}
	system, rest := extractSystem(messages)
	if system != "be concise" {
		t.Fatalf("system = %q, want %q", system, "be concise")
	}
	if len(rest) != 1 || rest[0].Role != RoleUser {
		t.Fatalf("rest = %+v, want one user message", rest)
	}
}

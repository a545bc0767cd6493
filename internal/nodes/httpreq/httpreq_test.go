package httpreq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/flowforge/internal/domain"
)

type fakeExecutionContext struct {
	config map[string]any
	set    map[string]any
}

func (f *fakeExecutionContext) RunID() string        { return "run-1" }
func (f *fakeExecutionContext) FlowID() string        { return "flow-1" }
func (f *fakeExecutionContext) NodeID() string        { return "node-1" }
func (f *fakeExecutionContext) TabID() string          { return "" }
func (f *fakeExecutionContext) Attempt() int           { return 1 }
func (f *fakeExecutionContext) Config() map[string]any { return f.config }
func (f *fakeExecutionContext) GetVar(string) (any, bool) { return nil, false }
func (f *fakeExecutionContext) SetVar(name string, value any) {
	if f.set == nil {
		f.set = map[string]any{}
	}
	f.set[name] = value
}
func (f *fakeExecutionContext) DeleteVar(string) {}
func (f *fakeExecutionContext) Log(string, string, map[string]any) {}
func (f *fakeExecutionContext) ChooseNext(string) {}
func (f *fakeExecutionContext) Screenshot(context.Context, string) (string, error) { return "", nil }
func (f *fakeExecutionContext) GetPersistent(context.Context, string) (*domain.PersistentVar, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeExecutionContext) SetPersistent(context.Context, string, any) error { return nil }
func (f *fakeExecutionContext) DeletePersistent(context.Context, string) error   { return nil }

func TestValidateRequiresURL(t *testing.T) {
	if err := validate(map[string]any{}); err == nil {
		t.Fatal("validate accepted a config with no url")
	}
}

func TestValidateRejectsUnsupportedMethod(t *testing.T) {
	if err := validate(map[string]any{"url": "http://example.com", "method": "TRACE"}); err == nil {
		t.Fatal("validate accepted an unsupported method")
	}
}

func TestExecuteSuccessfulGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	ectx := &fakeExecutionContext{config: map[string]any{"url": server.URL}}
	res := execute(context.Background(), ectx)
	if res.Err != nil {
		t.Fatalf("execute returned error: %v", res.Err)
	}
	out := res.Outputs["response"].(map[string]any)
	if out["statusCode"].(int) != http.StatusOK {
		t.Fatalf("statusCode = %v, want 200", out["statusCode"])
	}
	if out["body"].(string) != "hello" {
		t.Fatalf("body = %q, want %q", out["body"], "hello")
	}
}

func TestExecuteServerErrorIsNonNilErr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ectx := &fakeExecutionContext{config: map[string]any{"url": server.URL}}
	res := execute(context.Background(), ectx)
	if res.Err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if res.Err.Code != domain.CodeNetworkFailed {
		t.Fatalf("res.Err.Code = %q, want %q", res.Err.Code, domain.CodeNetworkFailed)
	}
}

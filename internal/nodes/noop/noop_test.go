package noop

import (
	"context"
	"testing"

	"github.com/dshills/flowforge/internal/registry"
)

func TestRegisterAddsNoopKind(t *testing.T) {
	reg := registry.New()
	Register(reg)

	def, derr := reg.Get(Kind)
	if derr != nil {
		t.Fatalf("Get(%q) returned error: %v", Kind, derr)
	}
	if def.Kind != Kind {
		t.Fatalf("def.Kind = %q, want %q", def.Kind, Kind)
	}
}

func TestValidateAcceptsAnyConfig(t *testing.T) {
	if err := validate(nil); err != nil {
		t.Fatalf("validate(nil) = %v, want nil", err)
	}
	if err := validate(map[string]any{"anything": 1}); err != nil {
		t.Fatalf("validate(non-empty) = %v, want nil", err)
	}
}

func TestExecuteSucceedsWithEmptyResult(t *testing.T) {
	res := execute(context.Background(), nil)
	if res.Err != nil {
		t.Fatalf("execute returned error: %v", res.Err)
	}
	if len(res.VarsPatch) != 0 || len(res.Outputs) != 0 || res.Next != nil {
		t.Fatalf("execute returned non-empty Result: %+v", res)
	}
}

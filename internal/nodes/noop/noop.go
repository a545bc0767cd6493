// Package noop registers the "noop" node kind: a node that does
// nothing and succeeds immediately, taking its default successor. It
// exists so the registry has a minimal kind to exercise at boot and
// in the seed-scenario tests (spec.md §8 scenario 1's linear A→B→C
// flow of no-op nodes).
package noop

import (
	"context"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/registry"
)

// Kind is the registered node kind name.
const Kind = "noop"

// Register adds the noop node definition to reg.
func Register(reg *registry.Registry) {
	reg.Register(registry.NodeDefinition{
		Kind:    Kind,
		Schema:  validate,
		Execute: execute,
	})
}

func validate(_ map[string]any) *domain.Error { return nil }

func execute(_ context.Context, _ registry.ExecutionContext) registry.Result {
	return registry.Result{}
}

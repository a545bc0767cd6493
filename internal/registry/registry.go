// Package registry is the process-wide Node Plugin Registry: a
// sync-protected map from node kind to its definition (config schema,
// default policy, execute function), resolved by the Run Runner once
// each time it visits a node, before that node's first attempt.
package registry

import (
	"context"
	"sync"

	"github.com/dshills/flowforge/internal/domain"
)

// SchemaFunc validates a node's Config bag once per node visit, before
// the first attempt. A non-nil result is a VALIDATION_ERROR and is
// never retried.
type SchemaFunc func(config map[string]any) *domain.Error

// ExecutionContext is what the Runner hands to a node's Execute
// function: run/node identity, the mutable variable map, logging,
// explicit successor choice, artifact capture, and persistent-variable
// access restricted to `$`-prefixed names.
type ExecutionContext interface {
	RunID() string
	FlowID() string
	NodeID() string
	TabID() string
	Attempt() int
	Config() map[string]any

	GetVar(name string) (any, bool)
	SetVar(name string, value any)
	DeleteVar(name string)

	Log(level, msg string, data map[string]any)

	// ChooseNext records an explicit successor edge label for this
	// attempt; if never called, the Runner falls back to the default
	// successor.
	ChooseNext(label string)

	// Screenshot captures an artifact under name and returns a
	// storage reference, honoring the node's ArtifactPolicy.
	Screenshot(ctx context.Context, name string) (ref string, err error)

	GetPersistent(ctx context.Context, key string) (*domain.PersistentVar, error)
	SetPersistent(ctx context.Context, key string, value any) error
	DeletePersistent(ctx context.Context, key string) error
}

// Result is what a node's Execute function returns for one attempt.
type Result struct {
	VarsPatch []domain.VarOp
	Outputs   map[string]any
	Next      *domain.NextHint
	Err       *domain.Error
}

// ExecuteFunc runs one attempt of a node kind.
type ExecuteFunc func(ctx context.Context, ectx ExecutionContext) Result

// NodeDefinition is one registered node kind.
type NodeDefinition struct {
	Kind          string
	Schema        SchemaFunc
	DefaultPolicy *domain.NodePolicy
	Execute       ExecuteFunc
}

// Registry maps node kind to its NodeDefinition. Registrations are
// additive; a later registration with the same kind overwrites the
// earlier one. All registration is expected to happen once at
// startup, before any run begins.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]NodeDefinition
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{defs: make(map[string]NodeDefinition)}
}

// Register adds or replaces the definition for def.Kind.
func (r *Registry) Register(def NodeDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Kind] = def
}

// Get resolves kind or returns an UNSUPPORTED_NODE error.
func (r *Registry) Get(kind string) (NodeDefinition, *domain.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[kind]
	if !ok {
		return NodeDefinition{}, domain.NewError(domain.CodeUnsupportedNode, "no node registered for kind %q", kind)
	}
	return def, nil
}

// Kinds lists every registered node kind.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	return kinds
}

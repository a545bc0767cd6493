package runner

import (
	"context"
	"sync"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/registry"
	"github.com/dshills/flowforge/internal/storage"
)

// execContext is the registry.ExecutionContext a node's Execute
// function observes for one attempt. Variable reads/writes are
// buffered locally and diffed into a VarOp patch after the attempt
// returns, per spec.md's "mutable reference to be diffed later".
type execContext struct {
	runID   string
	flowID  string
	nodeID  string
	tabID   string
	attempt int
	config  map[string]any

	vars    map[string]any
	varOps  []domain.VarOp
	chosen  string
	hasNext bool

	varStore   storage.VarStore
	artifact   ArtifactStore
	onArtifact func(ctx context.Context, name, ref string)
	onLog      func(level, msg string, data map[string]any)
	log        *logging.Logger

	mu sync.Mutex
}

func newExecContext(runID, flowID, nodeID, tabID string, attempt int, config, vars map[string]any, varStore storage.VarStore, artifact ArtifactStore, onArtifact func(ctx context.Context, name, ref string), onLog func(level, msg string, data map[string]any), log *logging.Logger) *execContext {
	snapshot := make(map[string]any, len(vars))
	for k, v := range vars {
		snapshot[k] = v
	}
	return &execContext{
		runID:    runID,
		flowID:   flowID,
		nodeID:   nodeID,
		tabID:    tabID,
		attempt:  attempt,
		config:   config,
		vars:       snapshot,
		varStore:   varStore,
		artifact:   artifact,
		onArtifact: onArtifact,
		onLog:      onLog,
		log:        log,
	}
}

func (c *execContext) RunID() string          { return c.runID }
func (c *execContext) FlowID() string         { return c.flowID }
func (c *execContext) NodeID() string         { return c.nodeID }
func (c *execContext) TabID() string          { return c.tabID }
func (c *execContext) Attempt() int           { return c.attempt }
func (c *execContext) Config() map[string]any { return c.config }

func (c *execContext) GetVar(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[name]
	return v, ok
}

func (c *execContext) SetVar(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
	c.varOps = append(c.varOps, domain.VarOp{Op: domain.VarOpSet, Name: name, Value: value})
}

func (c *execContext) DeleteVar(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vars, name)
	c.varOps = append(c.varOps, domain.VarOp{Op: domain.VarOpDelete, Name: name})
}

func (c *execContext) Log(level, msg string, data map[string]any) {
	entry := c.log.RunLogger(c.runID, c.nodeID).WithField("level", level)
	if data != nil {
		entry = entry.WithField("data", data)
	}
	entry.Info(msg)
	if c.onLog != nil {
		c.onLog(level, msg, data)
	}
}

func (c *execContext) ChooseNext(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chosen = label
	c.hasNext = true
}

func (c *execContext) Screenshot(ctx context.Context, name string) (string, error) {
	if c.artifact == nil {
		return "", domain.NewError(domain.CodeToolError, "no artifact store configured")
	}
	ref, err := c.artifact.Put(ctx, c.runID, name, nil)
	if err != nil {
		return "", err
	}
	if c.onArtifact != nil {
		c.onArtifact(ctx, name, ref)
	}
	return ref, nil
}

func (c *execContext) GetPersistent(ctx context.Context, key string) (*domain.PersistentVar, error) {
	if !domain.IsPersistentName(key) {
		return nil, domain.NewError(domain.CodeValidation, "persistent variable key %q must start with %q", key, domain.PersistentPrefix)
	}
	return c.varStore.Get(ctx, key)
}

func (c *execContext) SetPersistent(ctx context.Context, key string, value any) error {
	if !domain.IsPersistentName(key) {
		return domain.NewError(domain.CodeValidation, "persistent variable key %q must start with %q", key, domain.PersistentPrefix)
	}
	_, err := c.varStore.Set(ctx, key, value)
	return err
}

func (c *execContext) DeletePersistent(ctx context.Context, key string) error {
	if !domain.IsPersistentName(key) {
		return domain.NewError(domain.CodeValidation, "persistent variable key %q must start with %q", key, domain.PersistentPrefix)
	}
	return c.varStore.Delete(ctx, key)
}

var _ registry.ExecutionContext = (*execContext)(nil)

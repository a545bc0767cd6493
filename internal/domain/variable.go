package domain

import (
	"strings"
	"time"
)

// VariableScope distinguishes run-scoped from flow-scoped transient
// variable definitions. Persistent variables are identified by the
// `$` name prefix rather than by scope.
type VariableScope string

const (
	VariableScopeRun  VariableScope = "run"
	VariableScopeFlow VariableScope = "flow"
)

// PersistentPrefix marks a variable name as a durable, versioned key
// rather than a transient run variable.
const PersistentPrefix = "$"

// IsPersistentName reports whether name is a persistent-variable key.
func IsPersistentName(name string) bool {
	return strings.HasPrefix(name, PersistentPrefix)
}

// VariableDef declares a transient variable a Flow expects in args or
// defaults, plus display hints.
type VariableDef struct {
	Name        string        `json:"name"`
	Label       string        `json:"label,omitempty"`
	Description string        `json:"description,omitempty"`
	Default     any           `json:"default,omitempty"`
	Required    bool          `json:"required,omitempty"`
	Sensitive   bool          `json:"sensitive,omitempty"`
	Scope       VariableScope `json:"scope,omitempty"`
}

// PersistentVar is a durable, last-writer-wins key/value record. Key
// must start with PersistentPrefix; Version increments by exactly one
// on every write.
type PersistentVar struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// VarOp is a single set or delete applied to the variable map during
// result handling, and recorded verbatim on a vars.patch event.
type VarOp struct {
	Op    string `json:"op"` // "set" | "delete"
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
}

const (
	VarOpSet    = "set"
	VarOpDelete = "delete"
)

package domain

import "time"

// RunStatus is a Run's position in its lifecycle state machine.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// terminalRunStatuses are statuses a Run never leaves once entered.
var terminalRunStatuses = map[RunStatus]bool{
	RunSucceeded: true,
	RunFailed:    true,
	RunCanceled:  true,
}

// IsTerminal reports whether s is a terminal Run status.
func (s RunStatus) IsTerminal() bool { return terminalRunStatuses[s] }

// validRunTransitions enumerates the Run status state machine. A
// transition not listed here is rejected by CanTransition.
var validRunTransitions = map[RunStatus][]RunStatus{
	RunQueued:  {RunRunning, RunCanceled},
	RunRunning: {RunPaused, RunSucceeded, RunFailed, RunCanceled},
	RunPaused:  {RunRunning, RunCanceled},
}

// CanTransition reports whether a Run may move from 'from' to 'to'.
func CanTransition(from, to RunStatus) bool {
	if from == to {
		return true
	}
	for _, next := range validRunTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PauseReasonKind classifies why a Run is paused.
type PauseReasonKind string

const (
	PauseReasonPolicy     PauseReasonKind = "policy"
	PauseReasonBreakpoint PauseReasonKind = "breakpoint"
	PauseReasonStep       PauseReasonKind = "step"
	PauseReasonCommand    PauseReasonKind = "command"
)

// PauseReason records why and where a Run's cooperative pause fired.
type PauseReason struct {
	Kind   PauseReasonKind `json:"kind"`
	NodeID string          `json:"nodeId,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// StepMode is the breakpoint registry's single-step state.
type StepMode string

const (
	StepNone     StepMode = "none"
	StepStepOver StepMode = "stepOver"
)

// DebugConfig configures breakpoints and pause-on-start behavior for
// a Run's interpreter.
type DebugConfig struct {
	Breakpoints  []string `json:"breakpoints,omitempty"`
	PauseOnStart bool     `json:"pauseOnStart,omitempty"`
}

// TriggerContext is the fire-time context a Trigger hands to the Run
// it spawns.
type TriggerContext struct {
	TriggerID string    `json:"triggerId"`
	Kind      string    `json:"kind"`
	FiredAt   time.Time `json:"firedAt"`
	TabID     string    `json:"tabId,omitempty"`
	PageID    string    `json:"pageId,omitempty"`
}

// Run is the durable record of one Flow execution: its current
// position in the DAG, retry accounting, and the event-sequence
// watermark for its append-only log.
type Run struct {
	SchemaVersion int             `json:"schemaVersion"`
	ID            string          `json:"id"`
	FlowID        string          `json:"flowId"`
	Status        RunStatus       `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	TookMs        *int64          `json:"tookMs,omitempty"`
	TabID         string          `json:"tabId,omitempty"`
	StartNodeID   string          `json:"startNodeId,omitempty"`
	CurrentNodeID string          `json:"currentNodeId,omitempty"`
	Attempt       int             `json:"attempt"`
	MaxAttempts   int             `json:"maxAttempts"`
	Args          map[string]any  `json:"args,omitempty"`
	Trigger       *TriggerContext `json:"trigger,omitempty"`
	Debug         *DebugConfig    `json:"debug,omitempty"`
	Error         *Error          `json:"error,omitempty"`
	Outputs       map[string]any  `json:"outputs,omitempty"`
	NextSeq       int64           `json:"nextSeq"`
	Priority      int             `json:"priority"`
	PauseReason   *PauseReason    `json:"pauseReason,omitempty"`
}

// AllocateSeq returns the next event sequence number and advances the
// watermark. Callers must hold the transaction that also persists the
// Run record.
func (r *Run) AllocateSeq() int64 {
	seq := r.NextSeq
	r.NextSeq++
	return seq
}

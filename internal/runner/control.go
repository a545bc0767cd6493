package runner

import (
	"sync"

	"github.com/dshills/flowforge/internal/domain"
)

// control is the per-run cooperative pause/cancel/breakpoint state a
// Runner goroutine checks at its cooperative checkpoints (between
// nodes and between attempts), per spec.md §4.7.
type control struct {
	mu          sync.Mutex
	canceled    bool
	cancelOnce  sync.Once
	canceledCh  chan struct{}
	paused      bool
	pauseReason *domain.PauseReason
	wake        chan struct{}
	breakpoints map[string]bool
	stepMode    domain.StepMode
}

func newControl(debug *domain.DebugConfig) *control {
	c := &control{
		canceledCh:  make(chan struct{}),
		wake:        make(chan struct{}),
		breakpoints: make(map[string]bool),
	}
	if debug != nil {
		for _, id := range debug.Breakpoints {
			c.breakpoints[id] = true
		}
	}
	return c
}

func (c *control) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// Cancel sets the cancel flag and wakes any pause-waiter. Idempotent.
func (c *control) Cancel() {
	c.cancelOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.canceled = true
		close(c.canceledCh)
		c.broadcastLocked()
	})
}

func (c *control) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// RequestPause sets the pause flag and reason. No-op if already canceled.
func (c *control) RequestPause(reason domain.PauseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return
	}
	c.paused = true
	reasonCopy := reason
	c.pauseReason = &reasonCopy
	c.broadcastLocked()
}

// Resume clears the pause flag.
func (c *control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.pauseReason = nil
	c.broadcastLocked()
}

func (c *control) IsPaused() (bool, *domain.PauseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused, c.pauseReason
}

// WaitWhilePaused blocks until either resumed, canceled, or ctx is
// done, per spec's "block on a single-producer wait primitive until
// resumed or canceled". Returns true if canceled.
func (c *control) WaitWhilePaused(stop <-chan struct{}) (canceled bool) {
	for {
		c.mu.Lock()
		if c.canceled {
			c.mu.Unlock()
			return true
		}
		if !c.paused {
			c.mu.Unlock()
			return false
		}
		wake := c.wake
		c.mu.Unlock()
		select {
		case <-wake:
		case <-stop:
			return c.IsCanceled()
		}
	}
}

// ShouldPauseAt reports whether execution should pause before nodeID,
// consuming step-over mode on a hit per spec.md §4.7.
func (c *control) ShouldPauseAt(nodeID string) (bool, domain.PauseReasonKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stepMode == domain.StepStepOver {
		c.stepMode = domain.StepNone
		return true, domain.PauseReasonStep
	}
	if c.breakpoints[nodeID] {
		return true, domain.PauseReasonBreakpoint
	}
	return false, ""
}

func (c *control) SetBreakpoints(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakpoints = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.breakpoints[id] = true
	}
}

func (c *control) StepOver() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepMode = domain.StepStepOver
}

// controlTable is the Runner's registry of in-flight runs' controls,
// keyed by run ID, so RPC-driven commands can reach the goroutine
// executing that run.
type controlTable struct {
	mu    sync.Mutex
	byRun map[string]*control
}

func newControlTable() controlTable {
	return controlTable{byRun: make(map[string]*control)}
}

func (t *controlTable) put(runID string, c *control) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byRun[runID] = c
}

func (t *controlTable) get(runID string) (*control, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byRun[runID]
	return c, ok
}

func (t *controlTable) remove(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byRun, runID)
}

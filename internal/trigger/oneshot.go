package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/flowforge/internal/domain"
)

// OneShotHandler arms a single time.Timer at spec.FireAt. A timestamp
// already in the past clamps to a zero delay, firing immediately.
type OneShotHandler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewOneShotHandler constructs a OneShotHandler.
func NewOneShotHandler() *OneShotHandler {
	return &OneShotHandler{timers: make(map[string]*time.Timer)}
}

func (h *OneShotHandler) Kind() domain.TriggerKind { return domain.TriggerOneShot }

func (h *OneShotHandler) Install(ctx context.Context, spec *domain.TriggerSpec, fire FireFunc) error {
	if spec.FireAt == nil {
		return domain.NewError(domain.CodeValidation, "oneshot trigger requires fireAt")
	}

	delay := time.Until(*spec.FireAt)
	if delay < 0 {
		delay = 0
	}
	triggerID := spec.ID

	timer := time.AfterFunc(delay, func() {
		fire(context.Background(), triggerID, domain.TriggerFireContext{
			TriggerID: triggerID,
			Kind:      domain.TriggerOneShot,
			FiredAt:   time.Now(),
		})
	})

	h.mu.Lock()
	if old, ok := h.timers[triggerID]; ok {
		old.Stop()
	}
	h.timers[triggerID] = timer
	h.mu.Unlock()
	return nil
}

func (h *OneShotHandler) Uninstall(id string) error {
	h.mu.Lock()
	timer, ok := h.timers[id]
	delete(h.timers, id)
	h.mu.Unlock()
	if ok {
		timer.Stop()
	}
	return nil
}

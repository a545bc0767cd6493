package trigger

import (
	"context"

	"github.com/dshills/flowforge/internal/domain"
)

// FireFunc is the callback a Handler invokes when its firing
// condition is met. fc carries the fire-time context (firedAt, source
// tab/page) that flows into the enqueued Run.
type FireFunc func(ctx context.Context, triggerID string, fc domain.TriggerFireContext)

// Handler owns the host-specific listener plumbing for one
// TriggerKind: translating alarms, URL navigations, hotkeys, context
// menu activations and DOM observations into calls to the fire
// callback it is handed at Install time.
type Handler interface {
	Kind() domain.TriggerKind
	Install(ctx context.Context, spec *domain.TriggerSpec, fire FireFunc) error
	Uninstall(id string) error
}

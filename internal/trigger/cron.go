package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dshills/flowforge/internal/domain"
)

// CronHandler wraps robfig/cron/v3 for schedule parsing and
// timezone-correct next-fire computation. One alarm (cron.EntryID) per
// installed trigger.
type CronHandler struct {
	parser cron.Parser

	mu      sync.Mutex
	engines map[string]*cron.Cron
}

// NewCronHandler constructs a CronHandler accepting standard five-field
// cron expressions.
func NewCronHandler() *CronHandler {
	return &CronHandler{
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		engines: make(map[string]*cron.Cron),
	}
}

func (h *CronHandler) Kind() domain.TriggerKind { return domain.TriggerCron }

// Install parses spec.CronExpr and spec.TimeZone, rejecting malformed
// expressions or invalid IANA zones before the trigger is considered
// installed, then runs a dedicated *cron.Cron with one entry.
func (h *CronHandler) Install(ctx context.Context, spec *domain.TriggerSpec, fire FireFunc) error {
	if _, err := h.parser.Parse(spec.CronExpr); err != nil {
		return domain.NewError(domain.CodeValidation, "invalid cron expression %q: %v", spec.CronExpr, err)
	}

	loc := time.UTC
	if spec.TimeZone != "" {
		l, err := time.LoadLocation(spec.TimeZone)
		if err != nil {
			return domain.NewError(domain.CodeValidation, "invalid timezone %q: %v", spec.TimeZone, err)
		}
		loc = l
	}

	engine := cron.New(cron.WithLocation(loc), cron.WithParser(h.parser))
	triggerID := spec.ID
	_, err := engine.AddFunc(spec.CronExpr, func() {
		fire(context.Background(), triggerID, domain.TriggerFireContext{
			TriggerID: triggerID,
			Kind:      domain.TriggerCron,
			FiredAt:   time.Now(),
		})
	})
	if err != nil {
		return domain.NewError(domain.CodeValidation, "cron schedule rejected: %v", err)
	}

	h.mu.Lock()
	if old, ok := h.engines[triggerID]; ok {
		old.Stop()
	}
	h.engines[triggerID] = engine
	h.mu.Unlock()

	engine.Start()
	return nil
}

func (h *CronHandler) Uninstall(id string) error {
	h.mu.Lock()
	engine, ok := h.engines[id]
	delete(h.engines, id)
	h.mu.Unlock()
	if ok {
		stopCtx := engine.Stop()
		<-stopCtx.Done()
	}
	return nil
}

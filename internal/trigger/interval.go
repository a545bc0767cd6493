package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/flowforge/internal/domain"
)

// IntervalHandler fires a trigger on a fixed period via one
// time.Ticker per installed trigger.
type IntervalHandler struct {
	mu      sync.Mutex
	tickers map[string]*time.Ticker
	stop    map[string]chan struct{}
}

// NewIntervalHandler constructs an IntervalHandler.
func NewIntervalHandler() *IntervalHandler {
	return &IntervalHandler{
		tickers: make(map[string]*time.Ticker),
		stop:    make(map[string]chan struct{}),
	}
}

func (h *IntervalHandler) Kind() domain.TriggerKind { return domain.TriggerInterval }

func (h *IntervalHandler) Install(ctx context.Context, spec *domain.TriggerSpec, fire FireFunc) error {
	if spec.IntervalMinutes < 1 {
		return domain.NewError(domain.CodeValidation, "interval trigger requires intervalMinutes >= 1")
	}

	ticker := time.NewTicker(time.Duration(spec.IntervalMinutes) * time.Minute)
	stop := make(chan struct{})
	triggerID := spec.ID

	h.mu.Lock()
	if old, ok := h.tickers[triggerID]; ok {
		old.Stop()
		close(h.stop[triggerID])
	}
	h.tickers[triggerID] = ticker
	h.stop[triggerID] = stop
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				fire(context.Background(), triggerID, domain.TriggerFireContext{
					TriggerID: triggerID,
					Kind:      domain.TriggerInterval,
					FiredAt:   time.Now(),
				})
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (h *IntervalHandler) Uninstall(id string) error {
	h.mu.Lock()
	ticker, ok := h.tickers[id]
	stop := h.stop[id]
	delete(h.tickers, id)
	delete(h.stop, id)
	h.mu.Unlock()
	if ok {
		ticker.Stop()
		close(stop)
	}
	return nil
}

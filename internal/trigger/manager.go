// Package trigger implements the Trigger Manager (spec.md §4.9):
// per-kind handlers translating host events into enqueued Runs, with
// per-trigger cooldown and global max-queued storm control.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/eventbus"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/metrics"
	"github.com/dshills/flowforge/internal/storage"
)

// Config bounds global storm control. Zero MaxQueued means unlimited;
// DefaultCooldownMs applies to triggers whose spec sets no cooldown of
// its own (zero = off).
type Config struct {
	MaxQueued         int
	DefaultCooldownMs int
}

// Manager coordinates per-kind Handlers against the durable Trigger
// store, applying storm control before handing fires to enqueueRun.
type Manager struct {
	cfg     Config
	store   storage.TriggerStore
	runs    storage.RunStore
	queue   storage.QueueStore
	events  *eventbus.Bus
	metrics *metrics.Metrics
	log     *logging.Logger
	kick    func()

	handlers map[domain.TriggerKind]Handler

	mu              sync.Mutex
	installed       map[string]*domain.TriggerSpec
	lastFired       map[string]time.Time
	inFlightEnqueue int

	refreshMu      sync.Mutex
	refreshPending bool
	refreshRunning bool
}

// New constructs a Manager. Handlers must be registered via
// RegisterHandler before Start. kick is called after every
// successful enqueue to wake the Scheduler immediately; it may be
// nil (the run then waits for the Scheduler's next reclamation tick).
func New(cfg Config, store storage.TriggerStore, runs storage.RunStore, queue storage.QueueStore, events *eventbus.Bus, m *metrics.Metrics, log *logging.Logger, kick func()) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		runs:      runs,
		queue:     queue,
		events:    events,
		metrics:   m,
		log:       log,
		kick:      kick,
		handlers:  make(map[domain.TriggerKind]Handler),
		installed: make(map[string]*domain.TriggerSpec),
		lastFired: make(map[string]time.Time),
	}
}

// RegisterHandler wires a kind-specific Handler. Call before Start;
// not safe for concurrent use with Start/Refresh.
func (m *Manager) RegisterHandler(h Handler) {
	m.handlers[h.Kind()] = h
}

// Start lists all enabled triggers and installs each via its kind's
// handler.
func (m *Manager) Start(ctx context.Context) error {
	return m.doRefresh(ctx)
}

// Stop uninstalls every currently-installed trigger from its handler.
func (m *Manager) Stop() {
	m.mu.Lock()
	installed := make([]*domain.TriggerSpec, 0, len(m.installed))
	for _, spec := range m.installed {
		installed = append(installed, spec)
	}
	m.mu.Unlock()

	for _, spec := range installed {
		m.uninstall(spec)
	}
}

// Refresh re-lists triggers and reconciles installed state against
// them. Concurrent calls coalesce into a single pending pass, per
// spec.md's "refresh() (coalesced)".
func (m *Manager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	if m.refreshRunning {
		m.refreshPending = true
		m.refreshMu.Unlock()
		return nil
	}
	m.refreshRunning = true
	m.refreshMu.Unlock()

	var err error
	for {
		err = m.doRefresh(ctx)

		m.refreshMu.Lock()
		if !m.refreshPending {
			m.refreshRunning = false
			m.refreshMu.Unlock()
			break
		}
		m.refreshPending = false
		m.refreshMu.Unlock()
	}
	return err
}

func (m *Manager) doRefresh(ctx context.Context) error {
	specs, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[string]*domain.TriggerSpec, len(specs))
	for _, spec := range specs {
		if spec.Enabled {
			wanted[spec.ID] = spec
		}
	}

	m.mu.Lock()
	var toUninstall []*domain.TriggerSpec
	for id, spec := range m.installed {
		if _, ok := wanted[id]; !ok {
			toUninstall = append(toUninstall, spec)
		}
	}
	m.mu.Unlock()
	for _, spec := range toUninstall {
		m.uninstall(spec)
	}

	for id, spec := range wanted {
		m.mu.Lock()
		_, already := m.installed[id]
		m.mu.Unlock()
		if already {
			continue
		}
		m.install(ctx, spec)
	}
	return nil
}

func (m *Manager) install(ctx context.Context, spec *domain.TriggerSpec) {
	h, ok := m.handlers[spec.Kind]
	if !ok {
		m.log.WithFields(map[string]any{"triggerId": spec.ID, "kind": spec.Kind}).Warn("no handler registered for trigger kind")
		return
	}
	if err := h.Install(ctx, spec, m.fire); err != nil {
		m.log.WithFields(map[string]any{"triggerId": spec.ID, "kind": spec.Kind, "error": err}).Warn("trigger install failed")
		return
	}
	m.mu.Lock()
	m.installed[spec.ID] = spec
	m.mu.Unlock()
}

func (m *Manager) uninstall(spec *domain.TriggerSpec) {
	h, ok := m.handlers[spec.Kind]
	if ok {
		if err := h.Uninstall(spec.ID); err != nil {
			m.log.WithFields(map[string]any{"triggerId": spec.ID, "error": err}).Warn("trigger uninstall failed")
		}
	}
	m.mu.Lock()
	delete(m.installed, spec.ID)
	m.mu.Unlock()
}

// Fire manually fires a trigger (the RPC surface's fire method),
// erroring if it is not currently installed, per spec.md §4.9 step 1's
// "errors if manually fired via RPC" branch.
func (m *Manager) Fire(ctx context.Context, triggerID string) error {
	m.mu.Lock()
	spec, ok := m.installed[triggerID]
	m.mu.Unlock()
	if !ok {
		return domain.NewError(domain.CodeValidation, "trigger %s is not installed", triggerID)
	}
	m.fire(ctx, triggerID, domain.TriggerFireContext{TriggerID: triggerID, Kind: spec.Kind, FiredAt: time.Now()})
	return nil
}

// fire is the Handler-facing callback implementing spec.md §4.9's
// fire path: lookup, cooldown, global maxQueued, enqueueRun, cooldown
// rollback on failure.
func (m *Manager) fire(ctx context.Context, triggerID string, fc domain.TriggerFireContext) {
	m.mu.Lock()
	spec, ok := m.installed[triggerID]
	if !ok {
		m.mu.Unlock()
		m.log.WithFields(map[string]any{"triggerId": triggerID}).Debug("fire dropped: trigger not installed")
		return
	}

	now := time.Now()
	cooldownMs := spec.CooldownMs
	if cooldownMs == 0 {
		cooldownMs = m.cfg.DefaultCooldownMs
	}
	if cooldownMs > 0 {
		if last, seen := m.lastFired[triggerID]; seen && now.Sub(last) < time.Duration(cooldownMs)*time.Millisecond {
			m.mu.Unlock()
			m.log.WithFields(map[string]any{"triggerId": triggerID}).Debug("fire dropped: cooldown active")
			return
		}
	}
	m.mu.Unlock()

	if atCapacity := m.atGlobalCapacity(ctx); atCapacity {
		m.log.WithFields(map[string]any{"triggerId": triggerID}).Debug("fire dropped: maxQueued at capacity")
		return
	}

	m.mu.Lock()
	m.lastFired[triggerID] = now
	m.inFlightEnqueue++
	m.mu.Unlock()

	_, err := EnqueueRun(ctx, m.runs, m.queue, m.events, EnqueueRequest{
		FlowID: spec.FlowID,
		Args:   spec.Args,
		Trigger: &domain.TriggerContext{
			TriggerID: fc.TriggerID,
			Kind:      string(fc.Kind),
			FiredAt:   fc.FiredAt,
			TabID:     fc.TabID,
			PageID:    fc.PageID,
		},
		Kick: m.kick,
	})

	m.mu.Lock()
	m.inFlightEnqueue--
	if err != nil {
		delete(m.lastFired, triggerID)
	}
	m.mu.Unlock()

	if err != nil {
		m.log.WithFields(map[string]any{"triggerId": triggerID, "error": err}).Warn("enqueueRun failed, cooldown rolled back")
		return
	}
	if m.metrics != nil {
		m.metrics.IncrementTriggerFires(string(spec.Kind))
	}
}

func (m *Manager) atGlobalCapacity(ctx context.Context) bool {
	if m.cfg.MaxQueued <= 0 {
		return false
	}
	items, err := m.queue.List(ctx)
	if err != nil {
		m.log.WithFields(map[string]any{"error": err}).Warn("queue list failed during storm check")
		return false
	}
	queued := 0
	for _, it := range items {
		if it.Status == domain.QueueQueued {
			queued++
		}
	}
	m.mu.Lock()
	inFlight := m.inFlightEnqueue
	m.mu.Unlock()
	return queued+inFlight >= m.cfg.MaxQueued
}

// Package memory is an in-process Backend implementation for testing,
// development, and single-host deployments where durability across
// restarts is not required.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/storage"
)

// Backend is a mutex-guarded, map-backed storage.Backend. It is
// thread-safe and supports concurrent access, mirroring the shape of
// the teacher's MemStore but split across the six domain stores
// instead of a single generic state map.
type Backend struct {
	flows    *flowStore
	runs     *runStore
	events   *eventStore
	queue    *queueStore
	vars     *varStore
	triggers *triggerStore
}

// New constructs an empty in-memory Backend.
func New() *Backend {
	runs := newRunStore()
	return &Backend{
		flows:    newFlowStore(),
		runs:     runs,
		events:   newEventStore(runs),
		queue:    newQueueStore(),
		vars:     newVarStore(),
		triggers: newTriggerStore(),
	}
}

func (b *Backend) Flows() storage.FlowStore       { return b.flows }
func (b *Backend) Runs() storage.RunStore         { return b.runs }
func (b *Backend) Events() storage.EventStore     { return b.events }
func (b *Backend) Queue() storage.QueueStore      { return b.queue }
func (b *Backend) Vars() storage.VarStore         { return b.vars }
func (b *Backend) Triggers() storage.TriggerStore { return b.triggers }
func (b *Backend) Close() error                   { return nil }

// ---- Flows ----

type flowStore struct {
	mu    sync.RWMutex
	flows map[string]*domain.Flow
}

func newFlowStore() *flowStore {
	return &flowStore{flows: make(map[string]*domain.Flow)}
}

func (s *flowStore) Save(_ context.Context, f *domain.Flow) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.flows[f.ID] = &cp
	return nil
}

func (s *flowStore) Get(_ context.Context, id string) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *flowStore) List(_ context.Context) ([]*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (s *flowStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	return nil
}

// ---- Runs ----

type runStore struct {
	mu   sync.Mutex
	runs map[string]*domain.Run
}

func newRunStore() *runStore {
	return &runStore{runs: make(map[string]*domain.Run)}
}

func (s *runStore) Save(_ context.Context, r *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *runStore) Get(_ context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// Patch reads the current record, applies mutate, stamps UpdatedAt,
// and writes back — all under the store's lock, the in-memory
// equivalent of the single transaction the contract requires.
func (s *runStore) Patch(_ context.Context, id string, mutate func(*domain.Run) error) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.ID = r.ID
	cp.SchemaVersion = r.SchemaVersion
	cp.UpdatedAt = time.Now().UTC()
	s.runs[id] = &cp
	out := cp
	return &out, nil
}

func (s *runStore) List(_ context.Context, flowID string) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Run, 0, len(s.runs))
	for _, r := range s.runs {
		if flowID == "" || r.FlowID == flowID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Events ----

type eventStore struct {
	mu      sync.Mutex
	runs    *runStore
	events  map[string][]domain.Event // runID -> ordered log
	pending []storage.OutboxEvent
}

func newEventStore(runs *runStore) *eventStore {
	return &eventStore{runs: runs, events: make(map[string][]domain.Event)}
}

// Append allocates Seq from the Run record's nextSeq watermark,
// inserts the event, and advances the watermark — the event store's
// lock plus the run store's lock together are the in-memory
// equivalent of the single §4.2 append transaction.
func (s *eventStore) Append(_ context.Context, runID string, build func(seq int64) domain.Event) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs.mu.Lock()
	defer s.runs.mu.Unlock()

	run, ok := s.runs.runs[runID]
	if !ok {
		return domain.Event{}, domain.NewError(domain.CodeInternal, "append: run %q not found", runID)
	}
	if run.NextSeq < 0 {
		return domain.Event{}, domain.NewError(domain.CodeInvariantViolated, "run %q has negative nextSeq", runID)
	}

	ev := build(run.NextSeq)
	ev.RunID = runID
	ev.Seq = run.AllocateSeq()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	run.UpdatedAt = ev.Timestamp

	s.events[runID] = append(s.events[runID], ev)
	s.pending = append(s.pending, storage.OutboxEvent{ID: uuid.NewString(), Event: ev})
	return ev, nil
}

func (s *eventStore) List(_ context.Context, runID string, r storage.EventRange) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[runID]
	out := make([]domain.Event, 0, len(all))
	for _, e := range all {
		if e.Seq >= r.FromSeq {
			out = append(out, e)
		}
	}
	if r.Limit > 0 && len(out) > r.Limit {
		out = out[:r.Limit]
	}
	return out, nil
}

func (s *eventStore) PendingEvents(_ context.Context, limit int) ([]storage.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]storage.OutboxEvent, n)
	copy(out, s.pending[:n])
	return out, nil
}

func (s *eventStore) MarkEventsEmitted(_ context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(eventIDs) == 0 {
		return nil
	}
	remove := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		remove[id] = true
	}
	filtered := s.pending[:0:0]
	for _, oe := range s.pending {
		if !remove[oe.ID] {
			filtered = append(filtered, oe)
		}
	}
	s.pending = filtered
	return nil
}

// ---- Queue ----

type queueStore struct {
	mu    sync.Mutex
	items map[string]*domain.QueueItem
}

func newQueueStore() *queueStore {
	return &queueStore{items: make(map[string]*domain.QueueItem)}
}

func (s *queueStore) Enqueue(_ context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	cp.Status = domain.QueueQueued
	cp.Lease = nil
	s.items[item.ID] = &cp
	return nil
}

func (s *queueStore) ClaimNext(_ context.Context, ownerID string, leaseTTL time.Duration, now time.Time) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.QueueItem
	for _, it := range s.items {
		if it.Status != domain.QueueQueued {
			continue
		}
		if best == nil || it.Less(best) {
			best = it
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = domain.QueueRunning
	best.Attempt++
	best.Lease = &domain.Lease{OwnerID: ownerID, ExpiresAt: now.Add(leaseTTL)}
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

func (s *queueStore) Heartbeat(_ context.Context, ownerID string, leaseTTL time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if (it.Status == domain.QueueRunning || it.Status == domain.QueuePaused) &&
			it.Lease != nil && it.Lease.OwnerID == ownerID {
			it.Lease.ExpiresAt = now.Add(leaseTTL)
			it.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *queueStore) ReclaimExpiredLeases(_ context.Context, now time.Time) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reclaimed []*domain.QueueItem
	for _, it := range s.items {
		if it.Lease == nil || !it.Lease.Expired(now) {
			continue
		}
		switch it.Status {
		case domain.QueueRunning, domain.QueuePaused:
			it.Status = domain.QueueQueued
			it.Lease = nil
			it.UpdatedAt = now
			cp := *it
			reclaimed = append(reclaimed, &cp)
		default:
			it.Lease = nil
		}
	}
	return reclaimed, nil
}

func (s *queueStore) RecoverOrphanLeases(_ context.Context, newOwnerID string, leaseTTL time.Duration, now time.Time) ([]storage.OrphanRecord, []storage.OrphanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var requeued, adopted []storage.OrphanRecord
	for _, it := range s.items {
		switch it.Status {
		case domain.QueueRunning:
			if it.Lease == nil || it.Lease.OwnerID != newOwnerID {
				prev := ""
				if it.Lease != nil {
					prev = it.Lease.OwnerID
				}
				it.Status = domain.QueueQueued
				it.Lease = nil
				it.UpdatedAt = now
				cp := *it
				requeued = append(requeued, storage.OrphanRecord{Item: &cp, PreviousOwner: prev})
			}
		case domain.QueuePaused:
			if it.Lease == nil || it.Lease.OwnerID != newOwnerID {
				prev := ""
				if it.Lease != nil {
					prev = it.Lease.OwnerID
				}
				it.Lease = &domain.Lease{OwnerID: newOwnerID, ExpiresAt: now.Add(leaseTTL)}
				it.UpdatedAt = now
				cp := *it
				adopted = append(adopted, storage.OrphanRecord{Item: &cp, PreviousOwner: prev})
			}
		}
	}
	return requeued, adopted, nil
}

func (s *queueStore) MarkRunning(_ context.Context, id string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if it.Status == domain.QueueQueued {
		it.Attempt++
	}
	it.Status = domain.QueueRunning
	it.UpdatedAt = time.Now().UTC()
	cp := *it
	return &cp, nil
}

func (s *queueStore) MarkPaused(_ context.Context, id string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	it.Status = domain.QueuePaused
	it.UpdatedAt = time.Now().UTC()
	cp := *it
	return &cp, nil
}

func (s *queueStore) MarkDone(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *queueStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Status != domain.QueueQueued {
		return domain.NewError(domain.CodeInvariantViolated, "cancel from queue requires status=queued, got %s", it.Status)
	}
	delete(s.items, id)
	return nil
}

func (s *queueStore) Get(_ context.Context, id string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *queueStore) List(_ context.Context) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.QueueItem, 0, len(s.items))
	for _, it := range s.items {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

// ---- PersistentVars ----

type varStore struct {
	mu   sync.Mutex
	vars map[string]*domain.PersistentVar
}

func newVarStore() *varStore {
	return &varStore{vars: make(map[string]*domain.PersistentVar)}
}

func (s *varStore) Get(_ context.Context, key string) (*domain.PersistentVar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *varStore) Set(_ context.Context, key string, value any) (*domain.PersistentVar, error) {
	if !domain.IsPersistentName(key) {
		return nil, domain.NewError(domain.CodeValidation, "persistent variable key %q must start with %q", key, domain.PersistentPrefix)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	version := int64(1)
	if prev, ok := s.vars[key]; ok {
		version = prev.Version + 1
	}
	v := &domain.PersistentVar{Key: key, Value: value, UpdatedAt: time.Now().UTC(), Version: version}
	s.vars[key] = v
	cp := *v
	return &cp, nil
}

func (s *varStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, key)
	return nil
}

func (s *varStore) List(_ context.Context) ([]*domain.PersistentVar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.PersistentVar, 0, len(s.vars))
	for _, v := range s.vars {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

// ---- Triggers ----

type triggerStore struct {
	mu       sync.RWMutex
	triggers map[string]*domain.TriggerSpec
}

func newTriggerStore() *triggerStore {
	return &triggerStore{triggers: make(map[string]*domain.TriggerSpec)}
}

func (s *triggerStore) Save(_ context.Context, t *domain.TriggerSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.triggers[t.ID] = &cp
	return nil
}

func (s *triggerStore) Get(_ context.Context, id string) (*domain.TriggerSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triggers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *triggerStore) List(_ context.Context) ([]*domain.TriggerSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.TriggerSpec, 0, len(s.triggers))
	for _, t := range s.triggers {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *triggerStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggers, id)
	return nil
}

// Package storage defines the persistence ports for the engine's six
// logical stores (Flows, Runs, Events, Queue, PersistentVars,
// Triggers). Concrete backends live in the memory, sqlite and mysql
// sub-packages.
package storage

import (
	"context"
	"time"

	"github.com/dshills/flowforge/internal/domain"
)

// FlowStore persists Flow definitions.
type FlowStore interface {
	Save(ctx context.Context, flow *domain.Flow) error
	Get(ctx context.Context, id string) (*domain.Flow, error)
	List(ctx context.Context) ([]*domain.Flow, error)
	Delete(ctx context.Context, id string) error
}

// RunStore persists Run records. Patch implements the save/patch
// contract: it reads the current record, merges the supplied mutator's
// changes, preserves ID/SchemaVersion, stamps UpdatedAt, and writes
// back within the store's transaction.
type RunStore interface {
	Save(ctx context.Context, run *domain.Run) error
	Get(ctx context.Context, id string) (*domain.Run, error)
	Patch(ctx context.Context, id string, mutate func(*domain.Run) error) (*domain.Run, error)
	List(ctx context.Context, flowID string) ([]*domain.Run, error)
}

// EventRange bounds a ranged Event read.
type EventRange struct {
	FromSeq int64
	Limit   int
}

// EventStore is the append-only, per-run event log. Append assigns
// Seq atomically from the Run record's nextSeq watermark, in the same
// transaction that advances it; see internal/eventbus for the
// orchestration that calls this port.
type EventStore interface {
	Append(ctx context.Context, runID string, build func(seq int64) domain.Event) (domain.Event, error)
	List(ctx context.Context, runID string, r EventRange) ([]domain.Event, error)

	// Outbox: transactional event delivery to external subscribers.
	PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error
}

// OutboxEvent wraps a domain.Event with the delivery-tracking ID used
// by the transactional outbox.
type OutboxEvent struct {
	ID    string
	Event domain.Event
}

// QueueStore is the persistent run queue: enqueue, atomic claim,
// heartbeat, expiry reclamation, orphan recovery and status
// transitions. Claim ordering is priority DESC, createdAt ASC.
type QueueStore interface {
	Enqueue(ctx context.Context, item *domain.QueueItem) error
	ClaimNext(ctx context.Context, ownerID string, leaseTTL time.Duration, now time.Time) (*domain.QueueItem, error)
	Heartbeat(ctx context.Context, ownerID string, leaseTTL time.Duration, now time.Time) (int, error)
	ReclaimExpiredLeases(ctx context.Context, now time.Time) ([]*domain.QueueItem, error)
	RecoverOrphanLeases(ctx context.Context, newOwnerID string, leaseTTL time.Duration, now time.Time) (requeued, adopted []OrphanRecord, err error)
	MarkRunning(ctx context.Context, id string) (*domain.QueueItem, error)
	MarkPaused(ctx context.Context, id string) (*domain.QueueItem, error)
	MarkDone(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.QueueItem, error)
	List(ctx context.Context) ([]*domain.QueueItem, error)
}

// OrphanRecord records a QueueItem affected by orphan lease recovery,
// alongside the previous owner ID for audit.
type OrphanRecord struct {
	Item          *domain.QueueItem
	PreviousOwner string
}

// VarStore persists PersistentVar records with last-writer-wins
// version bumping.
type VarStore interface {
	Get(ctx context.Context, key string) (*domain.PersistentVar, error)
	Set(ctx context.Context, key string, value any) (*domain.PersistentVar, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*domain.PersistentVar, error)
}

// TriggerStore persists TriggerSpec records.
type TriggerStore interface {
	Save(ctx context.Context, t *domain.TriggerSpec) error
	Get(ctx context.Context, id string) (*domain.TriggerSpec, error)
	List(ctx context.Context) ([]*domain.TriggerSpec, error)
	Delete(ctx context.Context, id string) error
}

// Backend bundles the six stores a concrete persistence backend
// provides, so callers can wire a single implementation (memory,
// sqlite, mysql) at startup.
type Backend interface {
	Flows() FlowStore
	Runs() RunStore
	Events() EventStore
	Queue() QueueStore
	Vars() VarStore
	Triggers() TriggerStore
	Close() error
}

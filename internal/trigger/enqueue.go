package trigger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/eventbus"
	"github.com/dshills/flowforge/internal/storage"
)

// EnqueueRequest describes a new Run to create and queue. Shared by
// the Trigger Manager's fire path and the RPC surface's run.start and
// queue.enqueue methods.
type EnqueueRequest struct {
	FlowID      string
	Args        map[string]any
	Trigger     *domain.TriggerContext
	Debug       *domain.DebugConfig
	Priority    int
	MaxAttempts int

	// Kick, if set, is called after the run.queued event is durably
	// appended, nudging the Scheduler to re-check the queue
	// immediately instead of waiting for its next reclamation tick,
	// per spec.md §2's "enqueues a queue item, emits run.queued,
	// wakes the Scheduler".
	Kick func()
}

// EnqueueResult reports the created Run/QueueItem IDs and the item's
// position in queue-arrival order, for callers that want to surface
// "you are Nth in line" feedback.
type EnqueueResult struct {
	RunID    string
	Position int
}

// EnqueueRun creates the Run record (status=queued, nextSeq=0), adds
// the matching QueueItem, and emits run.queued — the single path
// spec.md names for turning a fire or an RPC startRun call into
// queued work. Exported so the RPC surface's startRun method can
// share it with the Trigger Manager's fire path.
func EnqueueRun(ctx context.Context, runs storage.RunStore, queue storage.QueueStore, events *eventbus.Bus, req EnqueueRequest) (EnqueueResult, error) {
	now := time.Now()
	id := uuid.NewString()
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	run := &domain.Run{
		SchemaVersion: domain.SchemaVersion,
		ID:            id,
		FlowID:        req.FlowID,
		Status:        domain.RunQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
		Attempt:       0,
		MaxAttempts:   maxAttempts,
		Args:          req.Args,
		Trigger:       req.Trigger,
		Debug:         req.Debug,
		NextSeq:       0,
		Priority:      req.Priority,
	}
	if err := runs.Save(ctx, run); err != nil {
		return EnqueueResult{}, err
	}

	item := &domain.QueueItem{
		ID:          id,
		FlowID:      req.FlowID,
		Status:      domain.QueueQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
		Priority:    req.Priority,
		MaxAttempts: maxAttempts,
		Args:        req.Args,
		Debug:       req.Debug,
	}
	if req.Trigger != nil {
		item.Trigger = &domain.TriggerContext{
			TriggerID: req.Trigger.TriggerID,
			Kind:      req.Trigger.Kind,
			FiredAt:   req.Trigger.FiredAt,
			TabID:     req.Trigger.TabID,
			PageID:    req.Trigger.PageID,
		}
	}
	if err := queue.Enqueue(ctx, item); err != nil {
		return EnqueueResult{}, err
	}

	if _, err := events.Append(ctx, id, func(seq int64) domain.Event {
		return domain.Event{RunID: id, Seq: seq, Timestamp: now, Type: domain.EventRunQueued}
	}); err != nil {
		return EnqueueResult{}, err
	}

	if req.Kick != nil {
		req.Kick()
	}

	position, _ := queuePosition(ctx, queue, id)
	return EnqueueResult{RunID: id, Position: position}, nil
}

// queuePosition returns id's 1-based rank among queued items in claim
// order (priority DESC, createdAt ASC), or -1 if not found queued.
func queuePosition(ctx context.Context, queue storage.QueueStore, id string) (int, error) {
	items, err := queue.List(ctx)
	if err != nil {
		return -1, err
	}
	queued := make([]*domain.QueueItem, 0, len(items))
	for _, it := range items {
		if it.Status == domain.QueueQueued {
			queued = append(queued, it)
		}
	}
	for i := range queued {
		for j := i + 1; j < len(queued); j++ {
			if queued[j].Less(queued[i]) {
				queued[i], queued[j] = queued[j], queued[i]
			}
		}
	}
	for i, it := range queued {
		if it.ID == id {
			return i + 1, nil
		}
	}
	return -1, nil
}

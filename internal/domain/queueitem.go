package domain

import "time"

// QueueStatus is a QueueItem's position in the run-queue state
// machine; a strict subset of RunStatus (no terminal states — a
// completed run is removed from the queue, not marked terminal).
type QueueStatus string

const (
	QueueQueued  QueueStatus = "queued"
	QueueRunning QueueStatus = "running"
	QueuePaused  QueueStatus = "paused"
)

// Lease grants exclusive ownership of a QueueItem to one runner host
// until ExpiresAt.
type Lease struct {
	OwnerID   string    `json:"ownerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the lease has passed its expiry at now.
func (l *Lease) Expired(now time.Time) bool {
	return l == nil || !l.ExpiresAt.After(now)
}

// QueueItem is the persistent run-queue entry driving claim,
// heartbeat and reclamation. Its ID equals the Run ID it represents.
type QueueItem struct {
	ID          string          `json:"id"`
	FlowID      string          `json:"flowId"`
	Status      QueueStatus     `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Priority    int             `json:"priority"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	Args        map[string]any  `json:"args,omitempty"`
	Trigger     *TriggerContext `json:"trigger,omitempty"`
	Debug       *DebugConfig    `json:"debug,omitempty"`
	Lease       *Lease          `json:"lease,omitempty"`
}

// Less implements the claim ordering: priority DESC, then createdAt
// ASC (FIFO within a priority band).
func (q *QueueItem) Less(other *QueueItem) bool {
	if q.Priority != other.Priority {
		return q.Priority > other.Priority
	}
	return q.CreatedAt.Before(other.CreatedAt)
}

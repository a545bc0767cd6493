// Package mysql is a MySQL/MariaDB Backend implementation for
// production, multi-host deployments, grounded on the teacher's
// graph/store/mysql.go connection-pooling conventions.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/storage"
)

// Backend is a connection-pooled storage.Backend over MySQL/MariaDB.
// Entity bodies are JSON columns alongside the indexed columns the
// queue claim and recovery queries need, the same JSON-blob-plus-index
// trade-off as internal/storage/sqlite.
type Backend struct {
	db *sql.DB
}

// Open connects to dsn (see github.com/go-sql-driver/mysql for the
// DSN format), configures the connection pool, and ensures the schema
// exists.
func Open(dsn string) (*Backend, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	b := &Backend{db: db}
	if err := b.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flows (
			id VARCHAR(191) PRIMARY KEY,
			body JSON NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(191) PRIMARY KEY,
			flow_id VARCHAR(191) NOT NULL,
			status VARCHAR(32) NOT NULL,
			updated_at DATETIME(3) NOT NULL,
			body JSON NOT NULL,
			INDEX idx_runs_flow (flow_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id VARCHAR(191) NOT NULL,
			seq BIGINT NOT NULL,
			body JSON NOT NULL,
			outbox_id VARCHAR(191) NOT NULL,
			emitted TINYINT NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, seq),
			INDEX idx_events_outbox (emitted, outbox_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			id VARCHAR(191) PRIMARY KEY,
			status VARCHAR(16) NOT NULL,
			priority INT NOT NULL,
			created_at DATETIME(3) NOT NULL,
			lease_owner VARCHAR(191),
			lease_expires_at DATETIME(3),
			body JSON NOT NULL,
			INDEX idx_queue_claim (status, priority, created_at)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS persistent_vars (
			` + "`key`" + ` VARCHAR(191) PRIMARY KEY,
			body JSON NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS triggers (
			id VARCHAR(191) PRIMARY KEY,
			body JSON NOT NULL
		) ENGINE=InnoDB`,
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) Flows() storage.FlowStore       { return flowStore{b} }
func (b *Backend) Runs() storage.RunStore         { return runStore{b} }
func (b *Backend) Events() storage.EventStore     { return eventStore{b} }
func (b *Backend) Queue() storage.QueueStore      { return queueStore{b} }
func (b *Backend) Vars() storage.VarStore         { return varStore{b} }
func (b *Backend) Triggers() storage.TriggerStore { return triggerStore{b} }

// ---- Flows ----

type flowStore struct{ b *Backend }

func (s flowStore) Save(ctx context.Context, f *domain.Flow) error {
	if err := f.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = s.b.db.ExecContext(ctx,
		`INSERT INTO flows(id, body) VALUES(?, ?) ON DUPLICATE KEY UPDATE body=VALUES(body)`, f.ID, body)
	return err
}

func (s flowStore) Get(ctx context.Context, id string) (*domain.Flow, error) {
	var body []byte
	err := s.b.db.QueryRowContext(ctx, `SELECT body FROM flows WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var f domain.Flow
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s flowStore) List(ctx context.Context) ([]*domain.Flow, error) {
	rows, err := s.b.db.QueryContext(ctx, `SELECT body FROM flows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Flow
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var f domain.Flow
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s flowStore) Delete(ctx context.Context, id string) error {
	_, err := s.b.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	return err
}

// ---- Runs ----

type runStore struct{ b *Backend }

func (s runStore) Save(ctx context.Context, r *domain.Run) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.b.db.ExecContext(ctx,
		`INSERT INTO runs(id, flow_id, status, updated_at, body) VALUES(?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE flow_id=VALUES(flow_id), status=VALUES(status),
		 updated_at=VALUES(updated_at), body=VALUES(body)`,
		r.ID, r.FlowID, string(r.Status), r.UpdatedAt, body)
	return err
}

func (s runStore) Get(ctx context.Context, id string) (*domain.Run, error) {
	var body []byte
	err := s.b.db.QueryRowContext(ctx, `SELECT body FROM runs WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r domain.Run
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s runStore) Patch(ctx context.Context, id string, mutate func(*domain.Run) error) (*domain.Run, error) {
	tx, err := s.b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var body []byte
	if err := tx.QueryRowContext(ctx, `SELECT body FROM runs WHERE id = ? FOR UPDATE`, id).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var r domain.Run
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	schemaVersion, runID := r.SchemaVersion, r.ID
	if err := mutate(&r); err != nil {
		return nil, err
	}
	r.ID = runID
	r.SchemaVersion = schemaVersion
	r.UpdatedAt = time.Now().UTC()

	newBody, err := json.Marshal(&r)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET flow_id=?, status=?, updated_at=?, body=? WHERE id=?`,
		r.FlowID, string(r.Status), r.UpdatedAt, newBody, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s runStore) List(ctx context.Context, flowID string) ([]*domain.Run, error) {
	var rows *sql.Rows
	var err error
	if flowID == "" {
		rows, err = s.b.db.QueryContext(ctx, `SELECT body FROM runs`)
	} else {
		rows, err = s.b.db.QueryContext(ctx, `SELECT body FROM runs WHERE flow_id = ?`, flowID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Run
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r domain.Run
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ---- Events ----

type eventStore struct{ b *Backend }

func (s eventStore) Append(ctx context.Context, runID string, build func(seq int64) domain.Event) (domain.Event, error) {
	tx, err := s.b.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	var runBody []byte
	if err := tx.QueryRowContext(ctx, `SELECT body FROM runs WHERE id = ? FOR UPDATE`, runID).Scan(&runBody); err != nil {
		if err == sql.ErrNoRows {
			return domain.Event{}, domain.NewError(domain.CodeInternal, "append: run %q not found", runID)
		}
		return domain.Event{}, err
	}
	var run domain.Run
	if err := json.Unmarshal(runBody, &run); err != nil {
		return domain.Event{}, err
	}
	if run.NextSeq < 0 {
		return domain.Event{}, domain.NewError(domain.CodeInvariantViolated, "run %q has negative nextSeq", runID)
	}

	ev := build(run.NextSeq)
	ev.RunID = runID
	ev.Seq = run.NextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	evBody, err := json.Marshal(ev)
	if err != nil {
		return domain.Event{}, err
	}
	outboxID := newOutboxID(runID, ev.Seq)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events(run_id, seq, body, outbox_id, emitted) VALUES(?, ?, ?, ?, 0)`,
		runID, ev.Seq, evBody, outboxID); err != nil {
		return domain.Event{}, err
	}

	run.NextSeq++
	run.UpdatedAt = ev.Timestamp
	newRunBody, err := json.Marshal(&run)
	if err != nil {
		return domain.Event{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET updated_at=?, body=? WHERE id=?`, run.UpdatedAt, newRunBody, runID); err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func newOutboxID(runID string, seq int64) string {
	return fmt.Sprintf("%s:%d", runID, seq)
}

func (s eventStore) List(ctx context.Context, runID string, r storage.EventRange) ([]domain.Event, error) {
	query := `SELECT body FROM events WHERE run_id = ? AND seq >= ? ORDER BY seq ASC`
	args := []any{runID, r.FromSeq}
	if r.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, r.Limit)
	}
	rows, err := s.b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var ev domain.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s eventStore) PendingEvents(ctx context.Context, limit int) ([]storage.OutboxEvent, error) {
	query := `SELECT outbox_id, body FROM events WHERE emitted = 0 ORDER BY run_id, seq`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.OutboxEvent
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var ev domain.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, err
		}
		out = append(out, storage.OutboxEvent{ID: id, Event: ev})
	}
	return out, rows.Err()
}

func (s eventStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	tx, err := s.b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `UPDATE events SET emitted = 1 WHERE outbox_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range eventIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---- Queue ----

type queueStore struct{ b *Backend }

func (s queueStore) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	item.Status = domain.QueueQueued
	item.Lease = nil
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = s.b.db.ExecContext(ctx,
		`INSERT INTO queue_items(id, status, priority, created_at, lease_owner, lease_expires_at, body)
		 VALUES(?, ?, ?, ?, NULL, NULL, ?)`,
		item.ID, string(item.Status), item.Priority, item.CreatedAt, body)
	return err
}

func (s queueStore) ClaimNext(ctx context.Context, ownerID string, leaseTTL time.Duration, now time.Time) (*domain.QueueItem, error) {
	tx, err := s.b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id, body string
	err = tx.QueryRowContext(ctx,
		`SELECT id, body FROM queue_items WHERE status = 'queued'
		 ORDER BY priority DESC, created_at ASC LIMIT 1 FOR UPDATE`).Scan(&id, &body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var item domain.QueueItem
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return nil, err
	}
	item.Status = domain.QueueRunning
	item.Attempt++
	item.Lease = &domain.Lease{OwnerID: ownerID, ExpiresAt: now.Add(leaseTTL)}
	item.UpdatedAt = now
	newBody, err := json.Marshal(&item)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_items SET status=?, lease_owner=?, lease_expires_at=?, body=? WHERE id=?`,
		string(item.Status), item.Lease.OwnerID, item.Lease.ExpiresAt, newBody, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s queueStore) Heartbeat(ctx context.Context, ownerID string, leaseTTL time.Duration, now time.Time) (int, error) {
	rows, err := s.b.db.QueryContext(ctx,
		`SELECT id, body FROM queue_items WHERE status IN ('running','paused') AND lease_owner = ?`, ownerID)
	if err != nil {
		return 0, err
	}
	type rec struct {
		id   string
		item domain.QueueItem
	}
	var recs []rec
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			rows.Close()
			return 0, err
		}
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			rows.Close()
			return 0, err
		}
		recs = append(recs, rec{id, item})
	}
	rows.Close()

	n := 0
	for _, r := range recs {
		r.item.Lease.ExpiresAt = now.Add(leaseTTL)
		r.item.UpdatedAt = now
		body, err := json.Marshal(&r.item)
		if err != nil {
			return n, err
		}
		if _, err := s.b.db.ExecContext(ctx,
			`UPDATE queue_items SET lease_expires_at=?, body=? WHERE id=?`, r.item.Lease.ExpiresAt, body, r.id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s queueStore) ReclaimExpiredLeases(ctx context.Context, now time.Time) ([]*domain.QueueItem, error) {
	rows, err := s.b.db.QueryContext(ctx,
		`SELECT id, status, body FROM queue_items WHERE lease_expires_at IS NOT NULL AND lease_expires_at < ?`, now)
	if err != nil {
		return nil, err
	}
	type rec struct{ id, status, body string }
	var recs []rec
	for rows.Next() {
		var r rec
		if err := rows.Scan(&r.id, &r.status, &r.body); err != nil {
			rows.Close()
			return nil, err
		}
		recs = append(recs, r)
	}
	rows.Close()

	var out []*domain.QueueItem
	for _, r := range recs {
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(r.body), &item); err != nil {
			return nil, err
		}
		if item.Status == domain.QueueRunning || item.Status == domain.QueuePaused {
			item.Status = domain.QueueQueued
			item.Lease = nil
			item.UpdatedAt = now
			body, err := json.Marshal(&item)
			if err != nil {
				return nil, err
			}
			if _, err := s.b.db.ExecContext(ctx,
				`UPDATE queue_items SET status=?, lease_owner=NULL, lease_expires_at=NULL, body=? WHERE id=?`,
				string(item.Status), body, r.id); err != nil {
				return nil, err
			}
			cp := item
			out = append(out, &cp)
		} else {
			item.Lease = nil
			body, err := json.Marshal(&item)
			if err != nil {
				return nil, err
			}
			if _, err := s.b.db.ExecContext(ctx,
				`UPDATE queue_items SET lease_owner=NULL, lease_expires_at=NULL, body=? WHERE id=?`, body, r.id); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (s queueStore) RecoverOrphanLeases(ctx context.Context, newOwnerID string, leaseTTL time.Duration, now time.Time) ([]storage.OrphanRecord, []storage.OrphanRecord, error) {
	rows, err := s.b.db.QueryContext(ctx, `SELECT id, body FROM queue_items WHERE status IN ('running','paused')`)
	if err != nil {
		return nil, nil, err
	}
	type rec struct{ id, body string }
	var recs []rec
	for rows.Next() {
		var r rec
		if err := rows.Scan(&r.id, &r.body); err != nil {
			rows.Close()
			return nil, nil, err
		}
		recs = append(recs, r)
	}
	rows.Close()

	var requeued, adopted []storage.OrphanRecord
	for _, r := range recs {
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(r.body), &item); err != nil {
			return nil, nil, err
		}
		prev := ""
		if item.Lease != nil {
			prev = item.Lease.OwnerID
		}
		if item.Lease != nil && item.Lease.OwnerID == newOwnerID {
			continue
		}
		if item.Status == domain.QueueRunning {
			item.Status = domain.QueueQueued
			item.Lease = nil
			item.UpdatedAt = now
			body, err := json.Marshal(&item)
			if err != nil {
				return nil, nil, err
			}
			if _, err := s.b.db.ExecContext(ctx,
				`UPDATE queue_items SET status=?, lease_owner=NULL, lease_expires_at=NULL, body=? WHERE id=?`,
				string(item.Status), body, r.id); err != nil {
				return nil, nil, err
			}
			cp := item
			requeued = append(requeued, storage.OrphanRecord{Item: &cp, PreviousOwner: prev})
		} else {
			item.Lease = &domain.Lease{OwnerID: newOwnerID, ExpiresAt: now.Add(leaseTTL)}
			item.UpdatedAt = now
			body, err := json.Marshal(&item)
			if err != nil {
				return nil, nil, err
			}
			if _, err := s.b.db.ExecContext(ctx,
				`UPDATE queue_items SET lease_owner=?, lease_expires_at=?, body=? WHERE id=?`,
				newOwnerID, item.Lease.ExpiresAt, body, r.id); err != nil {
				return nil, nil, err
			}
			cp := item
			adopted = append(adopted, storage.OrphanRecord{Item: &cp, PreviousOwner: prev})
		}
	}
	return requeued, adopted, nil
}

func (s queueStore) MarkRunning(ctx context.Context, id string) (*domain.QueueItem, error) {
	return s.transitionStatus(ctx, id, domain.QueueRunning, true)
}

func (s queueStore) MarkPaused(ctx context.Context, id string) (*domain.QueueItem, error) {
	return s.transitionStatus(ctx, id, domain.QueuePaused, false)
}

func (s queueStore) transitionStatus(ctx context.Context, id string, to domain.QueueStatus, bumpAttemptFromQueued bool) (*domain.QueueItem, error) {
	var body string
	if err := s.b.db.QueryRowContext(ctx, `SELECT body FROM queue_items WHERE id = ?`, id).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var item domain.QueueItem
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return nil, err
	}
	if bumpAttemptFromQueued && item.Status == domain.QueueQueued {
		item.Attempt++
	}
	item.Status = to
	item.UpdatedAt = time.Now().UTC()
	newBody, err := json.Marshal(&item)
	if err != nil {
		return nil, err
	}
	if _, err := s.b.db.ExecContext(ctx, `UPDATE queue_items SET status=?, body=? WHERE id=?`, string(to), newBody, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s queueStore) MarkDone(ctx context.Context, id string) error {
	_, err := s.b.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	return err
}

func (s queueStore) Cancel(ctx context.Context, id string) error {
	var status string
	if err := s.b.db.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, id).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		return err
	}
	if status != string(domain.QueueQueued) {
		return domain.NewError(domain.CodeInvariantViolated, "cancel from queue requires status=queued, got %s", status)
	}
	_, err := s.b.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	return err
}

func (s queueStore) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	var body string
	err := s.b.db.QueryRowContext(ctx, `SELECT body FROM queue_items WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var item domain.QueueItem
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s queueStore) List(ctx context.Context) ([]*domain.QueueItem, error) {
	rows, err := s.b.db.QueryContext(ctx, `SELECT body FROM queue_items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.QueueItem
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// ---- PersistentVars ----

type varStore struct{ b *Backend }

func (s varStore) Get(ctx context.Context, key string) (*domain.PersistentVar, error) {
	var body string
	err := s.b.db.QueryRowContext(ctx, "SELECT body FROM persistent_vars WHERE `key` = ?", key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v domain.PersistentVar
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s varStore) Set(ctx context.Context, key string, value any) (*domain.PersistentVar, error) {
	if !domain.IsPersistentName(key) {
		return nil, domain.NewError(domain.CodeValidation, "persistent variable key %q must start with %q", key, domain.PersistentPrefix)
	}
	tx, err := s.b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var version int64
	var body string
	err = tx.QueryRowContext(ctx, "SELECT body FROM persistent_vars WHERE `key` = ? FOR UPDATE", key).Scan(&body)
	switch {
	case err == sql.ErrNoRows:
		version = 0
	case err != nil:
		return nil, err
	default:
		var prev domain.PersistentVar
		if err := json.Unmarshal([]byte(body), &prev); err != nil {
			return nil, err
		}
		version = prev.Version
	}

	v := &domain.PersistentVar{Key: key, Value: value, UpdatedAt: time.Now().UTC(), Version: version + 1}
	newBody, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO persistent_vars(`key`, body) VALUES(?, ?) ON DUPLICATE KEY UPDATE body=VALUES(body)", key, newBody); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return v, nil
}

func (s varStore) Delete(ctx context.Context, key string) error {
	_, err := s.b.db.ExecContext(ctx, "DELETE FROM persistent_vars WHERE `key` = ?", key)
	return err
}

func (s varStore) List(ctx context.Context) ([]*domain.PersistentVar, error) {
	rows, err := s.b.db.QueryContext(ctx, `SELECT body FROM persistent_vars`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.PersistentVar
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var v domain.PersistentVar
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// ---- Triggers ----

type triggerStore struct{ b *Backend }

func (s triggerStore) Save(ctx context.Context, t *domain.TriggerSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.b.db.ExecContext(ctx,
		`INSERT INTO triggers(id, body) VALUES(?, ?) ON DUPLICATE KEY UPDATE body=VALUES(body)`, t.ID, body)
	return err
}

func (s triggerStore) Get(ctx context.Context, id string) (*domain.TriggerSpec, error) {
	var body string
	err := s.b.db.QueryRowContext(ctx, `SELECT body FROM triggers WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t domain.TriggerSpec
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s triggerStore) List(ctx context.Context) ([]*domain.TriggerSpec, error) {
	rows, err := s.b.db.QueryContext(ctx, `SELECT body FROM triggers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.TriggerSpec
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t domain.TriggerSpec
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s triggerStore) Delete(ctx context.Context, id string) error {
	_, err := s.b.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	return err
}

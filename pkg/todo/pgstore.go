package todo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed todo store with in-process push fan-out.
// Every acknowledged mutation re-queries the affected owner's records and
// delivers the full snapshot to that owner's subscribers.
type PgStore struct {
	pool *pgxpool.Pool

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ownerID string
	ch      chan []Todo
	stop    chan struct{}
	onceFn  sync.Once
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		pool: pool,
		subs: make(map[*subscriber]struct{}),
	}
}

// EnsureTable creates the todos table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS todos (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'Undone',
			image_url   TEXT,
			uid         TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_todos_uid ON todos(uid)`)
	return err
}

// Insert writes a new record and returns its store-assigned id.
func (s *PgStore) Insert(ctx context.Context, fields Fields) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO todos (id, title, description, status, image_url, uid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, fields.Title, fields.Description, fields.Status, fields.ImageURL, fields.OwnerID, fields.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert todo: %w", err)
	}
	s.notifyOwner(fields.OwnerID)
	return id, nil
}

// UpdateFields applies a partial update. Supported keys: title, description,
// status, imageUrl. Unknown keys are ignored.
func (s *PgStore) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	ownerID, err := s.ownerOf(ctx, id)
	if err != nil {
		return err
	}

	setClauses := ""
	args := []any{}
	argIdx := 1
	add := func(col string, v any) {
		if setClauses != "" {
			setClauses += ", "
		}
		setClauses += fmt.Sprintf("%s = $%d", col, argIdx)
		args = append(args, v)
		argIdx++
	}
	for k, v := range fields {
		switch k {
		case "title":
			add("title", v)
		case "description":
			add("description", v)
		case "status":
			add("status", v)
		case "imageUrl":
			add("image_url", v)
		}
	}
	if setClauses == "" {
		return nil
	}

	args = append(args, id)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE todos SET %s WHERE id = $%d", setClauses, argIdx), args...)
	if err != nil {
		return fmt.Errorf("update todo %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update todo %s: no such record", id)
	}
	s.notifyOwner(ownerID)
	return nil
}

// Delete removes a record. Deleting an id that does not exist is a no-op
// success, matching the behavior clients already rely on. Any other lookup
// failure propagates: a success here means the record is gone.
func (s *PgStore) Delete(ctx context.Context, id string) error {
	ownerID, err := s.ownerOf(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM todos WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete todo %s: %w", id, err)
	}
	s.notifyOwner(ownerID)
	return nil
}

// Subscribe registers an owner-scoped snapshot subscription. The initial
// snapshot is delivered before any mutation-driven one; snapshots are
// processed one at a time, in order.
func (s *PgStore) Subscribe(ctx context.Context, ownerID string, onSnapshot func([]Todo), onError func(error)) (func(), error) {
	initial, err := s.Snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{
		ownerID: ownerID,
		ch:      make(chan []Todo, 8),
		stop:    make(chan struct{}),
	}
	sub.ch <- initial

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.stop:
				return
			case snap := <-sub.ch:
				// Re-check after dequeue so a snapshot racing with
				// cancel is discarded rather than delivered.
				select {
				case <-sub.stop:
					return
				default:
				}
				if snap == nil {
					onError(fmt.Errorf("todo subscription for %s failed", ownerID))
					return
				}
				onSnapshot(snap)
			}
		}
	}()

	cancel := func() {
		sub.onceFn.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			close(sub.stop)
		})
	}
	return cancel, nil
}

func (s *PgStore) ownerOf(ctx context.Context, id string) (string, error) {
	var ownerID string
	err := s.pool.QueryRow(ctx, `SELECT uid FROM todos WHERE id = $1`, id).Scan(&ownerID)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("todo %s: %w", id, pgx.ErrNoRows)
	}
	if err != nil {
		return "", fmt.Errorf("todo %s: %w", id, err)
	}
	return ownerID, nil
}

// Snapshot returns the owner's records in store order. An owner with no
// records yields an empty non-nil slice.
func (s *PgStore) Snapshot(ctx context.Context, ownerID string) ([]Todo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, status, image_url, uid, created_at
		FROM todos WHERE uid = $1 ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", ownerID, err)
	}
	defer rows.Close()

	todos := []Todo{}
	for rows.Next() {
		var t Todo
		var imageURL *string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &imageURL, &t.OwnerID, &t.CreatedAt); err != nil {
			return nil, err
		}
		if imageURL != nil {
			t.ImageURL = *imageURL
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return todos, nil
}

// notifyOwner fans the owner's current snapshot out to matching subscribers.
// A nil snapshot signals stream failure to the delivery goroutine.
func (s *PgStore) notifyOwner(ownerID string) {
	s.mu.RLock()
	var targets []*subscriber
	for sub := range s.subs {
		if sub.ownerID == ownerID {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	snap, err := s.Snapshot(context.Background(), ownerID)
	if err != nil {
		log.Printf("todo: snapshot for %s: %v", ownerID, err)
		snap = nil
	}
	for _, sub := range targets {
		enqueueSnapshot(sub.ch, snap)
	}
}

// enqueueSnapshot delivers snap to a subscriber channel. When the
// subscriber is behind it drops the oldest queued snapshot and keeps the
// freshest — every message is a complete snapshot — except the nil failure
// marker, which must still reach the delivery goroutine.
func enqueueSnapshot(ch chan []Todo, snap []Todo) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case old := <-ch:
		if old == nil {
			snap = nil
		}
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

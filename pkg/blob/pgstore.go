package blob

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore keeps blobs in a Postgres bytea table. Durable URLs point at the
// API server's /blobs/ handler, which reads the same table.
type PgStore struct {
	pool    *pgxpool.Pool
	baseURL string // e.g. "http://localhost:8080"
}

// NewPgStore creates a PgStore. baseURL is the public address blobs are
// served from, without a trailing slash.
func NewPgStore(pool *pgxpool.Pool, baseURL string) *PgStore {
	return &PgStore{pool: pool, baseURL: baseURL}
}

// EnsureTable creates the blobs table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS blobs (
			path       TEXT PRIMARY KEY,
			data       BYTEA NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`)
	return err
}

// Put writes a blob, replacing any existing one at the same path.
func (s *PgStore) Put(ctx context.Context, path string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blobs (path, data) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data`, path, data)
	if err != nil {
		return fmt.Errorf("put blob %s: %w", path, err)
	}
	return nil
}

// DurableURL returns the serving URL for a stored blob.
func (s *PgStore) DurableURL(ctx context.Context, path string) (string, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT TRUE FROM blobs WHERE path = $1`, path).Scan(&exists)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("blob %s: not found", path)
	}
	if err != nil {
		return "", fmt.Errorf("blob %s: %w", path, err)
	}
	return s.baseURL + "/blobs/" + path, nil
}

// Get reads a blob's bytes, for the serving handler.
func (s *PgStore) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE path = $1`, path).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("blob %s: not found", path)
	}
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", path, err)
	}
	return data, nil
}

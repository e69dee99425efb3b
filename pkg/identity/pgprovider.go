package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// PgProvider is a Provider backed by a Postgres users table. Accounts are
// shared through the database; the signed-in identity and its watchers are
// per process, like a device-local auth session.
type PgProvider struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	current  *Identity
	watchers map[*watcher]struct{}

	// dispatchMu serializes change delivery so watchers observe
	// transitions one at a time, in order.
	dispatchMu sync.Mutex
}

type watcher struct {
	cb     func(*Identity)
	closed bool
}

// NewPgProvider creates a PgProvider.
func NewPgProvider(pool *pgxpool.Pool) *PgProvider {
	return &PgProvider{
		pool:     pool,
		watchers: make(map[*watcher]struct{}),
	}
}

// EnsureTable creates the users table if it doesn't exist.
func (p *PgProvider) EnsureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ DEFAULT NOW()
		)`)
	return err
}

// Watch implements Provider. The current identity is delivered before Watch
// returns.
func (p *PgProvider) Watch(cb func(*Identity)) func() {
	w := &watcher{cb: cb}

	p.mu.Lock()
	p.watchers[w] = struct{}{}
	current := p.current
	p.mu.Unlock()

	p.dispatchMu.Lock()
	if !w.closed {
		cb(current)
	}
	p.dispatchMu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.watchers, w)
		p.mu.Unlock()
		// Block until any in-flight delivery finishes so no call
		// lands after cancel returns.
		p.dispatchMu.Lock()
		w.closed = true
		p.dispatchMu.Unlock()
	}
}

// SignIn implements Provider.
func (p *PgProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var id, hash string
	err := p.pool.QueryRow(ctx, `SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	if err == pgx.ErrNoRows {
		return nil, &AuthError{Message: "no account for " + email}
	}
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, &AuthError{Message: "wrong password"}
	}

	ident := &Identity{ID: id, Email: email}
	p.setCurrent(ident)
	return ident, nil
}

// SignUp implements Provider. The new account is signed in on success.
func (p *PgProvider) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, &AuthError{Message: "email and password are required"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	_, err = p.pool.Exec(ctx, `INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)`, id, email, string(hash))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &AuthError{Message: "an account already exists for " + email}
		}
		return nil, fmt.Errorf("sign up: %w", err)
	}

	ident := &Identity{ID: id, Email: email}
	p.setCurrent(ident)
	return ident, nil
}

// SignOut implements Provider.
func (p *PgProvider) SignOut(ctx context.Context) error {
	p.setCurrent(nil)
	return nil
}

func (p *PgProvider) setCurrent(ident *Identity) {
	p.mu.Lock()
	p.current = ident
	targets := make([]*watcher, 0, len(p.watchers))
	for w := range p.watchers {
		targets = append(targets, w)
	}
	p.mu.Unlock()

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	for _, w := range targets {
		if !w.closed {
			w.cb(ident)
		}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

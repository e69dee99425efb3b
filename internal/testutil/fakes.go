// Package testutil provides in-memory fakes for the external collaborators:
// the identity provider, the todo document store, and the blob store. Each
// fake exposes per-method error injection fields and call counters so tests
// can drive failure paths and assert on traffic.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"taskmaster/pkg/identity"
	"taskmaster/pkg/todo"
)

// FakeProvider is an identity.Provider whose state is driven by tests via
// Emit. It starts unresolved: watchers hear nothing until the first Emit,
// mirroring the async first notification of a real auth backend.
type FakeProvider struct {
	mu       sync.Mutex
	resolved bool
	current  *identity.Identity
	watchers map[int]func(*identity.Identity)
	nextID   int

	accounts map[string]string // email -> password

	SignInErr  error
	SignUpErr  error
	SignOutErr error
}

// NewFakeProvider creates an unresolved FakeProvider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		watchers: make(map[int]func(*identity.Identity)),
		accounts: make(map[string]string),
	}
}

// AddAccount registers an email/password pair for SignIn.
func (p *FakeProvider) AddAccount(email, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[email] = password
}

// Emit resolves the provider (first call) and pushes an identity change to
// every watcher, synchronously and in registration-independent order.
func (p *FakeProvider) Emit(ident *identity.Identity) {
	p.mu.Lock()
	p.resolved = true
	p.current = ident
	cbs := make([]func(*identity.Identity), 0, len(p.watchers))
	for _, cb := range p.watchers {
		cbs = append(cbs, cb)
	}
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(ident)
	}
}

// Watch implements identity.Provider.
func (p *FakeProvider) Watch(cb func(*identity.Identity)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = cb
	resolved, current := p.resolved, p.current
	p.mu.Unlock()

	if resolved {
		cb(current)
	}
	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

// SignIn implements identity.Provider.
func (p *FakeProvider) SignIn(ctx context.Context, email, password string) (*identity.Identity, error) {
	if p.SignInErr != nil {
		return nil, p.SignInErr
	}
	p.mu.Lock()
	stored, ok := p.accounts[email]
	p.mu.Unlock()
	if !ok || stored != password {
		return nil, &identity.AuthError{Message: "invalid credentials"}
	}
	ident := &identity.Identity{ID: "uid-" + email, Email: email}
	p.Emit(ident)
	return ident, nil
}

// SignUp implements identity.Provider.
func (p *FakeProvider) SignUp(ctx context.Context, email, password string) (*identity.Identity, error) {
	if p.SignUpErr != nil {
		return nil, p.SignUpErr
	}
	p.mu.Lock()
	if _, ok := p.accounts[email]; ok {
		p.mu.Unlock()
		return nil, &identity.AuthError{Message: "an account already exists for " + email}
	}
	p.accounts[email] = password
	p.mu.Unlock()
	ident := &identity.Identity{ID: "uid-" + email, Email: email}
	p.Emit(ident)
	return ident, nil
}

// SignOut implements identity.Provider.
func (p *FakeProvider) SignOut(ctx context.Context) error {
	if p.SignOutErr != nil {
		return p.SignOutErr
	}
	p.Emit(nil)
	return nil
}

// FakeStore is an in-memory todo.Store. Snapshots are delivered
// synchronously from the mutating call, preserving insertion order.
type FakeStore struct {
	mu      sync.Mutex
	records []todo.Todo
	nextID  int
	subs    map[int]*fakeSub
	nextSub int

	// IgnoreCancel keeps delivering snapshots after a subscription's
	// cancel, simulating an event already in flight at close time.
	IgnoreCancel bool

	// Silent suppresses the snapshot push after mutations; tests then
	// drive delivery explicitly with Emit, making the gap between a
	// mutation's ack and its snapshot observable.
	Silent bool

	InsertErr    error
	UpdateErr    error
	DeleteErr    error
	SubscribeErr error

	InsertCalls int
	UpdateCalls int
	DeleteCalls int
}

type fakeSub struct {
	ownerID    string
	onSnapshot func([]todo.Todo)
	onError    func(error)
	cancelled  bool
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{subs: make(map[int]*fakeSub)}
}

// Seed inserts a record directly, without notifying subscribers.
func (s *FakeStore) Seed(t todo.Todo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		s.nextID++
		t.ID = fmt.Sprintf("todo-%d", s.nextID)
	}
	s.records = append(s.records, t)
}

// Records returns a copy of all stored records in store order.
func (s *FakeStore) Records() []todo.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]todo.Todo, len(s.records))
	copy(out, s.records)
	return out
}

// Insert implements todo.Store.
func (s *FakeStore) Insert(ctx context.Context, fields todo.Fields) (string, error) {
	s.mu.Lock()
	s.InsertCalls++
	if s.InsertErr != nil {
		err := s.InsertErr
		s.mu.Unlock()
		return "", err
	}
	s.nextID++
	t := todo.Todo{
		ID:          fmt.Sprintf("todo-%d", s.nextID),
		Title:       fields.Title,
		Description: fields.Description,
		Status:      fields.Status,
		OwnerID:     fields.OwnerID,
		CreatedAt:   fields.CreatedAt,
	}
	if fields.ImageURL != nil {
		t.ImageURL = *fields.ImageURL
	}
	s.records = append(s.records, t)
	id, owner := t.ID, t.OwnerID
	s.mu.Unlock()

	s.maybeEmit(owner)
	return id, nil
}

// UpdateFields implements todo.Store.
func (s *FakeStore) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	s.UpdateCalls++
	if s.UpdateErr != nil {
		err := s.UpdateErr
		s.mu.Unlock()
		return err
	}
	var owner string
	found := false
	for i := range s.records {
		if s.records[i].ID != id {
			continue
		}
		found = true
		owner = s.records[i].OwnerID
		if v, ok := fields["title"].(string); ok {
			s.records[i].Title = v
		}
		if v, ok := fields["description"].(string); ok {
			s.records[i].Description = v
		}
		if v, ok := fields["status"].(string); ok {
			s.records[i].Status = v
		}
		if v, ok := fields["imageUrl"].(string); ok {
			s.records[i].ImageURL = v
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("update todo %s: no such record", id)
	}
	s.maybeEmit(owner)
	return nil
}

// Delete implements todo.Store. Deleting an unknown id is a no-op success,
// the same contract the Postgres store pins down.
func (s *FakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.DeleteCalls++
	if s.DeleteErr != nil {
		err := s.DeleteErr
		s.mu.Unlock()
		return err
	}
	var owner string
	found := false
	for i := range s.records {
		if s.records[i].ID == id {
			owner = s.records[i].OwnerID
			s.records = append(s.records[:i], s.records[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.maybeEmit(owner)
	}
	return nil
}

// Subscribe implements todo.Store. The initial snapshot is delivered before
// Subscribe returns.
func (s *FakeStore) Subscribe(ctx context.Context, ownerID string, onSnapshot func([]todo.Todo), onError func(error)) (func(), error) {
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	sub := &fakeSub{ownerID: ownerID, onSnapshot: onSnapshot, onError: onError}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	onSnapshot(s.snapshotFor(ownerID))

	return func() {
		s.mu.Lock()
		sub.cancelled = true
		s.mu.Unlock()
	}, nil
}

// Emit pushes the owner's current snapshot to matching subscriptions.
// Cancelled subscriptions are skipped unless IgnoreCancel is set, which
// models an event already in flight when the subscription closed.
func (s *FakeStore) Emit(ownerID string) {
	snap := s.snapshotFor(ownerID)

	s.mu.Lock()
	var targets []*fakeSub
	for _, sub := range s.subs {
		if sub.ownerID != ownerID {
			continue
		}
		if sub.cancelled && !s.IgnoreCancel {
			continue
		}
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.onSnapshot(snap)
	}
}

// FailSubscriptions reports err on every live subscription and tears all of
// them down, as a transport failure would.
func (s *FakeStore) FailSubscriptions(err error) {
	s.mu.Lock()
	var targets []*fakeSub
	for id, sub := range s.subs {
		if !sub.cancelled {
			targets = append(targets, sub)
		}
		delete(s.subs, id)
	}
	s.mu.Unlock()
	for _, sub := range targets {
		sub.onError(err)
	}
}

func (s *FakeStore) maybeEmit(ownerID string) {
	if s.Silent {
		return
	}
	s.Emit(ownerID)
}

// Snapshot returns the owner's records in store order, like the Postgres
// store's direct read.
func (s *FakeStore) Snapshot(ctx context.Context, ownerID string) ([]todo.Todo, error) {
	return s.snapshotFor(ownerID), nil
}

func (s *FakeStore) snapshotFor(ownerID string) []todo.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := []todo.Todo{}
	for _, t := range s.records {
		if t.OwnerID == ownerID {
			snap = append(snap, t)
		}
	}
	return snap
}

// FakeBlobs is an in-memory blob.Store.
type FakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte

	PutErr error
	URLErr error
}

// NewFakeBlobs creates an empty FakeBlobs.
func NewFakeBlobs() *FakeBlobs {
	return &FakeBlobs{blobs: make(map[string][]byte)}
}

// Put implements blob.Store.
func (b *FakeBlobs) Put(ctx context.Context, path string, data []byte) error {
	if b.PutErr != nil {
		return b.PutErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[path] = data
	return nil
}

// DurableURL implements blob.Store.
func (b *FakeBlobs) DurableURL(ctx context.Context, path string) (string, error) {
	if b.URLErr != nil {
		return "", b.URLErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[path]; !ok {
		return "", fmt.Errorf("blob %s: not found", path)
	}
	return "https://blobs.example/" + path, nil
}

// Get reads stored bytes, like the Postgres store's serving read.
func (b *FakeBlobs) Get(ctx context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %s: not found", path)
	}
	return data, nil
}

// Data returns the stored bytes for path, if any.
func (b *FakeBlobs) Data(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[path]
	return data, ok
}

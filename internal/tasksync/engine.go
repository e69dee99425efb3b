// Package tasksync keeps an in-memory task list continuously consistent
// with the remote todo store. One owner-scoped push subscription feeds the
// list; create/toggle/delete mutate the store directly and the list only
// changes when the next snapshot arrives — the engine never patches it
// optimistically.
package tasksync

import (
	"context"
	"errors"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"taskmaster/pkg/blob"
	"taskmaster/pkg/identity"
	"taskmaster/pkg/todo"
)

// Config selects the attachment path.
type Config struct {
	// UploadEnabled routes image attachments through the blob store.
	// When false the engine stores the device-local URI verbatim, a
	// known degraded mode: such references are not durable and may not
	// resolve outside the originating device.
	UploadEnabled bool
}

// Engine is the task sync core for one client. Start/Stop follow the
// session controller's transitions; at most one subscription is open at a
// time and the previous one is closed before the next opens.
type Engine struct {
	store    todo.Store
	blobs    blob.Store
	cfg      Config
	onUpdate func([]todo.Todo)

	mu      sync.Mutex
	ident   *identity.Identity
	cancel  func()
	gen     int // bumped on every Start/Stop; guards late snapshots and stale writes
	list    []todo.Todo
	loading bool
}

// New creates an Engine. blobs may be nil when uploads are disabled.
// onUpdate receives every published list, already safe to retain.
func New(store todo.Store, blobs blob.Store, cfg Config, onUpdate func([]todo.Todo)) *Engine {
	return &Engine{
		store:    store,
		blobs:    blobs,
		cfg:      cfg,
		onUpdate: onUpdate,
		list:     []todo.Todo{},
	}
}

// Start opens the subscription for ident, closing any previous one first.
func (e *Engine) Start(ctx context.Context, ident *identity.Identity) {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.gen++
	gen := e.gen
	e.ident = ident
	e.list = []todo.Todo{}
	e.loading = true
	e.mu.Unlock()

	if ident == nil {
		e.Stop()
		return
	}

	cancel, err := e.store.Subscribe(ctx, ident.ID,
		func(snap []todo.Todo) { e.applySnapshot(gen, snap) },
		func(err error) { e.failSubscription(gen, err) },
	)
	if err != nil {
		e.failSubscription(gen, err)
		return
	}

	e.mu.Lock()
	if gen != e.gen {
		// Stopped while opening; close the fresh handle right away.
		e.mu.Unlock()
		cancel()
		return
	}
	e.cancel = cancel
	e.mu.Unlock()
}

// Stop closes the subscription and clears the list. Snapshots already in
// flight are discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.gen++
	e.ident = nil
	e.list = []todo.Todo{}
	e.loading = false
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) applySnapshot(gen int, snap []todo.Todo) {
	e.mu.Lock()
	if gen != e.gen {
		// Late event from a closed subscription.
		e.mu.Unlock()
		return
	}
	if snap == nil {
		snap = []todo.Todo{}
	}
	e.list = snap
	e.loading = false
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) failSubscription(gen int, err error) {
	log.Printf("tasksync: %v", &SubscriptionError{Err: err})
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.list = []todo.Todo{}
	e.loading = false
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) publish() {
	if e.onUpdate != nil {
		e.onUpdate(e.List())
	}
}

// List returns the most recent snapshot. Never nil.
func (e *Engine) List() []todo.Todo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]todo.Todo, len(e.list))
	copy(out, e.list)
	return out
}

// Loading reports whether the first snapshot since Start is still pending.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Create writes a new task. The record lands in the list via the next
// snapshot, not through this call. An empty title is rejected before any
// store call. imageURI, when set, is resolved to an attachment reference
// first: uploaded to the blob store, or stored verbatim in degraded mode.
func (e *Engine) Create(ctx context.Context, title, description, imageURI string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}

	gen, ident := e.generation()
	if ident == nil {
		return &StorageWriteError{Op: "create", Err: errors.New("not signed in")}
	}

	var imageRef *string
	if imageURI != "" {
		ref, err := e.resolveImage(ctx, ident, imageURI)
		if e.stale(gen) {
			log.Printf("tasksync: identity changed during create, result discarded")
			return nil
		}
		if err != nil {
			return err
		}
		imageRef = &ref
	}

	_, err := e.store.Insert(ctx, todo.Fields{
		Title:       title,
		Description: description,
		Status:      todo.StatusUndone,
		ImageURL:    imageRef,
		OwnerID:     ident.ID,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if e.stale(gen) {
		log.Printf("tasksync: identity changed during create, result discarded")
		return nil
	}
	if err != nil {
		return &StorageWriteError{Op: "create", Err: err}
	}
	return nil
}

// ToggleStatus writes the opposite of currentStatus, and only the status
// field. Ownership is enforced by the store, not checked here.
func (e *Engine) ToggleStatus(ctx context.Context, id, currentStatus string) error {
	next := todo.StatusDone
	if currentStatus == todo.StatusDone {
		next = todo.StatusUndone
	}

	gen, _ := e.generation()
	err := e.store.UpdateFields(ctx, id, map[string]any{"status": next})
	if e.stale(gen) {
		log.Printf("tasksync: identity changed during toggle, result discarded")
		return nil
	}
	if err != nil {
		return &StorageWriteError{Op: "toggle", Err: err}
	}
	return nil
}

// Delete hard-deletes a task. Confirmation is the caller's concern.
func (e *Engine) Delete(ctx context.Context, id string) error {
	gen, _ := e.generation()
	err := e.store.Delete(ctx, id)
	if e.stale(gen) {
		log.Printf("tasksync: identity changed during delete, result discarded")
		return nil
	}
	if err != nil {
		return &StorageWriteError{Op: "delete", Err: err}
	}
	return nil
}

func (e *Engine) resolveImage(ctx context.Context, ident *identity.Identity, uri string) (string, error) {
	if !e.cfg.UploadEnabled || e.blobs == nil {
		log.Printf("tasksync: uploads disabled, storing device-local uri verbatim (not durable): %s", uri)
		return uri, nil
	}

	local := localPath(uri)
	data, err := os.ReadFile(local)
	if err != nil {
		return "", &StorageWriteError{Op: "upload", Err: err}
	}
	path := blob.Path(ident.ID, filenameOf(local))
	if err := e.blobs.Put(ctx, path, data); err != nil {
		return "", &StorageWriteError{Op: "upload", Err: err}
	}
	url, err := e.blobs.DurableURL(ctx, path)
	if err != nil {
		return "", &StorageWriteError{Op: "upload", Err: err}
	}
	return url, nil
}

func (e *Engine) generation() (int, *identity.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen, e.ident
}

func (e *Engine) stale(gen int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen != e.gen
}

func filenameOf(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// localPath turns a device file URI into a filesystem path, decoding
// percent-escapes the picker may have applied.
func localPath(uri string) string {
	p := strings.TrimPrefix(uri, "file://")
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	return p
}

package tasksync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskmaster/internal/testutil"
	"taskmaster/pkg/identity"
	"taskmaster/pkg/todo"
)

var (
	u1 = &identity.Identity{ID: "u1", Email: "one@example.com"}
	u2 = &identity.Identity{ID: "u2", Email: "two@example.com"}
)

// recorder collects every published list.
type recorder struct {
	updates [][]todo.Todo
}

func (r *recorder) record(list []todo.Todo) {
	r.updates = append(r.updates, list)
}

func newEngine(store todo.Store, cfg Config) (*Engine, *recorder) {
	rec := &recorder{}
	return New(store, nil, cfg, rec.record), rec
}

func TestListNeverNil(t *testing.T) {
	e, _ := newEngine(testutil.NewFakeStore(), Config{})
	if e.List() == nil {
		t.Fatalf("expected empty non-nil list before start")
	}
	e.Stop()
	if e.List() == nil {
		t.Fatalf("expected empty non-nil list after stop")
	}
}

func TestStartDeliversOwnerScopedSnapshot(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Seed(todo.Todo{Title: "mine", OwnerID: "u1", Status: todo.StatusUndone})
	store.Seed(todo.Todo{Title: "theirs", OwnerID: "u2", Status: todo.StatusUndone})
	store.Seed(todo.Todo{Title: "also mine", OwnerID: "u1", Status: todo.StatusDone})

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	list := e.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks for u1, got %d", len(list))
	}
	for _, item := range list {
		if item.OwnerID != "u1" {
			t.Fatalf("task %q has owner %q, want u1", item.Title, item.OwnerID)
		}
	}
	// Store order, not resorted.
	if list[0].Title != "mine" || list[1].Title != "also mine" {
		t.Fatalf("expected store order [mine, also mine], got [%s, %s]", list[0].Title, list[1].Title)
	}
	if e.Loading() {
		t.Fatalf("expected loading cleared after first snapshot")
	}
}

func TestCreateAppearsInNextSnapshot(t *testing.T) {
	store := testutil.NewFakeStore()
	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	if err := e.Create(context.Background(), "Buy milk", "2 liters", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	records := store.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record in store, got %d", len(records))
	}
	rec := records[0]
	if rec.Title != "Buy milk" || rec.Description != "2 liters" {
		t.Fatalf("unexpected record fields: %+v", rec)
	}
	if rec.Status != todo.StatusUndone {
		t.Fatalf("expected new record status Undone, got %q", rec.Status)
	}
	if rec.OwnerID != "u1" {
		t.Fatalf("expected owner u1, got %q", rec.OwnerID)
	}
	if rec.ImageURL != "" {
		t.Fatalf("expected no image ref, got %q", rec.ImageURL)
	}
	if _, err := time.Parse(time.RFC3339, rec.CreatedAt); err != nil {
		t.Fatalf("createdAt %q is not ISO-8601: %v", rec.CreatedAt, err)
	}

	list := e.List()
	if len(list) != 1 || list[0].Title != "Buy milk" || list[0].Status != todo.StatusUndone {
		t.Fatalf("expected snapshot [Buy milk/Undone], got %+v", list)
	}
}

func TestCreateEmptyTitleNeverReachesStore(t *testing.T) {
	store := testutil.NewFakeStore()
	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	err := e.Create(context.Background(), "   ", "details", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if store.InsertCalls != 0 {
		t.Fatalf("expected zero store calls for invalid input, got %d", store.InsertCalls)
	}
}

func TestCreateWritesThenWaitsForPush(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Silent = true

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	if err := e.Create(context.Background(), "Buy milk", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(e.List()) != 0 {
		t.Fatalf("list must not be patched optimistically; got %d entries before snapshot", len(e.List()))
	}

	store.Emit("u1")
	if list := e.List(); len(list) != 1 || list[0].Title != "Buy milk" {
		t.Fatalf("expected snapshot to deliver the new task, got %+v", list)
	}
}

func TestCreateFailureSurfacesStorageWriteError(t *testing.T) {
	store := testutil.NewFakeStore()
	store.InsertErr = errors.New("permission denied")

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	err := e.Create(context.Background(), "Buy milk", "", "")
	var serr *StorageWriteError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageWriteError, got %v", err)
	}
	if len(store.Records()) != 0 {
		t.Fatalf("expected no partial write")
	}
}

func TestToggleTwiceRestoresStatus(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Seed(todo.Todo{ID: "t1", Title: "a", OwnerID: "u1", Status: todo.StatusUndone})

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	if err := e.ToggleStatus(context.Background(), "t1", todo.StatusUndone); err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if got := store.Records()[0].Status; got != todo.StatusDone {
		t.Fatalf("after first toggle expected Done, got %q", got)
	}

	if err := e.ToggleStatus(context.Background(), "t1", todo.StatusDone); err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if got := store.Records()[0].Status; got != todo.StatusUndone {
		t.Fatalf("after second toggle expected Undone, got %q", got)
	}
}

func TestToggleMissingRecordFails(t *testing.T) {
	store := testutil.NewFakeStore()
	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	err := e.ToggleStatus(context.Background(), "nope", todo.StatusUndone)
	var serr *StorageWriteError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageWriteError for missing record, got %v", err)
	}
}

func TestDeleteRemovesFromSnapshot(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Seed(todo.Todo{ID: "t1", Title: "a", OwnerID: "u1", Status: todo.StatusUndone})
	store.Seed(todo.Todo{ID: "t2", Title: "b", OwnerID: "u1", Status: todo.StatusUndone})

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	if err := e.Delete(context.Background(), "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, item := range e.List() {
		if item.ID == "t1" {
			t.Fatalf("deleted task t1 still present in snapshot")
		}
	}
	if len(e.List()) != 1 {
		t.Fatalf("expected 1 remaining task, got %d", len(e.List()))
	}
}

// Deleting an id that does not exist is store-defined; the contract pinned
// here (and in the Postgres store) is a no-op success.
func TestDeleteMissingIDIsNoOpSuccess(t *testing.T) {
	store := testutil.NewFakeStore()
	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	if err := e.Delete(context.Background(), "never-existed"); err != nil {
		t.Fatalf("expected no-op success deleting a missing id, got %v", err)
	}
	if store.DeleteCalls != 1 {
		t.Fatalf("expected the delete to reach the store")
	}
}

func TestStopDiscardsLateSnapshot(t *testing.T) {
	store := testutil.NewFakeStore()
	store.IgnoreCancel = true
	store.Seed(todo.Todo{ID: "t1", Title: "a", OwnerID: "u1", Status: todo.StatusUndone})

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)
	if len(e.List()) != 1 {
		t.Fatalf("expected initial snapshot before stop")
	}

	e.Stop()
	store.Emit("u1") // in flight at close time

	if len(e.List()) != 0 {
		t.Fatalf("late snapshot after close must not mutate the list")
	}
}

func TestRestartReplacesSubscription(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Seed(todo.Todo{Title: "mine", OwnerID: "u1", Status: todo.StatusUndone})
	store.Seed(todo.Todo{Title: "theirs", OwnerID: "u2", Status: todo.StatusUndone})

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)
	e.Start(context.Background(), u2)

	list := e.List()
	if len(list) != 1 || list[0].OwnerID != "u2" {
		t.Fatalf("expected only u2 tasks after re-auth, got %+v", list)
	}

	// Old subscription is closed: u1 churn must not leak in.
	store.Seed(todo.Todo{Title: "more mine", OwnerID: "u1", Status: todo.StatusUndone})
	store.Emit("u1")
	if got := e.List(); len(got) != 1 || got[0].OwnerID != "u2" {
		t.Fatalf("u1 snapshot leaked into u2 session: %+v", got)
	}
}

func TestSubscriptionErrorDegradesToEmptyList(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Seed(todo.Todo{ID: "t1", Title: "a", OwnerID: "u1", Status: todo.StatusUndone})

	e, rec := newEngine(store, Config{})
	e.Start(context.Background(), u1)
	if len(e.List()) != 1 {
		t.Fatalf("expected initial snapshot")
	}

	store.FailSubscriptions(errors.New("transport failed"))

	if len(e.List()) != 0 {
		t.Fatalf("expected cleared list after subscription error")
	}
	if e.Loading() {
		t.Fatalf("expected loading cleared, not a spinner, after subscription error")
	}

	// No retry: further store churn delivers nothing.
	before := len(rec.updates)
	store.Emit("u1")
	if len(rec.updates) != before {
		t.Fatalf("expected no further updates after subscription error")
	}
}

func TestSubscribeOpenFailureDegrades(t *testing.T) {
	store := testutil.NewFakeStore()
	store.SubscribeErr = errors.New("permission denied")

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	if len(e.List()) != 0 {
		t.Fatalf("expected empty list when subscription cannot open")
	}
	if e.Loading() {
		t.Fatalf("expected loading cleared when subscription cannot open")
	}
}

func TestCreateFallbackStoresDeviceURIVerbatim(t *testing.T) {
	store := testutil.NewFakeStore()
	e, _ := newEngine(store, Config{UploadEnabled: false})
	e.Start(context.Background(), u1)

	if err := e.Create(context.Background(), "With photo", "", "file:///tmp/a.jpg"); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := store.Records()[0]
	if rec.ImageURL != "file:///tmp/a.jpg" {
		t.Fatalf("fallback mode must store the local uri verbatim, got %q", rec.ImageURL)
	}
}

func TestCreateUploadsImageWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(file, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := testutil.NewFakeStore()
	blobs := testutil.NewFakeBlobs()
	rec := &recorder{}
	e := New(store, blobs, Config{UploadEnabled: true}, rec.record)
	e.Start(context.Background(), u1)

	if err := e.Create(context.Background(), "With photo", "", "file://"+file); err != nil {
		t.Fatalf("create: %v", err)
	}

	wantPath := "todo_images/u1/photo.jpg"
	data, ok := blobs.Data(wantPath)
	if !ok {
		t.Fatalf("expected blob at %s", wantPath)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("blob content mismatch: %q", data)
	}
	if got := store.Records()[0].ImageURL; got != "https://blobs.example/"+wantPath {
		t.Fatalf("expected durable url, got %q", got)
	}
}

func TestCreateUploadsPercentEncodedURI(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "my photo.jpg")
	if err := os.WriteFile(file, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := testutil.NewFakeStore()
	blobs := testutil.NewFakeBlobs()
	rec := &recorder{}
	e := New(store, blobs, Config{UploadEnabled: true}, rec.record)
	e.Start(context.Background(), u1)

	// Device pickers hand back escaped URIs.
	uri := "file://" + dir + "/my%20photo.jpg"
	if err := e.Create(context.Background(), "With photo", "", uri); err != nil {
		t.Fatalf("create: %v", err)
	}

	data, ok := blobs.Data("todo_images/u1/my photo.jpg")
	if !ok {
		t.Fatalf("expected blob stored under the decoded filename")
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("blob content mismatch: %q", data)
	}
}

func TestCreateUploadFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(file, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := testutil.NewFakeStore()
	blobs := testutil.NewFakeBlobs()
	blobs.PutErr = errors.New("storage unavailable")
	rec := &recorder{}
	e := New(store, blobs, Config{UploadEnabled: true}, rec.record)
	e.Start(context.Background(), u1)

	err := e.Create(context.Background(), "With photo", "", "file://"+file)
	var serr *StorageWriteError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageWriteError from failed upload, got %v", err)
	}
	if store.InsertCalls != 0 {
		t.Fatalf("expected no record write after failed upload")
	}
}

// gateStore blocks Insert until released, so a test can change the engine's
// identity while a create is in flight.
type gateStore struct {
	*testutil.FakeStore
	entered chan struct{}
	release chan struct{}
}

func (s *gateStore) Insert(ctx context.Context, fields todo.Fields) (string, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.FakeStore.Insert(ctx, fields)
}

func TestStaleIdentityDiscardsMutationResult(t *testing.T) {
	inner := testutil.NewFakeStore()
	inner.InsertErr = errors.New("rejected")
	store := &gateStore{
		FakeStore: inner,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}

	e, _ := newEngine(store, Config{})
	e.Start(context.Background(), u1)

	done := make(chan error, 1)
	go func() {
		done <- e.Create(context.Background(), "Buy milk", "", "")
	}()

	<-store.entered
	e.Start(context.Background(), u2) // identity changes mid-flight
	close(store.release)

	// The insert failed, but the failure belongs to a stale identity and
	// must be swallowed, not surfaced to the new session.
	if err := <-done; err != nil {
		t.Fatalf("expected stale mutation result to be discarded, got %v", err)
	}
}

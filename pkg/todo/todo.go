package todo

import "context"

// Task statuses. The store persists these strings verbatim.
const (
	StatusUndone = "Undone"
	StatusDone   = "Done"
)

// Todo is a single task record as seen by the client.
type Todo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`    // Undone or Done
	ImageURL    string `json:"imageUrl"`  // durable blob URL, or a device-local URI in fallback mode
	OwnerID     string `json:"uid"`       // identity that created the record
	CreatedAt   string `json:"createdAt"` // ISO-8601
}

// Fields is the wire shape of a record body. The record id is store-assigned
// and never appears as a field.
type Fields struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	ImageURL    *string `json:"imageUrl"`
	OwnerID     string  `json:"uid"`
	CreatedAt   string  `json:"createdAt"`
}

// Store is the contract for the remote document collection ("todos").
//
// Subscribe opens a push subscription scoped to ownerID. Every change to the
// owner's records delivers a fresh, complete snapshot to onSnapshot — the
// consumer replaces its view wholesale, it never merges. Snapshots preserve
// store order; an owner with no records yields an empty non-nil slice.
// onError reports a failed stream; after it fires no further snapshots arrive.
// The returned cancel is idempotent and stops delivery immediately.
type Store interface {
	Insert(ctx context.Context, fields Fields) (string, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context, ownerID string, onSnapshot func([]Todo), onError func(error)) (func(), error)
}

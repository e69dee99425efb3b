package tasksync

import "fmt"

// ValidationError rejects bad user input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageWriteError is a create/update/delete rejected by the store or lost
// to a network failure. Nothing was partially written.
type StorageWriteError struct {
	Op  string // "create", "toggle", "delete", "upload"
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write (%s): %v", e.Op, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// SubscriptionError is a failed snapshot stream. The engine degrades to an
// empty list and stays down until the next authenticated transition.
type SubscriptionError struct {
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription: %v", e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Package identity defines the authentication boundary: who the current
// principal is and how sign-in state changes are pushed to the client.
package identity

import "context"

// Identity is a logged-in principal. A nil *Identity means "no user".
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Provider is the contract for the external auth service.
//
// Watch registers cb for identity changes. Until the provider has resolved
// its initial state, cb hears nothing; once resolved, the current identity
// (possibly nil) is delivered on registration, then again after every
// successful SignIn, SignUp, and SignOut, in order, one call at a time.
// The returned cancel stops delivery; no call is made after it returns.
//
// Operation errors surface on the operation itself, never through Watch.
type Provider interface {
	Watch(cb func(*Identity)) func()
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignUp(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context) error
}

// AuthError is a sign-in/sign-up rejection from the provider. The message
// is shown to the user verbatim.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

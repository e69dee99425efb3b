// Package session tracks the current authentication identity and derives
// the navigation phase from it: until the identity provider reports for the
// first time the app shows a loading gate, afterwards either the signed-in
// or the signed-out screen group.
package session

import (
	"sync"

	"taskmaster/pkg/identity"
)

// State is the controller's phase.
type State int

const (
	// StateUnresolved means the provider has not reported yet. No screen
	// that reads the identity may mount in this state.
	StateUnresolved State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unresolved"
	}
}

// Controller owns the identity watch. It leaves StateUnresolved exactly once
// and then moves between StateAuthenticated and StateUnauthenticated on every
// login/logout, invoking onChange for each transition in delivery order.
type Controller struct {
	mu      sync.Mutex
	state   State
	current *identity.Identity

	onChange func(State, *identity.Identity)
	cancel   func()
}

// New creates a Controller and starts watching the provider. onChange fires
// for every identity change, including the initial resolution; it runs on
// the provider's delivery goroutine, one call at a time.
func New(provider identity.Provider, onChange func(State, *identity.Identity)) *Controller {
	c := &Controller{
		state:    StateUnresolved,
		onChange: onChange,
	}
	c.cancel = provider.Watch(c.apply)
	return c
}

func (c *Controller) apply(ident *identity.Identity) {
	c.mu.Lock()
	c.current = ident
	if ident != nil {
		c.state = StateAuthenticated
	} else {
		c.state = StateUnauthenticated
	}
	state := c.state
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(state, ident)
	}
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resolved reports whether the provider has delivered at least once.
func (c *Controller) Resolved() bool {
	return c.State() != StateUnresolved
}

// Identity returns the current identity, or nil when signed out or
// unresolved.
func (c *Controller) Identity() *identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Release stops the identity watch. No transition is delivered after it
// returns. Safe to call more than once.
func (c *Controller) Release() {
	if c.cancel != nil {
		c.cancel()
	}
}

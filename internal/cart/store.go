package cart

import (
	"slices"
	"sync"
)

// Store keeps one cart per session id.
type Store struct {
	mu    sync.Mutex
	carts map[string]State
}

// NewStore constructs an empty session cart store.
func NewStore() *Store {
	return &Store{carts: make(map[string]State)}
}

// Snapshot returns the current cart for sessionID.
func (s *Store) Snapshot(sessionID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.load(sessionID)
	state.Items = slices.Clone(state.Items)
	return state
}

// Apply runs fn against the session cart under the store lock and keeps the result.
func (s *Store) Apply(sessionID string, fn func(State) State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := fn(s.load(sessionID))
	s.carts[sessionID] = next
	return next
}

// Settle removes the lines paid for in snapshot from the session cart and returns
// what is left.
func (s *Store) Settle(sessionID string, snapshot State) State {
	return s.Apply(sessionID, func(current State) State {
		return Subtract(current, snapshot)
	})
}

// Drop forgets the session cart.
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
}

func (s *Store) load(sessionID string) State {
	state, ok := s.carts[sessionID]
	if !ok {
		return State{Items: []Item{}}
	}
	return state
}

package session

import (
	"context"
	"sync"
)

// MemoryStore is the default in-process session store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Get fetches the state for a domain.
func (s *MemoryStore) Get(_ context.Context, domain string) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[domain]
	return state, ok, nil
}

// Put stores the state for its domain.
func (s *MemoryStore) Put(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Domain] = state
	return nil
}

// Delete removes the state for a domain.
func (s *MemoryStore) Delete(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, domain)
	return nil
}

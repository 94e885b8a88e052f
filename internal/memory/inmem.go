package memory

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps entries in process memory. Scope recency follows
// last write; Prune drops the oldest scopes beyond the bound.
type InMemoryStore struct {
	mu        sync.RWMutex
	maxScopes int
	scopes    map[string]*scopeEntry
	clock     int64
}

type scopeEntry struct {
	values   map[string]string
	lastUsed int64
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a store retaining at most maxScopes scopes.
// Bounds below one fall back to DefaultMaxScopes.
func NewInMemoryStore(maxScopes int) *InMemoryStore {
	if maxScopes < 1 {
		maxScopes = DefaultMaxScopes
	}
	return &InMemoryStore{
		maxScopes: maxScopes,
		scopes:    make(map[string]*scopeEntry),
	}
}

// Store creates or overwrites the entry at (scope, key).
func (s *InMemoryStore) Store(_ context.Context, scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.scopes[scope]
	if !ok {
		entry = &scopeEntry{values: make(map[string]string)}
		s.scopes[scope] = entry
	}
	entry.values[key] = value
	s.clock++
	entry.lastUsed = s.clock
	return nil
}

// Retrieve returns the stored value, or fallback when absent.
func (s *InMemoryStore) Retrieve(_ context.Context, scope, key, fallback string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.scopes[scope]
	if !ok {
		return fallback, nil
	}
	value, ok := entry.values[key]
	if !ok {
		return fallback, nil
	}
	return value, nil
}

// Prune removes the least recently written scopes beyond the bound and
// returns how many scopes were dropped.
func (s *InMemoryStore) Prune(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.scopes) <= s.maxScopes {
		return 0, nil
	}

	type aged struct {
		name     string
		lastUsed int64
	}
	all := make([]aged, 0, len(s.scopes))
	for name, entry := range s.scopes {
		all = append(all, aged{name: name, lastUsed: entry.lastUsed})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].lastUsed != all[j].lastUsed {
			return all[i].lastUsed > all[j].lastUsed
		}
		return all[i].name < all[j].name
	})

	removed := 0
	for _, victim := range all[s.maxScopes:] {
		delete(s.scopes, victim.name)
		removed++
	}
	return removed, nil
}

// Close is a no-op for the in-memory backend.
func (s *InMemoryStore) Close() error { return nil }

// Len reports the current scope count, for tests and the doctor
// command.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scopes)
}

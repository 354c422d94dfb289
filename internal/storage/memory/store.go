// Package memory provides an in-memory cache store. It backs dry runs
// (cache.backend: memory), which gather mentions without touching the real cache.
package memory

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
)

// Store keeps the serialized cache in memory.
type Store struct {
	mu     sync.RWMutex
	data   []byte
	stored bool
	writes int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// NewStoreWith creates a store pre-populated with data.
func NewStoreWith(data []byte) *Store {
	return &Store{data: append([]byte(nil), data...), stored: true}
}

// Location returns a pseudo URI.
func (s *Store) Location() string {
	return "memory://webmentions"
}

// Get returns a copy of the stored bytes.
func (s *Store) Get(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.stored {
		return nil, fmt.Errorf("memory store is empty: %w", fs.ErrNotExist)
	}
	return append([]byte(nil), s.data...), nil
}

// Put replaces the stored bytes.
func (s *Store) Put(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.stored = true
	s.writes++
	return nil
}

// Writes returns how many times Put has been called.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

package eventlog

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert stores a copy of entry under a new id.
func (s *MemoryStore) Insert(ctx context.Context, entry *Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := *entry
	stored.ID = uuid.NewString()
	stored.Metadata = maps.Clone(entry.Metadata)

	s.mu.Lock()
	s.entries = append(s.entries, stored)
	s.mu.Unlock()

	return stored.ID, nil
}

// Entries returns a snapshot of all stored entries in insertion order.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Package inmemory provides a map-backed acl.Store for tests and single-node
// development setups without a MongoDB instance.
package inmemory

import (
	"context"
	"sync"

	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/permission"
)

// MemoryStore implements acl.Store on process-local maps.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]acl.Entry
	parents map[string]string
}

var _ acl.Store = (*MemoryStore)(nil)

// New builds an empty store.
func New() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]acl.Entry),
		parents: make(map[string]string),
	}
}

// Entries implements acl.Store.
func (s *MemoryStore) Entries(_ context.Context, key string) ([]acl.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.entries[key]
	copied := make([]acl.Entry, len(entries))
	copy(copied, entries)
	return copied, ok, nil
}

// SaveEntries implements acl.Store.
func (s *MemoryStore) SaveEntries(_ context.Context, key string, entries []acl.Entry) error {
	copied := make([]acl.Entry, len(entries))
	copy(copied, entries)
	s.mu.Lock()
	s.entries[key] = copied
	s.mu.Unlock()
	return nil
}

// DeleteEntry implements acl.Store.
func (s *MemoryStore) DeleteEntry(_ context.Context, key string, grantee acl.Sid, p permission.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[key][:0]
	for _, entry := range s.entries[key] {
		if entry.Grantee != grantee || entry.Permission != p {
			kept = append(kept, entry)
		}
	}
	s.entries[key] = kept
	return nil
}

// SetParent implements acl.Store.
func (s *MemoryStore) SetParent(_ context.Context, key, parentKey string) error {
	s.mu.Lock()
	s.parents[key] = parentKey
	s.mu.Unlock()
	return nil
}

// Parent implements acl.Store.
func (s *MemoryStore) Parent(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.parents[key]
	return parent, ok, nil
}

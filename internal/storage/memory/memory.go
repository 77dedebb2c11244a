// Package memory implements storage.Repository with in-process maps.
//
// It is the reference implementation of the document-store semantics and
// the test double the duplicate/change engines are verified against. It is
// also handy for local runs without a database (kind "memory").
package memory

import (
	"context"
	"fmt"
	"sync"

	"ingest/internal/storage"
)

type Store struct {
	mu       sync.Mutex
	docs     map[string][]byte
	versions []storage.Snapshot
}

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewStore(), nil
	})
}

// NewStore returns an empty in-memory repository.
func NewStore() *Store {
	return &Store{docs: map[string][]byte{}}
}

func (s *Store) Close() {}

func (s *Store) Lookup(ctx context.Context, identity string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, ok := s.docs[identity]
	if !ok {
		return nil, false, nil
	}
	// Detach so callers cannot mutate stored state.
	return append([]byte(nil), body...), true, nil
}

func (s *Store) Insert(ctx context.Context, identity string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[identity]; exists {
		return fmt.Errorf("memory: insert: identity %q already exists", identity)
	}
	s.docs[identity] = append([]byte(nil), body...)
	return nil
}

func (s *Store) Replace(ctx context.Context, identity string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[identity]; !exists {
		return fmt.Errorf("memory: replace: identity %q not found", identity)
	}
	s.docs[identity] = append([]byte(nil), body...)
	return nil
}

func (s *Store) SaveSchemaVersion(ctx context.Context, snap storage.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions = append(s.versions, snap)
	return int64(len(s.versions)), nil
}

// Len reports the number of stored record bodies.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// Versions returns the stored snapshots in allocation order.
func (s *Store) Versions() []storage.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Snapshot(nil), s.versions...)
}

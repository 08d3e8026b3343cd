package workflow

import (
	"context"
	"sync"
)

// SessionStore persists session snapshots so an open wizard survives an
// API restart. Snapshots are only written between transitions, never
// while a gateway call is in flight.
type SessionStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a process-local SessionStore for tests and single-node
// development.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

var _ SessionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *snap
	s.snaps[snap.ID] = &copied
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *snap
	return &copied, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
	return nil
}

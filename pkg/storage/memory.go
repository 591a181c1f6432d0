package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps snapshots in process memory. It is safe for concurrent use
// and mostly useful for tests and for runs that do not need weights to survive
// a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
	}
}

// Put stores a deep copy of snapshot, replacing any previous one with the same name.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if err := ValidateName(snapshot.Name); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	snapshot.Weights = snapshot.Weights.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.Name] = snapshot
	return nil
}

// GetLatest returns a copy of the snapshot stored under name.
func (s *MemoryStore) GetLatest(ctx context.Context, name string) (Snapshot, bool, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, found := s.snapshots[name]
	if found {
		snapshot.Weights = snapshot.Weights.Clone()
	}
	return snapshot, found, nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes the snapshot stored under name and reports whether it existed.
func (s *MemoryStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.snapshots[name]
	delete(s.snapshots, name)
	return existed
}

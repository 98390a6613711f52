package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the snapshot in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	snap  Snapshot
	saves int
}

// NewMemoryStore seeds a store with an optional snapshot.
func NewMemoryStore(seed Snapshot) *MemoryStore {
	if seed == nil {
		seed = Snapshot{}
	}
	return &MemoryStore{snap: seed.Clone()}
}

// Load returns a copy of the current snapshot.
func (m *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

// Save replaces the snapshot.
func (m *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.Clone()
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var _ AlertStateStore = (*MemoryStore)(nil)

package store

import "sync"

// Persistence is the durable backend behind the store. Load returns nil when
// nothing has been persisted yet. Save replaces the previous snapshot whole.
type Persistence interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// MemoryPersistence keeps the snapshot in process memory. It is the test
// backend and the runtime fallback when the durable backend fails to open.
type MemoryPersistence struct {
	mu   sync.Mutex
	snap *Snapshot
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (m *MemoryPersistence) Load() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *MemoryPersistence) Save(snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	return nil
}

package backup

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend keeps serialized backups in process memory. It is the
// default backend and the reference implementation for tests. Values are
// stored serialized so Load always returns an independent copy, the same as
// a durable backend would.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

// Load retrieves the backups for a path.
func (m *MemoryBackend) Load(ctx context.Context, path string) (*Backups, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	raw, ok := m.data[path]
	if !ok {
		return nil, ErrNotFound
	}

	var bs Backups
	if err := json.Unmarshal(raw, &bs); err != nil {
		return nil, NewQueryError("failed to unmarshal backups", err)
	}
	return &bs, nil
}

// Save persists the backups for a path.
func (m *MemoryBackend) Save(ctx context.Context, path string, backups *Backups) error {
	raw, err := json.Marshal(backups)
	if err != nil {
		return NewQueryError("failed to marshal backups", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.data[path] = raw
	return nil
}

// Paths lists every tracked notebook path.
func (m *MemoryBackend) Paths(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	paths := make([]string, 0, len(m.data))
	for path := range m.data {
		paths = append(paths, path)
	}
	return paths, nil
}

// DeleteAll wipes the store.
func (m *MemoryBackend) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.data = make(map[string][]byte)
	return nil
}

// Close marks the backend closed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

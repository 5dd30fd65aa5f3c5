package blob

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for tests and
// single-process development runs.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	meta   map[string]Metadata
	closed bool
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		meta:  make(map[string]Metadata),
	}
}

// Put stores a copy of the payload.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[key] = buf
	m.meta[key] = meta
	return nil
}

// Get returns a copy of the stored payload.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Delete removes the payload. Missing keys are ignored.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.blobs, key)
	delete(m.meta, key)
	return nil
}

// GetMetadata returns the metadata stored with a blob. Test helper.
func (m *MemoryStore) GetMetadata(key string) (Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.meta[key]
	return meta, ok
}

// Len returns the number of stored blobs. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// HealthCheck always succeeds on an open store.
func (m *MemoryStore) HealthCheck(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)

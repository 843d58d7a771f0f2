package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend implements Backend using in-memory storage.
// All data is lost when the process exits.
//
// MemoryBackend is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryBackend struct {
	// records maps the structured key to a private copy of the record.
	records map[string]*UsageRecord

	mu     sync.RWMutex
	closed bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]*UsageRecord),
	}
}

// GetRecord returns a copy of the stored record.
func (m *MemoryBackend) GetRecord(ctx context.Context, key Key) (*UsageRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	rec, ok := m.records[key.String()]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// PutRecord stores a copy of record.
func (m *MemoryBackend) PutRecord(ctx context.Context, record *UsageRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.records[record.Key().String()] = record.Clone()
	return nil
}

// List returns copies of all records ordered by key.
func (m *MemoryBackend) List(ctx context.Context) ([]*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*UsageRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.records[k].Clone())
	}
	return out, nil
}

// Ping reports ErrClosed after Close.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the backend closed; later calls return ErrClosed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Size returns the number of stored records.
// This is useful for monitoring and testing.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

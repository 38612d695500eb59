package provider

import (
	"context"
	"fmt"
	"sync"
)

// MemoryProvider is the standalone/test backend. It records committed state
// and counts writes so idempotence can be asserted.
type MemoryProvider struct {
	mu      sync.RWMutex
	records map[string]Record
	writes  int
}

// NewMemoryProvider creates an empty in-memory backend.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{records: make(map[string]Record)}
}

func key(zone, name, rtype string) string {
	return fmt.Sprintf("%s/%s/%s", zone, name, rtype)
}

func (m *MemoryProvider) Get(ctx context.Context, zone, name, rtype string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key(zone, name, rtype)]
	if !ok {
		return nil, nil
	}
	out := rec
	out.Values = append([]string(nil), rec.Values...)
	return &out, nil
}

func (m *MemoryProvider) Upsert(ctx context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(record.Zone, record.Name, record.Type)
	if existing, ok := m.records[k]; ok && existing.Equal(&record) {
		return nil
	}
	stored := record
	stored.Values = append([]string(nil), record.Values...)
	m.records[k] = stored
	m.writes++
	return nil
}

func (m *MemoryProvider) Delete(ctx context.Context, zone, name, rtype string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(zone, name, rtype)
	if _, ok := m.records[k]; !ok {
		return nil
	}
	delete(m.records, k)
	m.writes++
	return nil
}

// Writes returns the number of state-changing operations applied.
func (m *MemoryProvider) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Len returns the number of record sets currently published.
func (m *MemoryProvider) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

package cache

import (
	"context"
	"sort"
	"sync"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (m *MemoryRepository) Save(_ context.Context, rec Record) error {
	rec.Steps = append([]CachedStep(nil), rec.Steps...)
	m.mu.Lock()
	m.records[rec.Key] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) Find(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryRepository) FindByActionID(ctx context.Context, actionID string) ([]Record, error) {
	all, _ := m.List(ctx)
	out := all[:0]
	for _, rec := range all {
		if rec.ActionID == actionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryRepository) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) Clear(_ context.Context) error {
	m.mu.Lock()
	m.records = make(map[string]Record)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) Close() error { return nil }

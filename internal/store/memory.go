package store

import (
	"context"
	"sort"
	"sync"

	"statusfeed/internal/domain"
)

// Memory is a volatile Store with the same merge semantics as the durable
// one. It backs unit tests and can serve as an ephemeral view.
type Memory struct {
	mu      sync.Mutex
	records map[domain.RecordKey]domain.Record
	cursors map[string]int64
}

func NewMemory() *Memory {
	return &Memory{records: map[domain.RecordKey]domain.Record{}, cursors: map[string]int64{}}
}

func (m *Memory) Upsert(_ context.Context, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var existing *domain.Record
	if cur, ok := m.records[rec.Key]; ok {
		existing = &cur
	}
	m.records[rec.Key] = Merge(existing, rec)
	return nil
}

func (m *Memory) Delete(_ context.Context, key domain.RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *Memory) Get(_ context.Context, key domain.RecordKey) (domain.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *Memory) List(_ context.Context, limit int) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndexedAt.After(out[j].IndexedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Cursor(_ context.Context, source string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.cursors[source]
	return pos, ok, nil
}

func (m *Memory) SetCursor(_ context.Context, source string, position int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[source] = position
	return nil
}

func (m *Memory) Close() error { return nil }

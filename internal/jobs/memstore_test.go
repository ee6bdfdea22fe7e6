package jobs

import (
	"context"
	"sync"
)

// memStore はテスト用のメモリ上の Store です。
type memStore struct {
	mu       sync.Mutex
	records  map[string]Record
	settings Settings
	history  map[string][]Record
}

func newMemStore() *memStore {
	return &memStore{
		records:  map[string]Record{},
		settings: DefaultSettings(),
		history:  map[string][]Record{},
	}
}

func (m *memStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.TaskID] = *r
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) Update(_ context.Context, id string, mutate func(*Record)) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(&r)
	m.records[id] = r
	m.history[id] = append(m.history[id], r)
	return &r, nil
}

func (m *memStore) List(context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, &r)
	}
	return out, nil
}

func (m *memStore) GetSettings(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *memStore) SaveSettings(_ context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) record(id string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func (m *memStore) writes(id string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.history[id]...)
}

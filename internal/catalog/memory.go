package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps metadata for the lifetime of the process. It is
// used when no database is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]Recording
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]Recording)}
}

func (m *MemoryRepository) Save(ctx context.Context, r Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.items[r.SessionID]; ok && r.PublishedAt == nil {
		r.PublishedAt = prev.PublishedAt
	}
	m.items[r.SessionID] = r
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, sessionID string) (*Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) List(ctx context.Context) ([]Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Recording, 0, len(m.items))
	for _, r := range m.items {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryRepository) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.items, sessionID)
	return nil
}

func (m *MemoryRepository) MarkPublished(ctx context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[sessionID]
	if !ok {
		return ErrNotFound
	}
	r.PublishedAt = &at
	m.items[sessionID] = r
	return nil
}

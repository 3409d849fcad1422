package otp

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry   Entry
	evictAt time.Time
}

// MemoryStore keeps entries in process memory. It serves a single instance
// and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MemoryStore) Put(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	m.items[key] = memoryItem{entry: entry, evictAt: now.Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if !m.now().Before(item.evictAt) {
		delete(m.items, key)
		return Entry{}, ErrNotFound
	}
	return item.entry, nil
}

func (m *MemoryStore) Swap(_ context.Context, key string, prev, next Entry, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	item, ok := m.items[key]
	if !ok || !now.Before(item.evictAt) || !item.entry.equal(prev) {
		return false, nil
	}
	m.items[key] = memoryItem{entry: next, evictAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return false, nil
	}
	delete(m.items, key)
	return m.now().Before(item.evictAt), nil
}

func (m *MemoryStore) sweep(now time.Time) {
	for key, item := range m.items {
		if !now.Before(item.evictAt) {
			delete(m.items, key)
		}
	}
}

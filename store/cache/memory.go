package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key      string
	value    []byte
	members  map[string]struct{}
	expireAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryBackend is an in-process LRU cache with per-entry TTL. It backs the
// cache service when no Redis address is configured, and doubles as the test
// backend.
type MemoryBackend struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element

	now func() time.Time
}

var _ Backend = (*MemoryBackend)(nil)

const defaultMemoryCapacity = 4096

func NewMemoryBackend(capacity int) *MemoryBackend {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryBackend{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key)
	if !ok || entry.value == nil {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.upsert(key, ttl)
	entry.value = value
	entry.members = nil
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if element, ok := m.items[key]; ok {
			m.removeElement(element)
		}
	}
	return nil
}

func (m *MemoryBackend) AddToSet(_ context.Context, key string, ttl time.Duration, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.upsert(key, ttl)
	if entry.members == nil {
		entry.members = make(map[string]struct{}, len(members))
		entry.value = nil
	}
	for _, member := range members {
		entry.members[member] = struct{}{}
	}
	return nil
}

func (m *MemoryBackend) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key)
	if !ok || entry.members == nil {
		return nil, nil
	}
	members := make([]string, 0, len(entry.members))
	for member := range entry.members {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryBackend) HealthCheck(context.Context) error { return nil }

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ll.Init()
	m.items = make(map[string]*list.Element)
	return nil
}

// Len reports live (non-expired) entries.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for _, element := range m.items {
		if !element.Value.(*memoryEntry).expired(now) {
			count++
		}
	}
	return count
}

// lookup returns a live entry and promotes it, dropping it if expired.
// Caller holds the lock.
func (m *MemoryBackend) lookup(key string) (*memoryEntry, bool) {
	element, ok := m.items[key]
	if !ok {
		return nil, false
	}
	entry := element.Value.(*memoryEntry)
	if entry.expired(m.now()) {
		m.removeElement(element)
		return nil, false
	}
	m.ll.MoveToFront(element)
	return entry, true
}

func (m *MemoryBackend) upsert(key string, ttl time.Duration) *memoryEntry {
	expireAt := time.Time{}
	if ttl > 0 {
		expireAt = m.now().Add(ttl)
	}

	if entry, ok := m.lookup(key); ok {
		entry.expireAt = expireAt
		return entry
	}

	entry := &memoryEntry{key: key, expireAt: expireAt}
	m.items[key] = m.ll.PushFront(entry)
	for m.ll.Len() > m.capacity {
		m.removeElement(m.ll.Back())
	}
	return entry
}

func (m *MemoryBackend) removeElement(element *list.Element) {
	m.ll.Remove(element)
	delete(m.items, element.Value.(*memoryEntry).key)
}

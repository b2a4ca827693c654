// Package cache 提供 b1 等次级令牌的限时缓存。
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry 缓存条目，只整体替换，不原地修改
type Entry struct {
	Key      string    `json:"key"`
	Token    string    `json:"token"`
	StoredAt time.Time `json:"storedAt"`
}

// Store 条目存储后端
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, e Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryStore 进程内存储，后写覆盖
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

// Set 内存后端不依赖 ttl，过期由 TokenCache 判断
func (m *MemoryStore) Set(_ context.Context, e Entry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Sizer 能直接统计条目数的存储
type Sizer interface {
	Len() int
}

// Len 当前条目数
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error { return nil }

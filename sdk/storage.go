package sdk

import "sync"

// Storage persists session identity across navigations within the same
// embedding scope. The default in-memory implementation matches the
// page/tab-session semantics of the browser SDK: identity survives for
// the lifetime of the instance, not across restarts.
type Storage interface {
	Get(key string) string
	Set(key, value string)
}

// MemoryStorage is the default Storage. Safe for concurrent use.
type MemoryStorage struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

func (s *MemoryStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

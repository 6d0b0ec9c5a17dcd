package clientstore

import (
	"context"
	"fmt"
	"sync"
)

type memoryStore struct {
	items map[string][]byte
	mutex sync.RWMutex
}

// NewMemory builds an in-memory store. State does not survive restarts, so
// it is only suitable for tests and ephemeral sessions.
func NewMemory() Store {
	return &memoryStore{
		items: make(map[string][]byte),
	}
}

func (s *memoryStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("record key required")
	}
	copied := make([]byte, len(value))
	copy(copied, value)

	s.mutex.Lock()
	s.items[key] = copied
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mutex.RLock()
	value, ok := s.items[key]
	s.mutex.RUnlock()
	if !ok {
		return nil, false, nil
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, true, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	delete(s.items, key)
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Keys(_ context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

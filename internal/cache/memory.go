package cache

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps every store in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*MemoryStore
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{stores: make(map[string]*MemoryStore)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[name]
	if !ok {
		st = &MemoryStore{name: name, entries: make(map[string]Object)}
		s.stores[name] = st
	}
	return st, nil
}

func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStorage) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	delete(s.stores, name)
	s.mu.Unlock()
	return nil
}

type MemoryStore struct {
	name    string
	mu      sync.RWMutex
	entries map[string]Object
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Match(_ context.Context, key string) (Object, error) {
	s.mu.RLock()
	obj, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Object{}, ErrNotFound
	}
	return copyObject(obj), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, obj Object) error {
	s.mu.Lock()
	s.entries[key] = copyObject(obj)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// copyObject detaches the snapshot from caller-owned slices and maps.
func copyObject(obj Object) Object {
	obj.Header = obj.Header.Clone()
	obj.Body = bytes.Clone(obj.Body)
	return obj
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Store   = (*MemoryStore)(nil)
)

package blob

import (
	"context"
	"sync"
)

// MemoryStore keeps objects in process memory. Used in tests and single-binary dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *MemoryStore) Put(_ context.Context, p string, data []byte, contentType string) error {
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = cp
	s.types[key] = contentType
	return nil
}

func (s *MemoryStore) Get(_ context.Context, p string) ([]byte, error) {
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

// Delete removes an object; tests use it to simulate a missing blob.
func (s *MemoryStore) Delete(p string) {
	key, _ := cleanKey(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.types, key)
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

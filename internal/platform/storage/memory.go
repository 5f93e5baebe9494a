package storage

import (
	"bytes"
	"context"
	"sync"
)

type memorySlot struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory builds a slot that lives only as long as the process.
func NewMemory() Slot {
	return &memorySlot{items: make(map[string][]byte)}
}

func (s *memorySlot) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (s *memorySlot) Save(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.items[key] = bytes.Clone(value)
	s.mu.Unlock()
	return nil
}

func (s *memorySlot) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *memorySlot) Close(context.Context) error {
	return nil
}

package store

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	items       map[string]time.Time
	mutex       sync.RWMutex
	now         func() time.Time
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory denylist. A positive GC interval starts a
// background cleanup loop.
func NewMemory(cfg Config) Store {
	s := &memoryStore{
		items: make(map[string]time.Time),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if cfg.Memory != nil {
		if cfg.Memory.Clock != nil {
			s.now = cfg.Memory.Clock
		}
		if cfg.Memory.GCInterval > 0 {
			s.cleanupFreq = cfg.Memory.GCInterval
			go s.gcLoop()
		}
	}
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Revoke(_ context.Context, id string, ttl time.Duration) error {
	deadline := s.now().Add(clampTTL(ttl))
	s.mutex.Lock()
	if prev, ok := s.items[id]; !ok || deadline.After(prev) {
		s.items[id] = deadline
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Claim(_ context.Context, id string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if deadline, ok := s.items[id]; ok && now.Before(deadline) {
		return false, nil
	}
	s.items[id] = now.Add(clampTTL(ttl))
	return true, nil
}

func (s *memoryStore) Revoked(_ context.Context, id string) (bool, error) {
	s.mutex.RLock()
	deadline, ok := s.items[id]
	s.mutex.RUnlock()
	return ok && s.now().Before(deadline), nil
}

func (s *memoryStore) CleanupExpired(context.Context) error {
	now := s.now()
	s.mutex.Lock()
	for id, deadline := range s.items {
		if !now.Before(deadline) {
			delete(s.items, id)
		}
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Len(context.Context) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.items), nil
}

func (s *memoryStore) Close(context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

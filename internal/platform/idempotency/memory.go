package idempotency

import (
	"context"
	"sync"
	"time"
)

// memoryStore is a development-only in-memory idempotency store.
// Not for production: state is lost on restart and
// does not work across multiple instances.
type memoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func newMemoryStore(ttl time.Duration) *memoryStore {
	return &memoryStore{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (s *memoryStore) Check(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if at, ok := s.seen[eventID]; ok && (s.ttl <= 0 || now.Sub(at) < s.ttl) {
		return true, nil
	}
	s.seen[eventID] = now
	return false, nil
}

func (s *memoryStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
	return nil
}

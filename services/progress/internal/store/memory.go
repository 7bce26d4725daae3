package store

import (
	"context"
	"sync"

	"github.com/example/lecture-platform/internal/watched"
)

// InMemory is a development-only Repository.
type InMemory struct {
	mu     sync.Mutex
	states map[Key]watched.State
	locks  map[Key]*sync.Mutex
}

func NewInMemory() *InMemory {
	return &InMemory{
		states: make(map[Key]watched.State),
		locks:  make(map[Key]*sync.Mutex),
	}
}

func (s *InMemory) Get(_ context.Context, key Key) (watched.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		return watched.Empty(key.UserID, key.VideoID), false, nil
	}
	return st.Clone(), true, nil
}

func (s *InMemory) Update(ctx context.Context, key Key, fn UpdateFunc) (watched.State, error) {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return watched.State{}, err
	}
	cur, found, _ := s.Get(ctx, key)
	next, err := fn(cur, found)
	if err != nil {
		return watched.State{}, err
	}
	next.UserID, next.VideoID = key.UserID, key.VideoID

	s.mu.Lock()
	s.states[key] = next.Clone()
	s.mu.Unlock()
	return next, nil
}

// keyLock hands out one mutex per key; different keys never contend.
func (s *InMemory) keyLock(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

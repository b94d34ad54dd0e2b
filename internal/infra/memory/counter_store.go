package memory

import (
	"context"
	"sync"

	"ex-remover/internal/domain/ports/repository"
)

// Compile-time check
var _ repository.CounterStore = (*CounterStore)(nil)

// CounterStore keeps counters in process memory. Used by dev mode and tests.
type CounterStore struct {
	mu   sync.Mutex
	vals map[string]int64
}

func NewCounterStore() *CounterStore {
	return &CounterStore{vals: make(map[string]int64)}
}

func (s *CounterStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	return v, ok, nil
}

func (s *CounterStore) Set(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	s.vals[key] = value
	s.mu.Unlock()
	return nil
}

func (s *CounterStore) SetMany(_ context.Context, values map[string]int64) error {
	s.mu.Lock()
	for k, v := range values {
		s.vals[k] = v
	}
	s.mu.Unlock()
	return nil
}

func (s *CounterStore) Incr(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] += delta
	return s.vals[key], nil
}

func (s *CounterStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.vals, key)
	s.mu.Unlock()
	return nil
}

func (s *CounterStore) Close() error { return nil }

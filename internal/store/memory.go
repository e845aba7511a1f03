package store

import (
	"context"
	"sync"
)

// Memory is a process-lifetime Store implementation. Insertion order is
// preserved for List.
type Memory[V any] struct {
	mu     sync.RWMutex
	values map[string]V
	order  []string
}

func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		values: make(map[string]V),
	}
}

func (s *Memory[V]) Get(ctx context.Context, id string) (V, bool, error) {
	var zero V
	if err := checkContext(ctx); err != nil {
		return zero, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	if !ok {
		return zero, false, nil
	}
	return v, true, nil
}

func (s *Memory[V]) Upsert(ctx context.Context, id string, value V) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[id]; !exists {
		s.order = append(s.order, id)
	}
	s.values[id] = value
	return nil
}

func (s *Memory[V]) Delete(ctx context.Context, id string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[id]; !exists {
		return nil
	}
	delete(s.values, id)
	for i, key := range s.order {
		if key == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Memory[V]) List(ctx context.Context, filter func(V) bool) ([]V, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	for _, id := range s.order {
		v := s.values[id]
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

package memory

import (
	"context"
	"sync"

	"sagaflow/internal/instance"
	"sagaflow/internal/state"
	"sagaflow/internal/store"
)

// Store is an in-memory implementation of the state store, intended for
// tests and single-process use.
type Store struct {
	mu        sync.RWMutex
	instances map[string]*instance.SagaInstance
}

func New() *Store {
	return &Store{instances: make(map[string]*instance.SagaInstance)}
}

func (s *Store) Create(ctx context.Context, in *instance.SagaInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[in.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.instances[in.ID] = in.Clone()
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, in *instance.SagaInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, exists := s.instances[in.ID]
	if !exists {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	s.instances[in.ID] = in.Clone()
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*instance.SagaInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, exists := s.instances[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return in.Clone(), nil
}

func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, in := range s.instances {
		if state.IsActive(in.Status) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var _ store.Store = (*Store)(nil)

package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// MemoryStore keeps records in a map. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Environment
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.Environment)}
}

func (s *MemoryStore) Create(_ context.Context, env *models.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[env.ID]; ok {
		return ErrExists
	}
	s.records[env.ID] = env.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return env.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, namespace string) ([]*models.Environment, error) {
	s.mu.RLock()
	out := make([]*models.Environment, 0, len(s.records))
	for _, env := range s.records {
		if namespace == "" || env.Namespace == namespace {
			out = append(out, env.Clone())
		}
	}
	s.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*models.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := env.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	s.records[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }

func sortByCreated(envs []*models.Environment) {
	sort.SliceStable(envs, func(i, j int) bool {
		if envs[i].CreatedAt.Equal(envs[j].CreatedAt) {
			return envs[i].ID < envs[j].ID
		}
		return envs[i].CreatedAt.Before(envs[j].CreatedAt)
	})
}

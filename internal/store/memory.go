package store

import (
	"context"
	"sync"

	"github.com/fmx/matrix-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing and
// development. Not suitable for production (no durability).
type MemoryStore struct {
	mu    sync.RWMutex
	state map[string][]model.Position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: make(map[string][]model.Position),
	}
}

func (s *MemoryStore) Save(_ context.Context, userID string, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state[userID] = clonePositions(positions)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions, ok := s.state[userID]
	if !ok {
		return nil, nil
	}
	return clonePositions(positions), nil
}

package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store used in tests and single-node setups.
type MemStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	nextID int
}

// NewMemStore creates an empty in-memory agent store.
func NewMemStore() *MemStore {
	return &MemStore{agents: make(map[string]*Agent)}
}

func (s *MemStore) Create(ctx context.Context, in CreateAgentInput) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	a := &Agent{
		ID:        fmt.Sprintf("agent-%d", s.nextID),
		Name:      in.Name,
		Role:      in.Role,
		PublicKey: in.PublicKey,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	s.agents[a.ID] = a
	return cloneAgent(a), nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(a), nil
}

func (s *MemStore) List(ctx context.Context, params ListParams) ([]*Agent, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		all = append(all, cloneAgent(a))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, "", nil
}

func (s *MemStore) SetStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	return nil
}

func cloneAgent(a *Agent) *Agent {
	c := *a
	return &c
}

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-process policy store for tests and single-node setups.
type MemStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	nextID   int
}

// NewMemStore creates an empty in-memory policy store.
func NewMemStore() *MemStore {
	return &MemStore{policies: make(map[string]*Policy)}
}

func (s *MemStore) Create(ctx context.Context, in CreatePolicyInput) (*Policy, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UTC()
	p := &Policy{
		ID:        fmt.Sprintf("policy-%d", s.nextID),
		Name:      in.Name,
		AgentID:   in.AgentID,
		Role:      in.Role,
		Spec:      in.Spec,
		SpecHash:  ComputeSpecHash(in.Spec),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.policies[p.ID] = p
	return clonePolicy(p), nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePolicy(p), nil
}

func (s *MemStore) ListActiveForScope(ctx context.Context, agentID, role string) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Policy
	for _, p := range s.policies {
		if !p.Active {
			continue
		}
		if (p.AgentID != "" && p.AgentID == agentID) || (p.Role != "" && p.Role == role) {
			out = append(out, clonePolicy(p))
		}
	}
	return out, nil
}

func (s *MemStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = active
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func clonePolicy(p *Policy) *Policy {
	raw, _ := json.Marshal(p)
	c := &Policy{}
	_ = json.Unmarshal(raw, c)
	return c
}

// memCounter tracks one quota window.
type memCounter struct {
	current int
	resetAt time.Time
}

// MemQuotaStore is an in-process QuotaStore. A single mutex guards all
// counters; consumption for the same key is therefore atomic.
type MemQuotaStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	now      func() time.Time // injectable clock for testing
}

// NewMemQuotaStore creates an empty in-memory quota store.
func NewMemQuotaStore() *MemQuotaStore {
	return &MemQuotaStore{
		counters: make(map[string]*memCounter),
		now:      time.Now,
	}
}

func (s *MemQuotaStore) Consume(ctx context.Context, policyID, quotaKey string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := policyID + "|" + quotaKey

	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &memCounter{resetAt: now.Add(window)}
		s.counters[key] = c
	}

	if c.current >= limit {
		return false, nil
	}
	c.current++
	return true, nil
}

// Current returns the counter value for a key, for tests.
func (s *MemQuotaStore) Current(policyID, quotaKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[policyID+"|"+quotaKey]; ok {
		return c.current
	}
	return 0
}

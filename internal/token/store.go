package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRegistryStore persists registry entries in Postgres.
type PGRegistryStore struct {
	pool *pgxpool.Pool
}

// NewPGRegistryStore creates a registry store backed by the given pool.
func NewPGRegistryStore(pool *pgxpool.Pool) *PGRegistryStore {
	return &PGRegistryStore{pool: pool}
}

func (s *PGRegistryStore) Insert(ctx context.Context, entry RegistryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_registry (token_id, agent_id, payload_hash, issued_at, expires_at, is_revoked)
		 VALUES ($1, $2, $3, $4, $5, false)`,
		entry.TokenID, entry.AgentID, entry.PayloadHash, entry.IssuedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting registry entry: %w", err)
	}
	return nil
}

func (s *PGRegistryStore) Get(ctx context.Context, tokenID string) (*RegistryEntry, error) {
	e := &RegistryEntry{}
	err := s.pool.QueryRow(ctx,
		`SELECT token_id, agent_id, payload_hash, issued_at, expires_at, is_revoked, revoked_at
		 FROM token_registry WHERE token_id = $1`,
		tokenID,
	).Scan(&e.TokenID, &e.AgentID, &e.PayloadHash, &e.IssuedAt, &e.ExpiresAt, &e.IsRevoked, &e.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting registry entry: %w", err)
	}
	return e, nil
}

func (s *PGRegistryStore) Revoke(ctx context.Context, tokenID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE token_registry SET is_revoked = true, revoked_at = $1 WHERE token_id = $2`,
		at, tokenID,
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// MemRegistryStore is an in-process RegistryStore for tests and single-node
// setups.
type MemRegistryStore struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

// NewMemRegistryStore creates an empty in-memory registry store.
func NewMemRegistryStore() *MemRegistryStore {
	return &MemRegistryStore{entries: make(map[string]*RegistryEntry)}
}

func (s *MemRegistryStore) Insert(ctx context.Context, entry RegistryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry
	s.entries[entry.TokenID] = &e
	return nil
}

func (s *MemRegistryStore) Get(ctx context.Context, tokenID string) (*RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[tokenID]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (s *MemRegistryStore) Revoke(ctx context.Context, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[tokenID]
	if !ok {
		return ErrTokenNotFound
	}
	e.IsRevoked = true
	e.RevokedAt = &at
	return nil
}

package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no policy matches the lookup.
var ErrNotFound = errors.New("policy not found")

// PGStore provides database operations for policies.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a policy store backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Create inserts a new active policy. The spec hash is computed here so
// stored policies always carry a hash consistent with their content.
func (s *PGStore) Create(ctx context.Context, in CreatePolicyInput) (*Policy, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	specJSON, err := json.Marshal(in.Spec)
	if err != nil {
		return nil, fmt.Errorf("encoding policy spec: %w", err)
	}

	p := &Policy{}
	var rawSpec []byte
	err = s.pool.QueryRow(ctx,
		`INSERT INTO policies (name, agent_id, role, spec, spec_hash, active)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, true)
		 RETURNING id, name, COALESCE(agent_id, ''), COALESCE(role, ''), spec, spec_hash, active, created_at, updated_at`,
		in.Name, in.AgentID, in.Role, specJSON, ComputeSpecHash(in.Spec),
	).Scan(&p.ID, &p.Name, &p.AgentID, &p.Role, &rawSpec, &p.SpecHash, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating policy: %w", err)
	}
	if err := json.Unmarshal(rawSpec, &p.Spec); err != nil {
		return nil, fmt.Errorf("decoding policy spec: %w", err)
	}
	return p, nil
}

// Get retrieves a policy by id.
func (s *PGStore) Get(ctx context.Context, id string) (*Policy, error) {
	p := &Policy{}
	var rawSpec []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(agent_id, ''), COALESCE(role, ''), spec, spec_hash, active, created_at, updated_at
		 FROM policies WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.AgentID, &p.Role, &rawSpec, &p.SpecHash, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting policy: %w", err)
	}
	if err := json.Unmarshal(rawSpec, &p.Spec); err != nil {
		return nil, fmt.Errorf("decoding policy spec: %w", err)
	}
	return p, nil
}

// ListActiveForScope returns every active policy bound to the agent or to
// its role, agent-scoped first.
func (s *PGStore) ListActiveForScope(ctx context.Context, agentID, role string) ([]*Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(agent_id, ''), COALESCE(role, ''), spec, spec_hash, active, created_at, updated_at
		 FROM policies
		 WHERE active = true AND (agent_id = $1 OR role = $2)
		 ORDER BY agent_id NULLS LAST, created_at`,
		agentID, role,
	)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		p := &Policy{}
		var rawSpec []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.AgentID, &p.Role, &rawSpec, &p.SpecHash, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		if err := json.Unmarshal(rawSpec, &p.Spec); err != nil {
			return nil, fmt.Errorf("decoding policy spec: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policy rows: %w", err)
	}
	return policies, nil
}

// SetActive enables or disables a policy.
func (s *PGStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policies SET active = $1, updated_at = now() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("updating policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PGQuotaStore enforces quota counters with a row lock so concurrent
// consumers for the same key cannot lose updates.
type PGQuotaStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGQuotaStore creates a quota store backed by the given pool.
func NewPGQuotaStore(pool *pgxpool.Pool) *PGQuotaStore {
	return &PGQuotaStore{pool: pool, now: time.Now}
}

// Consume increments the (policyID, quotaKey) counter if it is under limit,
// resetting it first when the window has elapsed. The SELECT ... FOR UPDATE
// serializes concurrent consumers on the same row.
func (s *PGQuotaStore) Consume(ctx context.Context, policyID, quotaKey string, limit int, window time.Duration) (bool, error) {
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning quota tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO quota_counters (policy_id, quota_key, current, reset_at)
		 VALUES ($1, $2, 0, $3)
		 ON CONFLICT (policy_id, quota_key) DO NOTHING`,
		policyID, quotaKey, now.Add(window),
	)
	if err != nil {
		return false, fmt.Errorf("ensuring quota counter: %w", err)
	}

	var current int
	var resetAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT current, reset_at FROM quota_counters
		 WHERE policy_id = $1 AND quota_key = $2 FOR UPDATE`,
		policyID, quotaKey,
	).Scan(&current, &resetAt)
	if err != nil {
		return false, fmt.Errorf("locking quota counter: %w", err)
	}

	if !now.Before(resetAt) {
		current = 0
		resetAt = now.Add(window)
	}
	if current >= limit {
		// Nothing to write; release the lock.
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`UPDATE quota_counters SET current = $1, reset_at = $2
		 WHERE policy_id = $3 AND quota_key = $4`,
		current+1, resetAt, policyID, quotaKey,
	)
	if err != nil {
		return false, fmt.Errorf("incrementing quota counter: %w", err)
	}
	return true, tx.Commit(ctx)
}

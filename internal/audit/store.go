package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists audit rows in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates an audit store backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// InsertRequestLogs writes a slice of request logs in a single multi-row
// INSERT statement. It is a no-op when logs is empty.
func (s *PGStore) InsertRequestLogs(ctx context.Context, logs []RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	const cols = 8
	args := make([]any, 0, len(logs)*cols)
	rows := make([]string, 0, len(logs))

	for i, l := range logs {
		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			l.CorrID, l.AgentID, l.Tool, l.Action,
			l.ResponseTimeMs, l.StatusCode, l.Success, l.ErrorMessage,
		)
	}

	query := `INSERT INTO request_logs
		(corr_id, agent_id, tool, action, response_time_ms, status_code, success, error_message)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting request logs: %w", err)
	}
	return nil
}

// InsertPolicyLogs writes a slice of policy evaluation logs in a single
// multi-row INSERT statement. It is a no-op when logs is empty.
func (s *PGStore) InsertPolicyLogs(ctx context.Context, logs []PolicyLog) error {
	if len(logs) == 0 {
		return nil
	}

	const cols = 6
	args := make([]any, 0, len(logs)*cols)
	rows := make([]string, 0, len(logs))

	for i, l := range logs {
		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			l.PolicyID, l.AgentID, l.Tool, l.Action, l.Decision, l.Reason,
		)
	}

	query := `INSERT INTO policy_logs
		(policy_id, agent_id, tool, action, decision, reason)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting policy logs: %w", err)
	}
	return nil
}

// MemStore is an in-process BatchInserter for tests.
type MemStore struct {
	mu       sync.Mutex
	Requests []RequestLog
	Policies []PolicyLog
}

// NewMemStore creates an empty in-memory audit store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) InsertRequestLogs(ctx context.Context, logs []RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, logs...)
	return nil
}

func (s *MemStore) InsertPolicyLogs(ctx context.Context, logs []PolicyLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Policies = append(s.Policies, logs...)
	return nil
}

// RequestCount returns the number of flushed request logs.
func (s *MemStore) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// PolicyCount returns the number of flushed policy logs.
func (s *MemStore) PolicyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Policies)
}

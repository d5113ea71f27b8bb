package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/4runr/gateway/internal/audit"
)

// Store loads policy documents for evaluation.
type Store interface {
	ListActiveForScope(ctx context.Context, agentID, role string) ([]*Policy, error)
	Create(ctx context.Context, in CreatePolicyInput) (*Policy, error)
	Get(ctx context.Context, id string) (*Policy, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// QuotaStore atomically consumes one unit from a windowed counter. It
// returns false when the counter is at its limit for the current window.
type QuotaStore interface {
	Consume(ctx context.Context, policyID, quotaKey string, limit int, window time.Duration) (bool, error)
}

// Recorder receives policy evaluation rows, fire-and-forget.
type Recorder interface {
	RecordPolicy(l audit.PolicyLog)
}

// Engine evaluates merged agent- and role-scoped policies against a
// (tool, action) pair, enforcing quotas as a side effect. Evaluation is
// default-deny: a request passes only when some active rule explicitly
// permits it.
type Engine struct {
	store    Store
	quotas   QuotaStore
	recorder Recorder
}

// NewEngine creates a policy engine. recorder may be nil.
func NewEngine(store Store, quotas QuotaStore, recorder Recorder) *Engine {
	return &Engine{store: store, quotas: quotas, recorder: recorder}
}

// Evaluate loads every active policy scoped to the agent or its role and
// returns the merged decision. When the winning rule carries a quota, one
// unit is consumed atomically; an exhausted quota is a deny with a reason
// distinct from a rule deny.
func (e *Engine) Evaluate(ctx context.Context, agentID, role, tool, action string, params map[string]any) (*Decision, error) {
	policies, err := e.store.ListActiveForScope(ctx, agentID, role)
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}

	// Agent-scoped policies take precedence over role-scoped ones on the
	// same (tool, action) key, so search them first and stop at the first
	// match within each scope tier.
	rule, policyID := matchScope(policies, tool, action, true)
	if rule == nil {
		rule, policyID = matchScope(policies, tool, action, false)
	}

	decision := &Decision{PolicyID: policyID}
	switch {
	case rule == nil:
		decision.Reason = fmt.Sprintf("denied: no policy permits %s.%s", tool, action)
	case rule.Quota != nil:
		if e.quotas == nil {
			return nil, fmt.Errorf("rule for %s.%s defines a quota but no quota store is configured", tool, action)
		}
		key := quotaKey(agentID, tool, action)
		allowed, qerr := e.quotas.Consume(ctx, policyID, key, rule.Quota.Limit, rule.Quota.Window())
		if qerr != nil {
			return nil, fmt.Errorf("consuming quota: %w", qerr)
		}
		if !allowed {
			decision.QuotaExceeded = true
			decision.Reason = fmt.Sprintf("quota exceeded for %s.%s (limit %d per %s)",
				tool, action, rule.Quota.Limit, rule.Quota.Window())
		} else {
			decision.Allowed = true
			decision.Filters = rule.Filters
		}
	default:
		decision.Allowed = true
		decision.Filters = rule.Filters
	}

	e.record(agentID, tool, action, decision)
	return decision, nil
}

// matchScope returns the first rule permitting (tool, action) among
// policies of the requested scope, along with its policy id.
func matchScope(policies []*Policy, tool, action string, agentScoped bool) (*Rule, string) {
	for _, p := range policies {
		if p.AgentScoped() != agentScoped {
			continue
		}
		for i := range p.Spec.Rules {
			if p.Spec.Rules[i].Matches(tool, action) {
				return &p.Spec.Rules[i], p.ID
			}
		}
	}
	return nil, ""
}

func quotaKey(agentID, tool, action string) string {
	return agentID + ":" + tool + ":" + action
}

func (e *Engine) record(agentID, tool, action string, d *Decision) {
	if e.recorder == nil {
		return
	}
	l := audit.PolicyLog{
		PolicyID: d.PolicyID,
		AgentID:  agentID,
		Tool:     tool,
		Action:   action,
		Decision: audit.DecisionAllow,
		Reason:   d.Reason,
	}
	if !d.Allowed {
		l.Decision = audit.DecisionDeny
	}
	e.recorder.RecordPolicy(l)
}

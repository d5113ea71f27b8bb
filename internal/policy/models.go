package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Policy is a rule set scoped to exactly one agent or one role.
type Policy struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentID   string    `json:"agent_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Spec      Spec      `json:"spec"`
	SpecHash  string    `json:"spec_hash"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentScoped reports whether the policy binds to a single agent rather
// than a role. Agent-scoped rules win over role-scoped ones on conflict.
func (p *Policy) AgentScoped() bool {
	return p.AgentID != ""
}

// Spec is the evaluable content of a policy: an explicit allow-list.
type Spec struct {
	Rules []Rule `json:"rules"`
}

// Rule permits a set of actions on one tool, optionally bounded by a quota
// and decorated with response filters.
type Rule struct {
	Tool    string     `json:"tool"`
	Actions []string   `json:"actions"`
	Quota   *QuotaSpec `json:"quota,omitempty"`
	Filters []string   `json:"filters,omitempty"`
}

// Matches reports whether the rule permits (tool, action).
func (r *Rule) Matches(tool, action string) bool {
	if r.Tool != tool && r.Tool != "*" {
		return false
	}
	for _, a := range r.Actions {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}

// QuotaSpec bounds how often a rule may be exercised per window.
type QuotaSpec struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

// Window returns the quota window as a duration.
func (q *QuotaSpec) Window() time.Duration {
	return time.Duration(q.WindowSeconds) * time.Second
}

// CreatePolicyInput holds the fields required to create a policy.
type CreatePolicyInput struct {
	Name    string `json:"name"`
	AgentID string `json:"agent_id,omitempty"`
	Role    string `json:"role,omitempty"`
	Spec    Spec   `json:"spec"`
}

// Validate enforces the scope invariant: exactly one of AgentID/Role is set.
func (in *CreatePolicyInput) Validate() error {
	if (in.AgentID == "") == (in.Role == "") {
		return fmt.Errorf("policy must be scoped to exactly one of agent_id or role")
	}
	if len(in.Spec.Rules) == 0 {
		return fmt.Errorf("policy must define at least one rule")
	}
	return nil
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// QuotaExceeded marks a deny caused by an exhausted quota rather than
	// the absence of a permitting rule.
	QuotaExceeded bool     `json:"quota_exceeded,omitempty"`
	Filters       []string `json:"filters,omitempty"`
	PolicyID      string   `json:"policy_id,omitempty"`
}

// ComputeSpecHash returns a deterministic content hash of a spec. Rules are
// sorted by tool and actions within each rule are sorted, so two specs with
// the same semantic content hash identically regardless of declaration
// order.
func ComputeSpecHash(spec Spec) string {
	canon := Spec{Rules: make([]Rule, len(spec.Rules))}
	for i, r := range spec.Rules {
		cr := Rule{Tool: r.Tool, Quota: r.Quota}
		cr.Actions = append([]string(nil), r.Actions...)
		sort.Strings(cr.Actions)
		cr.Filters = append([]string(nil), r.Filters...)
		sort.Strings(cr.Filters)
		canon.Rules[i] = cr
	}
	sort.Slice(canon.Rules, func(i, j int) bool {
		return canon.Rules[i].Tool < canon.Rules[j].Tool
	})

	// encoding/json emits struct fields in declaration order, so the
	// encoding itself is already stable once slices are sorted.
	raw, _ := json.Marshal(canon)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

package audit

import "time"

// RequestLog records one terminal outcome of the proxy pipeline.
type RequestLog struct {
	ID             string    `json:"id"`
	CorrID         string    `json:"corr_id"`
	AgentID        string    `json:"agent_id"`
	Tool           string    `json:"tool"`
	Action         string    `json:"action"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	StatusCode     int       `json:"status_code"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PolicyLog records a single policy evaluation, allow or deny.
type PolicyLog struct {
	ID        string    `json:"id"`
	PolicyID  string    `json:"policy_id"`
	AgentID   string    `json:"agent_id"`
	Tool      string    `json:"tool"`
	Action    string    `json:"action"`
	Decision  string    `json:"decision"` // "allow" or "deny"
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision values for PolicyLog.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

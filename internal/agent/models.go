package agent

import "time"

// Status values for an agent.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Agent represents a registered caller identity.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	PublicKey string    `json:"public_key"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the agent may be issued tokens or proxy requests.
func (a *Agent) Active() bool {
	return a.Status == StatusActive
}

// CreateAgentInput holds the fields required to register a new agent.
type CreateAgentInput struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	PublicKey string `json:"public_key"`
}

// ListParams controls cursor-based pagination for listing agents.
type ListParams struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

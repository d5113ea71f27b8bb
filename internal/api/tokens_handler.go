package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/4runr/gateway/internal/agent"
	"github.com/4runr/gateway/internal/token"
)

// TokenIssuer mints sealed tokens for an agent.
type TokenIssuer interface {
	Issue(ctx context.Context, agentID string, tools, permissions []string, ttl time.Duration) (*token.IssueResult, error)
}

// TokenRevoker revokes a registered token by id.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string) error
}

// TokenMetrics counts issuance and revocation. May be nil.
type TokenMetrics interface {
	IncTokenIssued()
	IncTokenRevoked()
}

// tokensHandler groups token lifecycle endpoints.
type tokensHandler struct {
	issuer     TokenIssuer
	revoker    TokenRevoker
	agents     agent.Store
	metrics    TokenMetrics
	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
}

func newTokensHandler(issuer TokenIssuer, revoker TokenRevoker, agents agent.Store, metrics TokenMetrics, defaultTTL, maxTTL time.Duration) *tokensHandler {
	return &tokensHandler{
		issuer:     issuer,
		revoker:    revoker,
		agents:     agents,
		metrics:    metrics,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		now:        time.Now,
	}
}

// generateTokenRequest is the JSON body for minting a token. Exactly one of
// expires_at or ttl_seconds may be given; absent both, the default TTL
// applies.
type generateTokenRequest struct {
	AgentID     string    `json:"agent_id"`
	Tools       []string  `json:"tools"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	TTLSeconds  int       `json:"ttl_seconds"`
}

// GenerateToken handles POST /api/generate-token.
func (h *tokensHandler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "agent_id is required")
		return
	}
	if len(req.Tools) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "at least one tool is required")
		return
	}
	if !req.ExpiresAt.IsZero() && req.TTLSeconds != 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "expires_at and ttl_seconds are mutually exclusive")
		return
	}

	ttl := h.defaultTTL
	switch {
	case !req.ExpiresAt.IsZero():
		ttl = req.ExpiresAt.Sub(h.now())
	case req.TTLSeconds > 0:
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "token lifetime must be in the future")
		return
	}
	if h.maxTTL > 0 && ttl > h.maxTTL {
		ttl = h.maxTTL
	}

	// Tokens are only minted for known, active agents.
	ag, err := h.agents.Get(r.Context(), req.AgentID)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to look up agent")
		return
	}
	if !ag.Active() {
		writeError(w, http.StatusForbidden, "forbidden", "agent is inactive")
		return
	}

	res, err := h.issuer.Issue(r.Context(), req.AgentID, req.Tools, req.Permissions, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue token")
		return
	}
	if h.metrics != nil {
		h.metrics.IncTokenIssued()
	}

	auditLog(r, "generate_token", "token", res.TokenID, "agent_id", req.AgentID)

	writeJSON(w, http.StatusCreated, res)
}

// revokeTokenRequest is the JSON body for revoking a token.
type revokeTokenRequest struct {
	TokenID string `json:"token_id"`
}

// RevokeToken handles POST /api/tokens/revoke (admin).
func (h *tokensHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeTokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.TokenID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "token_id is required")
		return
	}

	if err := h.revoker.Revoke(r.Context(), req.TokenID); err != nil {
		if errors.Is(err, token.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "token not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to revoke token")
		return
	}
	if h.metrics != nil {
		h.metrics.IncTokenRevoked()
	}

	auditLog(r, "revoke", "token", req.TokenID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token_id": req.TokenID,
		"revoked":  true,
	})
}

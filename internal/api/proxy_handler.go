package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/4runr/gateway/internal/gateway"
)

// Proxier runs a request through the pipeline.
type Proxier interface {
	Proxy(ctx context.Context, req gateway.Request) (*gateway.Response, *gateway.Error)
}

// proxyHandler exposes the pipeline over HTTP.
type proxyHandler struct {
	gw Proxier
}

func newProxyHandler(gw Proxier) *proxyHandler {
	return &proxyHandler{gw: gw}
}

// proxyRequest is the JSON body for POST /api/proxy-request. ProofPayload is
// forwarded byte-for-byte: the provenance check hashes it, so re-encoding
// would break the comparison.
type proxyRequest struct {
	AgentToken   string          `json:"agent_token"`
	TokenID      string          `json:"token_id,omitempty"`
	ProofPayload json.RawMessage `json:"proof_payload,omitempty"`
	Tool         string          `json:"tool"`
	Action       string          `json:"action"`
	Params       map[string]any  `json:"params"`
	Intent       string          `json:"intent,omitempty"`
}

// ProxyRequest handles POST /api/proxy-request.
func (h *proxyHandler) ProxyRequest(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	// Callers may supply their own correlation id; the pipeline mints one
	// otherwise.
	resp, gerr := h.gw.Proxy(r.Context(), gateway.Request{
		CorrID:       r.Header.Get("X-Correlation-ID"),
		AgentToken:   req.AgentToken,
		TokenID:      req.TokenID,
		ProofPayload: req.ProofPayload,
		Tool:         req.Tool,
		Action:       req.Action,
		Params:       req.Params,
		Intent:       req.Intent,
	})
	if gerr != nil {
		writeGatewayError(w, gerr)
		return
	}

	// Rotation advice rides on headers so SDKs can refresh proactively
	// without inspecting the body.
	if resp.RotationRecommended {
		w.Header().Set("X-Token-Rotation-Recommended", "true")
	}
	if !resp.TokenExpiresAt.IsZero() {
		w.Header().Set("X-Token-Expires-At", resp.TokenExpiresAt.UTC().Format(time.RFC3339))
	}
	if resp.Cached {
		w.Header().Set("X-Cache", "hit")
	}
	w.Header().Set("X-Correlation-ID", resp.CorrID)

	writeJSON(w, http.StatusOK, resp)
}

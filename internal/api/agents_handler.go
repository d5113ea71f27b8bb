package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/4runr/gateway/internal/agent"
)

// agentsHandler groups agent directory endpoints. All of them sit behind the
// admin key.
type agentsHandler struct {
	store agent.Store
}

func newAgentsHandler(store agent.Store) *agentsHandler {
	return &agentsHandler{store: store}
}

// createAgentRequest is the JSON body for registering an agent.
type createAgentRequest struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	PublicKey string `json:"public_key"`
}

// CreateAgent handles POST /api/agents (admin).
func (h *agentsHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "name is required")
		return
	}
	if req.Role == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "role is required")
		return
	}

	ag, err := h.store.Create(r.Context(), agent.CreateAgentInput{
		Name:      req.Name,
		Role:      req.Role,
		PublicKey: req.PublicKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create agent")
		return
	}

	auditLog(r, "create", "agent", ag.ID, "name", ag.Name, "role", ag.Role)

	writeJSON(w, http.StatusCreated, ag)
}

// GetAgent handles GET /api/agents/{id} (admin).
func (h *agentsHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "agent id is required")
		return
	}

	ag, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get agent")
		return
	}

	writeJSON(w, http.StatusOK, ag)
}

// ListAgents handles GET /api/agents (admin).
func (h *agentsHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	params := agent.ListParams{
		Cursor: r.URL.Query().Get("cursor"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		params.Limit = l
	}

	agents, nextCursor, err := h.store.List(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list agents")
		return
	}
	if agents == nil {
		agents = []*agent.Agent{}
	}

	resp := map[string]interface{}{
		"agents": agents,
	}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// setStatusRequest is the JSON body for activating or deactivating an agent.
type setStatusRequest struct {
	Status string `json:"status"`
}

// SetAgentStatus handles PUT /api/agents/{id}/status (admin). Deactivation
// takes effect on the next proxy call: outstanding tokens stay verifiable
// but the agent check rejects them.
func (h *agentsHandler) SetAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "agent id is required")
		return
	}

	var req setStatusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Status != agent.StatusActive && req.Status != agent.StatusInactive {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "status must be active or inactive")
		return
	}

	if err := h.store.SetStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update agent status")
		return
	}

	auditLog(r, "set_status", "agent", id, "status", req.Status)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": req.Status,
	})
}

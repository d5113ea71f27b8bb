package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/4runr/gateway/internal/policy"
)

// policiesHandler groups policy management endpoints (admin).
type policiesHandler struct {
	store policy.Store
}

func newPoliciesHandler(store policy.Store) *policiesHandler {
	return &policiesHandler{store: store}
}

// CreatePolicy handles POST /api/policies (admin).
func (h *policiesHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var in policy.CreatePolicyInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	p, err := h.store.Create(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create policy")
		return
	}

	auditLog(r, "create", "policy", p.ID, "name", p.Name)

	writeJSON(w, http.StatusCreated, p)
}

// GetPolicy handles GET /api/policies/{id} (admin).
func (h *policiesHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "policy id is required")
		return
	}

	p, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get policy")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// setActiveRequest is the JSON body for toggling a policy.
type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetPolicyActive handles PUT /api/policies/{id}/active (admin).
func (h *policiesHandler) SetPolicyActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "policy id is required")
		return
	}

	var req setActiveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if err := h.store.SetActive(r.Context(), id, req.Active); err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update policy")
		return
	}

	auditLog(r, "set_active", "policy", id, "active", req.Active)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"active": req.Active,
	})
}

package handlers

import (
	"net/http"

	"github.com/akmatori/alertflow/internal/api"
)

// handlePendingEscalations handles GET /api/escalations/pending
func (h *APIHandler) handlePendingEscalations(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.Escalation.PendingEscalations(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, pending)
}

func (h *APIHandler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.svc.Policies.List(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, policies)
}

func (h *APIHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req api.PolicyRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	policy := api.PolicyFromRequest(req)
	if err := h.svc.Policies.Create(r.Context(), &policy); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, policy)
}

func (h *APIHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	policy, err := h.svc.Policies.Get(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, policy)
}

func (h *APIHandler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.PolicyRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	policy := api.PolicyFromRequest(req)
	if err := h.svc.Policies.Update(r.Context(), id, &policy); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	updated, err := h.svc.Policies.Get(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, updated)
}

func (h *APIHandler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Policies.Delete(r.Context(), id); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondNoContent(w)
}

package handlers

import (
	"net/http"

	"github.com/akmatori/alertflow/internal/api"
)

func (h *APIHandler) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.svc.Contacts.List(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, contacts)
}

// handleUpsertContact handles POST /api/contacts, creating or replacing by user_id
func (h *APIHandler) handleUpsertContact(w http.ResponseWriter, r *http.Request) {
	var req api.ContactRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	contact := api.ContactFromRequest(req)
	if err := h.svc.Contacts.Upsert(r.Context(), &contact); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, contact)
}

func (h *APIHandler) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Contacts.Delete(r.Context(), r.PathValue("user_id")); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondNoContent(w)
}

func (h *APIHandler) handleListAlertSources(w http.ResponseWriter, r *http.Request) {
	instances, err := h.svc.Sources.ListInstances(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, instances)
}

func (h *APIHandler) handleCreateAlertSource(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAlertSourceRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	instance, err := h.svc.Sources.CreateInstance(r.Context(), req.SourceType, req.Name, req.Description,
		req.WebhookSecret, req.FieldMappings)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, api.CreateAlertSourceResponse{
		AlertSourceInstance: *instance,
		WebhookPath:         "/webhook/alert/" + instance.UUID,
	})
}

// handleUpdateAlertSource handles PUT /api/alert-sources/{uuid}; only enabled is mutable
func (h *APIHandler) handleUpdateAlertSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	var req api.UpdateAlertSourceRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.Sources.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	instance, err := h.svc.Sources.GetInstanceByUUID(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, instance)
}

func (h *APIHandler) handleDeleteAlertSource(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Sources.DeleteInstance(r.Context(), r.PathValue("uuid")); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondNoContent(w)
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/akmatori/alertflow/internal/api"
	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/services"
)

// apiSource is recorded as the origin of alerts submitted over the API
const apiSource = "api"

// handleSubmitAlert handles POST /api/alerts
func (h *APIHandler) handleSubmitAlert(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitAlertRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.Grouping.SubmitAlert(r.Context(), api.RawAlertFromRequest(req, apiSource))
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	api.RespondJSON(w, status, result)
}

// handleListAlerts handles GET /api/alerts?state=&severity=&device_id=&include_merged=&page=&per_page=
func (h *APIHandler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := api.ParsePagination(r)
	filter := services.AlertFilter{
		State:    database.AlertState(q.Get("state")),
		Severity: database.Severity(q.Get("severity")),
		DeviceID: q.Get("device_id"),
		Offset:   p.Offset(),
		Limit:    p.PerPage,
	}
	if filter.State != "" && !filter.State.IsValid() {
		api.RespondValidationError(w, map[string]string{"state": "must be one of: new acknowledged investigating resolved"})
		return
	}
	if filter.Severity != "" && !filter.Severity.IsValid() {
		api.RespondValidationError(w, map[string]string{"severity": "must be one of: critical high medium low info"})
		return
	}
	if v := q.Get("include_merged"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			api.RespondError(w, http.StatusBadRequest, "include_merged must be a boolean")
			return
		}
		filter.IncludeMerged = include
	}

	alerts, total, err := h.svc.Lifecycle.ListAlerts(r.Context(), filter)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, p.Wrap(alerts, total))
}

// handleGetAlert handles GET /api/alerts/{id}
func (h *APIHandler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	status, err := h.svc.Lifecycle.GetAlertStatus(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	merges, err := h.svc.Lifecycle.Merges(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AlertDetailResponse{AlertStatus: *status, Merges: merges})
}

// handleAlertHistory handles GET /api/alerts/{id}/history
func (h *APIHandler) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.svc.Lifecycle.History(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, history)
}

// handleAlertNotifications handles GET /api/alerts/{id}/notifications
func (h *APIHandler) handleAlertNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.svc.Lifecycle.GetAlert(r.Context(), id); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	entries, err := h.svc.Escalation.NotificationLog(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, entries)
}

// handleTransition handles POST /api/alerts/{id}/transitions
func (h *APIHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.TransitionRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	event, err := h.svc.Lifecycle.Transition(r.Context(), id, database.AlertState(req.State),
		h.actor(r, req.Actor), req.Notes, req.Metadata)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, event)
}

// handleMerge handles POST /api/alerts/{id}/merge
func (h *APIHandler) handleMerge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.MergeAlertRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	mergedBy := anonymousActor
	if actor := h.actor(r, req.Actor); actor != nil {
		mergedBy = *actor
	}
	merge, err := h.svc.Lifecycle.MergeAlert(r.Context(), id, req.CanonicalAlertID, mergedBy, req.Reason)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, merge)
}

// pathID parses a numeric path value, writing a 400 on failure
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := api.PathID(r, name)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}

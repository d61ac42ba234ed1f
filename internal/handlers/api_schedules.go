package handlers

import (
	"net/http"

	"github.com/akmatori/alertflow/internal/api"
)

func (h *APIHandler) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.svc.OnCall.ListSchedules(r.Context())
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, schedules)
}

func (h *APIHandler) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req api.ScheduleRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	schedule := api.ScheduleFromRequest(req)
	if err := h.svc.OnCall.CreateSchedule(r.Context(), &schedule); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, schedule)
}

// handleGetSchedule returns the schedule with its overrides
func (h *APIHandler) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	schedule, err := h.svc.OnCall.GetSchedule(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, schedule)
}

func (h *APIHandler) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.ScheduleRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	schedule := api.ScheduleFromRequest(req)
	if err := h.svc.OnCall.UpdateSchedule(r.Context(), id, &schedule); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	updated, err := h.svc.OnCall.GetSchedule(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, updated)
}

func (h *APIHandler) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.OnCall.DeleteSchedule(r.Context(), id); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondNoContent(w)
}

func (h *APIHandler) handleAddOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.OverrideRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	override := api.OverrideFromRequest(req)
	if err := h.svc.OnCall.AddOverride(r.Context(), id, &override); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, override)
}

func (h *APIHandler) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	oid, ok := pathID(w, r, "oid")
	if !ok {
		return
	}
	if err := h.svc.OnCall.DeleteOverride(r.Context(), id, oid); err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondNoContent(w)
}

// handleOnCall handles GET /api/schedules/{id}/oncall?at=RFC3339 (default now)
func (h *APIHandler) handleOnCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	at, err := api.ParseTimeParam(r, "at")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if at.IsZero() {
		at = h.svc.OnCall.Now()
	}

	users, err := h.svc.OnCall.ResolveOnCall(r.Context(), id, at)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	api.RespondJSON(w, http.StatusOK, api.OnCallResponse{ScheduleID: id, At: at, Users: users})
}

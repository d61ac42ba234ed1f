package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/akmatori/alertflow/internal/api"
	"github.com/akmatori/alertflow/internal/database"
)

func (h *APIHandler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := database.GetOrCreateEngineSettings(h.db.WithContext(r.Context()))
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings handles PUT /api/settings; absent fields are left unchanged
func (h *APIHandler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateSettingsRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}
	db := h.db.WithContext(r.Context())
	settings, err := database.GetOrCreateEngineSettings(db)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.ApplySettings(settings, req)
	if err := database.UpdateEngineSettings(db, settings); err != nil {
		api.RespondServiceError(w, err)
		return
	}

	log.WithFields(log.Fields{
		"escalation_enabled":    settings.EscalationEnabled,
		"grouping_enabled":      settings.GroupingEnabled,
		"group_window_minutes":  settings.GroupWindowMinutes,
		"reaper_enabled":        settings.ReaperEnabled,
		"notifications_enabled": settings.NotificationsEnabled,
		"actor":                 actorName(h.actor(r, "")),
	}).Info("Engine settings updated")
	api.RespondJSON(w, http.StatusOK, settings)
}

func actorName(actor *string) string {
	if actor == nil {
		return anonymousActor
	}
	return *actor
}

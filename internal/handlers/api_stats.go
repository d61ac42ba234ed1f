package handlers

import (
	"net/http"

	"github.com/akmatori/alertflow/internal/api"
	"github.com/akmatori/alertflow/internal/database"
)

// handleListGroups handles GET /api/groups?status=active|closed
func (h *APIHandler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	status := database.GroupStatus(r.URL.Query().Get("status"))
	if status != "" && status != database.GroupStatusActive && status != database.GroupStatusClosed {
		api.RespondValidationError(w, map[string]string{"status": "must be one of: active closed"})
		return
	}
	p := api.ParsePagination(r)
	groups, total, err := h.svc.Grouping.ListGroups(r.Context(), status, p.Offset(), p.PerPage)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, p.Wrap(groups, total))
}

func (h *APIHandler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	group, err := h.svc.Grouping.GetGroup(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, group)
}

func (h *APIHandler) handleCloseGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	group, err := h.svc.Grouping.CloseGroup(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, group)
}

// handleSLACompliance handles GET /api/sla/compliance?from=&to=
func (h *APIHandler) handleSLACompliance(w http.ResponseWriter, r *http.Request) {
	from, to, err := api.ParseTimeRange(r)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.svc.SLA.ComplianceReport(r.Context(), from, to)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, report)
}

// handleNoiseReduction handles GET /api/stats/noise-reduction?from=&to=
func (h *APIHandler) handleNoiseReduction(w http.ResponseWriter, r *http.Request) {
	from, to, err := api.ParseTimeRange(r)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.svc.Grouping.NoiseReduction(r.Context(), from, to)
	if err != nil {
		api.RespondServiceError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, stats)
}

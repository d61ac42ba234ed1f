package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/events"
	"github.com/akmatori/alertflow/internal/middleware"
	"github.com/akmatori/alertflow/internal/services"
)

// anonymousActor is recorded for merges made without authentication or an actor field
const anonymousActor = "anonymous"

// Services bundles the domain services the API exposes
type Services struct {
	Lifecycle  *services.LifecycleService
	SLA        *services.SLATracker
	Grouping   *services.GroupingService
	Escalation *services.EscalationService
	Policies   *services.PolicyService
	OnCall     *services.OnCallService
	Contacts   *services.ContactService
	Sources    *services.AlertSourceService
}

// APIHandler handles the dashboard and management API
type APIHandler struct {
	db          *gorm.DB
	svc         Services
	hub         *events.Hub
	authEnabled bool
}

// NewAPIHandler creates a new API handler. hub may be nil to disable the event stream.
func NewAPIHandler(db *gorm.DB, svc Services, hub *events.Hub, authEnabled bool) *APIHandler {
	return &APIHandler{
		db:          db,
		svc:         svc,
		hub:         hub,
		authEnabled: authEnabled,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Alerts
	mux.HandleFunc("POST /api/alerts", h.handleSubmitAlert)
	mux.HandleFunc("GET /api/alerts", h.handleListAlerts)
	mux.HandleFunc("GET /api/alerts/{id}", h.handleGetAlert)
	mux.HandleFunc("GET /api/alerts/{id}/history", h.handleAlertHistory)
	mux.HandleFunc("GET /api/alerts/{id}/notifications", h.handleAlertNotifications)
	mux.HandleFunc("POST /api/alerts/{id}/transitions", h.handleTransition)
	mux.HandleFunc("POST /api/alerts/{id}/merge", h.handleMerge)

	// Escalation
	mux.HandleFunc("GET /api/escalations/pending", h.handlePendingEscalations)
	mux.HandleFunc("GET /api/escalation-policies", h.handleListPolicies)
	mux.HandleFunc("POST /api/escalation-policies", h.handleCreatePolicy)
	mux.HandleFunc("GET /api/escalation-policies/{id}", h.handleGetPolicy)
	mux.HandleFunc("PUT /api/escalation-policies/{id}", h.handleUpdatePolicy)
	mux.HandleFunc("DELETE /api/escalation-policies/{id}", h.handleDeletePolicy)

	// On-call
	mux.HandleFunc("GET /api/schedules", h.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", h.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", h.handleGetSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", h.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", h.handleDeleteSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/overrides", h.handleAddOverride)
	mux.HandleFunc("DELETE /api/schedules/{id}/overrides/{oid}", h.handleDeleteOverride)
	mux.HandleFunc("GET /api/schedules/{id}/oncall", h.handleOnCall)

	// Grouping
	mux.HandleFunc("GET /api/groups", h.handleListGroups)
	mux.HandleFunc("GET /api/groups/{id}", h.handleGetGroup)
	mux.HandleFunc("POST /api/groups/{id}/close", h.handleCloseGroup)

	// Reporting
	mux.HandleFunc("GET /api/sla/compliance", h.handleSLACompliance)
	mux.HandleFunc("GET /api/stats/noise-reduction", h.handleNoiseReduction)

	// Directory
	mux.HandleFunc("GET /api/contacts", h.handleListContacts)
	mux.HandleFunc("POST /api/contacts", h.handleUpsertContact)
	mux.HandleFunc("DELETE /api/contacts/{user_id}", h.handleDeleteContact)
	mux.HandleFunc("GET /api/alert-sources", h.handleListAlertSources)
	mux.HandleFunc("POST /api/alert-sources", h.handleCreateAlertSource)
	mux.HandleFunc("PUT /api/alert-sources/{uuid}", h.handleUpdateAlertSource)
	mux.HandleFunc("DELETE /api/alert-sources/{uuid}", h.handleDeleteAlertSource)

	// Engine settings
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handleUpdateSettings)

	if h.hub != nil {
		mux.HandleFunc("GET /api/events/ws", h.hub.HandleWebSocket)
	}
}

// actor returns who is acting on a request. With authentication on it is
// always the token's subject; otherwise the body's actor field, or nil.
func (h *APIHandler) actor(r *http.Request, claimed string) *string {
	if h.authEnabled {
		user := middleware.ActorFromContext(r.Context())
		return &user
	}
	if claimed == "" {
		return nil
	}
	return &claimed
}

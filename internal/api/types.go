package api

import (
	"time"

	"gorm.io/datatypes"

	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/services"
)

// ========== Alert Types ==========

// SubmitAlertRequest is the request body for POST /api/alerts.
type SubmitAlertRequest struct {
	DeviceID           string     `json:"device_id" validate:"required,max=255"`
	Metric             string     `json:"metric" validate:"required,max=255"`
	Severity           string     `json:"severity" validate:"required,oneof=critical high medium low info"`
	Message            string     `json:"message"`
	OccurredAt         *time.Time `json:"occurred_at"`
	EscalationPolicyID *uint      `json:"escalation_policy_id"`
}

// TransitionRequest is the request body for POST /api/alerts/{id}/transitions.
// Actor is only honoured when authentication is disabled.
type TransitionRequest struct {
	State    string                 `json:"state" validate:"required,oneof=new acknowledged investigating resolved"`
	Notes    string                 `json:"notes"`
	Metadata map[string]interface{} `json:"metadata"`
	Actor    string                 `json:"actor" validate:"max=128"`
}

// MergeAlertRequest is the request body for POST /api/alerts/{id}/merge.
type MergeAlertRequest struct {
	CanonicalAlertID uint   `json:"canonical_alert_id" validate:"required"`
	Reason           string `json:"reason"`
	Actor            string `json:"actor" validate:"max=128"`
}

// AlertDetailResponse is the response body for GET /api/alerts/{id}.
type AlertDetailResponse struct {
	services.AlertStatus
	Merges []database.AlertMerge `json:"merges"`
}

// ========== Escalation Policy Types ==========

// TierRequest is one tier in a policy request.
type TierRequest struct {
	TierNumber   int      `json:"tier_number" validate:"gte=1"`
	DelayMinutes int      `json:"delay_minutes" validate:"gte=0"`
	Targets      []string `json:"targets" validate:"required,min=1,dive,required"`
	Channels     []string `json:"channels" validate:"required,min=1,dive,required"`
}

// PolicyRequest is the request body for POST/PUT /api/escalation-policies.
type PolicyRequest struct {
	Name        string        `json:"name" validate:"required,max=128"`
	Description string        `json:"description"`
	Severities  []string      `json:"severities" validate:"required,min=1,dive,oneof=critical high medium low info"`
	Tiers       []TierRequest `json:"tiers" validate:"required,min=1,dive"`
	Enabled     *bool         `json:"enabled"`
}

// ========== On-Call Types ==========

// ScheduleRequest is the request body for POST/PUT /api/schedules.
type ScheduleRequest struct {
	Name          string                   `json:"name" validate:"required,max=128"`
	RotationType  string                   `json:"rotation_type" validate:"required,oneof=weekly daily"`
	Timezone      string                   `json:"timezone"`
	RotationStart time.Time                `json:"rotation_start" validate:"required"`
	Entries       []database.RotationEntry `json:"entries" validate:"required,min=1"`
	Enabled       *bool                    `json:"enabled"`
}

// OverrideRequest is the request body for POST /api/schedules/{id}/overrides.
type OverrideRequest struct {
	UserID   string    `json:"user_id" validate:"required,max=128"`
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
	Reason   string    `json:"reason"`
}

// OnCallResponse is the response body for GET /api/schedules/{id}/oncall.
type OnCallResponse struct {
	ScheduleID uint      `json:"schedule_id"`
	At         time.Time `json:"at"`
	Users      []string  `json:"users"`
}

// ========== Contact Types ==========

// ContactRequest is the request body for POST /api/contacts.
type ContactRequest struct {
	UserID      string `json:"user_id" validate:"required,max=128"`
	Name        string `json:"name"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"max=64"`
	SlackUserID string `json:"slack_user_id" validate:"max=64"`
}

// ========== Alert Source Types ==========

// CreateAlertSourceRequest is the request body for POST /api/alert-sources.
type CreateAlertSourceRequest struct {
	SourceType    string            `json:"source_type" validate:"required,oneof=alertmanager grafana zabbix datadog"`
	Name          string            `json:"name" validate:"required,min=1,max=128"`
	Description   string            `json:"description"`
	WebhookSecret string            `json:"webhook_secret"`
	FieldMappings datatypes.JSONMap `json:"field_mappings"`
}

// CreateAlertSourceResponse includes the webhook path the source should post to.
type CreateAlertSourceResponse struct {
	database.AlertSourceInstance
	WebhookPath string `json:"webhook_path"`
}

// WebhookResponse summarizes what a webhook delivery did.
type WebhookResponse struct {
	Received int      `json:"received"`
	Created  int      `json:"created"`
	Grouped  int      `json:"grouped"`
	Resolved int      `json:"resolved"`
	Errors   []string `json:"errors,omitempty"`
}

// ========== Settings Types ==========

// UpdateSettingsRequest is the request body for PUT /api/settings.
type UpdateSettingsRequest struct {
	EscalationEnabled    *bool `json:"escalation_enabled"`
	GroupingEnabled      *bool `json:"grouping_enabled"`
	GroupWindowMinutes   *int  `json:"group_window_minutes" validate:"omitempty,gte=1"`
	ReaperEnabled        *bool `json:"reaper_enabled"`
	NotificationsEnabled *bool `json:"notifications_enabled"`
}

// ========== Auth Types ==========

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the response body for POST /auth/login.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// UpdateAlertSourceRequest is the request body for PUT /api/alert-sources/{uuid}.
type UpdateAlertSourceRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

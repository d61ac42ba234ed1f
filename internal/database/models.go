package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Severity is the normalized alert severity
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ValidSeverities returns all severities, most urgent first
func ValidSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// IsValid reports whether s is one of the five known severities
func (s Severity) IsValid() bool {
	for _, v := range ValidSeverities() {
		if s == v {
			return true
		}
	}
	return false
}

// AlertState is a lifecycle state recorded in the event log
type AlertState string

const (
	AlertStateNew           AlertState = "new"
	AlertStateAcknowledged  AlertState = "acknowledged"
	AlertStateInvestigating AlertState = "investigating"
	AlertStateResolved      AlertState = "resolved"

	// AlertStateUnknown is returned when an alert has no events at all.
	AlertStateUnknown AlertState = "unknown"
)

// ValidAlertStates returns the states an event may carry
func ValidAlertStates() []AlertState {
	return []AlertState{AlertStateNew, AlertStateAcknowledged, AlertStateInvestigating, AlertStateResolved}
}

// IsValid reports whether s can be stored on an event
func (s AlertState) IsValid() bool {
	for _, v := range ValidAlertStates() {
		if s == v {
			return true
		}
	}
	return false
}

// Escalating reports whether alerts in this state are still eligible for escalation
func (s AlertState) Escalating() bool {
	return s == AlertStateNew || s == AlertStateInvestigating
}

// Alert is a logical incident. Its state lives in AlertStateEvent rows.
type Alert struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UUID                  string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	DeviceID              string     `gorm:"size:255;not null;index:idx_alerts_device_metric" json:"device_id"`
	Metric                string     `gorm:"size:255;not null;index:idx_alerts_device_metric" json:"metric"`
	Severity              Severity   `gorm:"type:varchar(20);not null;index" json:"severity"`
	Message               string     `gorm:"type:text" json:"message"`
	Source                string     `gorm:"size:64" json:"source,omitempty"`
	EscalationPolicyID    *uint      `gorm:"index" json:"escalation_policy_id,omitempty"`
	CurrentEscalationTier int        `gorm:"not null;default:0" json:"current_escalation_tier"`
	LastEscalationAt      *time.Time `json:"last_escalation_at,omitempty"`
	EscalationStoppedAt   *time.Time `gorm:"index" json:"escalation_stopped_at,omitempty"`
	GroupedInto           *uint      `gorm:"index" json:"grouped_into,omitempty"`
	DuplicateCount        int        `gorm:"not null;default:1" json:"duplicate_count"`
	CreatedAt             time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`

	SLA    *AlertSLA         `gorm:"foreignKey:AlertID;constraint:OnDelete:CASCADE" json:"sla,omitempty"`
	Events []AlertStateEvent `gorm:"foreignKey:AlertID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Alert) TableName() string {
	return "alerts"
}

// BeforeCreate assigns a UUID when the caller did not
func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.DuplicateCount == 0 {
		a.DuplicateCount = 1
	}
	return nil
}

// IsMerged reports whether the alert has been folded into a canonical alert
func (a *Alert) IsMerged() bool {
	return a.GroupedInto != nil
}

// AlertStateEvent is an immutable entry in an alert's state history.
// Sequence is per alert and unique, so two writers that read the same
// current state cannot both append.
type AlertStateEvent struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	AlertID   uint              `gorm:"not null;uniqueIndex:idx_alert_event_seq,priority:1" json:"alert_id"`
	Sequence  int               `gorm:"not null;uniqueIndex:idx_alert_event_seq,priority:2" json:"sequence"`
	State     AlertState        `gorm:"type:varchar(20);not null" json:"state"`
	Actor     *string           `gorm:"size:128" json:"actor"`
	Timestamp time.Time         `gorm:"not null;index" json:"timestamp"`
	Notes     string            `gorm:"type:text" json:"notes,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
}

func (AlertStateEvent) TableName() string {
	return "alert_state_events"
}

// AlertSLA holds response targets and actuals for one alert
type AlertSLA struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AlertID          uint       `gorm:"uniqueIndex;not null" json:"alert_id"`
	Severity         Severity   `gorm:"type:varchar(20);not null;index" json:"severity"`
	TTATargetMinutes int        `gorm:"not null" json:"tta_target_minutes"`
	TTRTargetMinutes int        `gorm:"not null" json:"ttr_target_minutes"`
	TTAActualMinutes *float64   `json:"tta_actual_minutes"`
	TTRActualMinutes *float64   `json:"ttr_actual_minutes"`
	TTABreached      bool       `gorm:"not null;default:false" json:"tta_breached"`
	TTRBreached      bool       `gorm:"not null;default:false" json:"ttr_breached"`
	CreatedAt        time.Time  `gorm:"not null;index" json:"created_at"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at"`
	ResolvedAt       *time.Time `json:"resolved_at"`
}

func (AlertSLA) TableName() string {
	return "alert_slas"
}

// EscalationTier is one step of an escalation policy. DelayMinutes counts
// from alert creation, not from the previous tier.
type EscalationTier struct {
	TierNumber   int      `json:"tier_number" yaml:"tier_number"`
	DelayMinutes int      `json:"delay_minutes" yaml:"delay_minutes"`
	Targets      []string `json:"targets" yaml:"targets"`
	Channels     []string `json:"channels" yaml:"channels"`
}

// EscalationPolicy is a named, reusable chain of tiers
type EscalationPolicy struct {
	ID          uint                                `gorm:"primaryKey" json:"id"`
	Name        string                              `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Description string                              `gorm:"type:text" json:"description"`
	Tiers       datatypes.JSONSlice[EscalationTier] `json:"tiers"`
	Severities  datatypes.JSONSlice[Severity]       `json:"severities"`
	Enabled     bool                                `gorm:"not null" json:"enabled"`
	CreatedAt   time.Time                           `json:"created_at"`
	UpdatedAt   time.Time                           `json:"updated_at"`
}

func (EscalationPolicy) TableName() string {
	return "escalation_policies"
}

// AppliesTo reports whether the policy lists the given severity
func (p *EscalationPolicy) AppliesTo(sev Severity) bool {
	for _, s := range p.Severities {
		if s == sev {
			return true
		}
	}
	return false
}

// RotationType controls how long each rotation entry is on duty
type RotationType string

const (
	RotationWeekly RotationType = "weekly"
	RotationDaily  RotationType = "daily"
)

// RotationEntry is one slot of a rotation. More than one user means parallel on-call.
type RotationEntry struct {
	Users []string `json:"users" yaml:"users"`
}

// OnCallSchedule maps instants to on-duty users
type OnCallSchedule struct {
	ID            uint                               `gorm:"primaryKey" json:"id"`
	Name          string                             `gorm:"uniqueIndex;size:128;not null" json:"name"`
	RotationType  RotationType                       `gorm:"type:varchar(20);not null" json:"rotation_type"`
	Timezone      string                             `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	RotationStart time.Time                          `gorm:"not null" json:"rotation_start"`
	Entries       datatypes.JSONSlice[RotationEntry] `json:"entries"`
	Enabled       bool                               `gorm:"not null" json:"enabled"`
	CreatedAt     time.Time                          `json:"created_at"`
	UpdatedAt     time.Time                          `json:"updated_at"`

	Overrides []OnCallOverride `gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE" json:"overrides,omitempty"`
}

func (OnCallSchedule) TableName() string {
	return "oncall_schedules"
}

// OnCallOverride replaces the base rotation for [StartsAt, EndsAt)
type OnCallOverride struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ScheduleID uint      `gorm:"not null;index" json:"schedule_id"`
	UserID     string    `gorm:"size:128;not null" json:"user_id"`
	StartsAt   time.Time `gorm:"not null;index" json:"starts_at"`
	EndsAt     time.Time `gorm:"not null" json:"ends_at"`
	Reason     string    `gorm:"type:text" json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

func (OnCallOverride) TableName() string {
	return "oncall_overrides"
}

// Covers reports whether the override is in effect at the given instant
func (o *OnCallOverride) Covers(at time.Time) bool {
	return !at.Before(o.StartsAt) && at.Before(o.EndsAt)
}

// GroupStatus is the lifecycle of an alert group
type GroupStatus string

const (
	GroupStatusActive GroupStatus = "active"
	GroupStatusClosed GroupStatus = "closed"
)

// AlertGroup collapses repeated occurrences of one key into a canonical alert.
// ActiveKey mirrors GroupKey while the group is active and is NULL once closed,
// so the unique index allows only one active group per key.
type AlertGroup struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	GroupKey         string      `gorm:"size:600;not null;index" json:"group_key"`
	ActiveKey        *string     `gorm:"size:600;uniqueIndex" json:"-"`
	DeviceID         string      `gorm:"size:255;not null" json:"device_id"`
	Metric           string      `gorm:"size:255;not null" json:"metric"`
	Severity         Severity    `gorm:"type:varchar(20);not null" json:"severity"`
	FirstOccurrence  time.Time   `gorm:"not null" json:"first_occurrence"`
	LastOccurrence   time.Time   `gorm:"not null;index" json:"last_occurrence"`
	OccurrenceCount  int         `gorm:"not null;default:1" json:"occurrence_count"`
	Status           GroupStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	CanonicalAlertID uint        `gorm:"not null;index" json:"canonical_alert_id"`
	ClosedAt         *time.Time  `json:"closed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func (AlertGroup) TableName() string {
	return "alert_groups"
}

// GroupKeyFor builds the dedup key for a device, metric and severity
func GroupKeyFor(deviceID, metric string, severity Severity) string {
	return deviceID + "|" + metric + "|" + string(severity)
}

// AlertMerge is the audit trail for a duplicate alert folded into a canonical one
type AlertMerge struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	DuplicateAlertID uint      `gorm:"not null;index" json:"duplicate_alert_id"`
	CanonicalAlertID uint      `gorm:"not null;index" json:"canonical_alert_id"`
	Reason           string    `gorm:"type:text" json:"reason"`
	MergedBy         string    `gorm:"type:varchar(128);not null" json:"merged_by"` // 'system' or a user ID
	CreatedAt        time.Time `json:"created_at"`
}

func (AlertMerge) TableName() string {
	return "alert_merges"
}

// Contact holds the delivery addresses for a user ID used in policies and schedules
type Contact struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"uniqueIndex;size:128;not null" json:"user_id"`
	Name        string    `gorm:"size:255" json:"name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:64" json:"phone"`
	SlackUserID string    `gorm:"size:64" json:"slack_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// NotificationStatus is the delivery outcome of a notification attempt
type NotificationStatus string

const (
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationSkipped NotificationStatus = "skipped"
)

// NotificationLog records each dispatch attempt made by the escalation engine
type NotificationLog struct {
	ID         uint               `gorm:"primaryKey" json:"id"`
	AlertID    uint               `gorm:"not null;index" json:"alert_id"`
	TierNumber int                `gorm:"not null" json:"tier_number"`
	Channel    string             `gorm:"size:128;not null" json:"channel"`
	Recipient  string             `gorm:"size:255" json:"recipient"`
	Status     NotificationStatus `gorm:"type:varchar(20);not null" json:"status"`
	Error      string             `gorm:"type:text" json:"error,omitempty"`
	SentAt     time.Time          `gorm:"not null" json:"sent_at"`
}

func (NotificationLog) TableName() string {
	return "notification_logs"
}

// AlertSourceInstance is a configured inbound webhook
type AlertSourceInstance struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	UUID          string            `gorm:"uniqueIndex;size:36;not null" json:"uuid"` // UUID for webhook URL
	SourceType    string            `gorm:"size:64;not null;index" json:"source_type"` // alertmanager, grafana, zabbix, datadog
	Name          string            `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Description   string            `gorm:"type:text" json:"description"`
	WebhookSecret string            `gorm:"type:text" json:"-"`
	FieldMappings datatypes.JSONMap `json:"field_mappings"`
	Enabled       bool              `gorm:"not null" json:"enabled"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (AlertSourceInstance) TableName() string {
	return "alert_source_instances"
}

// BeforeCreate assigns a UUID when the caller did not
func (a *AlertSourceInstance) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	return nil
}

// GetWebhookURL returns the webhook URL for this instance
func (a *AlertSourceInstance) GetWebhookURL(baseURL string) string {
	return baseURL + "/webhook/alert/" + a.UUID
}

// GetSeverityEmoji returns a Slack emoji for the alert severity
func GetSeverityEmoji(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return ":red_circle:"
	case SeverityHigh:
		return ":large_orange_circle:"
	case SeverityMedium:
		return ":large_yellow_circle:"
	case SeverityLow:
		return ":large_green_circle:"
	case SeverityInfo:
		return ":large_blue_circle:"
	default:
		return ":white_circle:"
	}
}

package testhelpers

import (
	"time"

	"gorm.io/datatypes"

	"github.com/akmatori/alertflow/internal/database"
)

// ========================================
// Escalation Policy Builder
// ========================================

// PolicyBuilder builds EscalationPolicy instances for testing
type PolicyBuilder struct {
	policy database.EscalationPolicy
}

// NewPolicyBuilder creates a policy for critical alerts with no tiers yet
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{
		policy: database.EscalationPolicy{
			Name:       "test-policy",
			Severities: datatypes.JSONSlice[database.Severity]{database.SeverityCritical},
			Enabled:    true,
		},
	}
}

// WithName sets the policy name
func (b *PolicyBuilder) WithName(name string) *PolicyBuilder {
	b.policy.Name = name
	return b
}

// ForSeverities replaces the applicable severities
func (b *PolicyBuilder) ForSeverities(sevs ...database.Severity) *PolicyBuilder {
	b.policy.Severities = sevs
	return b
}

// WithTier appends a tier
func (b *PolicyBuilder) WithTier(number, delayMinutes int, targets []string, channels ...string) *PolicyBuilder {
	b.policy.Tiers = append(b.policy.Tiers, database.EscalationTier{
		TierNumber:   number,
		DelayMinutes: delayMinutes,
		Targets:      targets,
		Channels:     channels,
	})
	return b
}

// Disabled marks the policy as disabled
func (b *PolicyBuilder) Disabled() *PolicyBuilder {
	b.policy.Enabled = false
	return b
}

// Build returns the constructed policy
func (b *PolicyBuilder) Build() database.EscalationPolicy {
	return b.policy
}

// ========================================
// On-Call Schedule Builder
// ========================================

// ScheduleBuilder builds OnCallSchedule instances for testing
type ScheduleBuilder struct {
	schedule database.OnCallSchedule
}

// NewScheduleBuilder creates an enabled weekly UTC schedule anchored at 2024-01-01
func NewScheduleBuilder() *ScheduleBuilder {
	return &ScheduleBuilder{
		schedule: database.OnCallSchedule{
			Name:          "test-schedule",
			RotationType:  database.RotationWeekly,
			Timezone:      "UTC",
			RotationStart: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
			Enabled:       true,
		},
	}
}

// WithName sets the schedule name
func (b *ScheduleBuilder) WithName(name string) *ScheduleBuilder {
	b.schedule.Name = name
	return b
}

// Daily switches to a daily rotation
func (b *ScheduleBuilder) Daily() *ScheduleBuilder {
	b.schedule.RotationType = database.RotationDaily
	return b
}

// InTimezone sets the IANA timezone
func (b *ScheduleBuilder) InTimezone(tz string) *ScheduleBuilder {
	b.schedule.Timezone = tz
	return b
}

// StartingAt sets the rotation anchor
func (b *ScheduleBuilder) StartingAt(t time.Time) *ScheduleBuilder {
	b.schedule.RotationStart = t
	return b
}

// WithUsers appends one rotation entry per user
func (b *ScheduleBuilder) WithUsers(users ...string) *ScheduleBuilder {
	for _, u := range users {
		b.schedule.Entries = append(b.schedule.Entries, database.RotationEntry{Users: []string{u}})
	}
	return b
}

// WithEntry appends one rotation entry with parallel users
func (b *ScheduleBuilder) WithEntry(users ...string) *ScheduleBuilder {
	b.schedule.Entries = append(b.schedule.Entries, database.RotationEntry{Users: users})
	return b
}

// Disabled marks the schedule as disabled
func (b *ScheduleBuilder) Disabled() *ScheduleBuilder {
	b.schedule.Enabled = false
	return b
}

// Build returns the constructed schedule
func (b *ScheduleBuilder) Build() database.OnCallSchedule {
	return b.schedule
}

// ========================================
// Alert Source Instance Builder
// ========================================

// AlertSourceInstanceBuilder builds AlertSourceInstance instances for testing
type AlertSourceInstanceBuilder struct {
	instance database.AlertSourceInstance
}

// NewAlertSourceInstanceBuilder creates a new alert source instance builder
func NewAlertSourceInstanceBuilder() *AlertSourceInstanceBuilder {
	return &AlertSourceInstanceBuilder{
		instance: database.AlertSourceInstance{
			UUID:       "test-uuid-12345",
			SourceType: "alertmanager",
			Name:       "test-source",
			Enabled:    true,
		},
	}
}

// WithUUID sets the UUID
func (b *AlertSourceInstanceBuilder) WithUUID(uuid string) *AlertSourceInstanceBuilder {
	b.instance.UUID = uuid
	return b
}

// WithSourceType sets the adapter type
func (b *AlertSourceInstanceBuilder) WithSourceType(sourceType string) *AlertSourceInstanceBuilder {
	b.instance.SourceType = sourceType
	return b
}

// WithName sets the name
func (b *AlertSourceInstanceBuilder) WithName(name string) *AlertSourceInstanceBuilder {
	b.instance.Name = name
	return b
}

// WithWebhookSecret sets the webhook secret
func (b *AlertSourceInstanceBuilder) WithWebhookSecret(secret string) *AlertSourceInstanceBuilder {
	b.instance.WebhookSecret = secret
	return b
}

// WithFieldMappings sets field mappings
func (b *AlertSourceInstanceBuilder) WithFieldMappings(mappings datatypes.JSONMap) *AlertSourceInstanceBuilder {
	b.instance.FieldMappings = mappings
	return b
}

// Disabled disables the instance
func (b *AlertSourceInstanceBuilder) Disabled() *AlertSourceInstanceBuilder {
	b.instance.Enabled = false
	return b
}

// Build returns the constructed alert source instance
func (b *AlertSourceInstanceBuilder) Build() database.AlertSourceInstance {
	return b.instance
}

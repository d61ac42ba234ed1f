package api

import (
	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/services"
)

// RawAlertFromRequest converts a submit request into a raw occurrence.
func RawAlertFromRequest(req SubmitAlertRequest, source string) services.RawAlert {
	raw := services.RawAlert{
		DeviceID:           req.DeviceID,
		Metric:             req.Metric,
		Severity:           database.Severity(req.Severity),
		Message:            req.Message,
		Source:             source,
		EscalationPolicyID: req.EscalationPolicyID,
	}
	if req.OccurredAt != nil {
		raw.OccurredAt = req.OccurredAt.UTC()
	}
	return raw
}

// PolicyFromRequest converts a policy request to a model. Enabled defaults to true.
func PolicyFromRequest(req PolicyRequest) database.EscalationPolicy {
	p := database.EscalationPolicy{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	for _, sev := range req.Severities {
		p.Severities = append(p.Severities, database.Severity(sev))
	}
	for _, t := range req.Tiers {
		p.Tiers = append(p.Tiers, database.EscalationTier{
			TierNumber:   t.TierNumber,
			DelayMinutes: t.DelayMinutes,
			Targets:      t.Targets,
			Channels:     t.Channels,
		})
	}
	return p
}

// ScheduleFromRequest converts a schedule request to a model. Enabled defaults to true.
func ScheduleFromRequest(req ScheduleRequest) database.OnCallSchedule {
	return database.OnCallSchedule{
		Name:          req.Name,
		RotationType:  database.RotationType(req.RotationType),
		Timezone:      req.Timezone,
		RotationStart: req.RotationStart.UTC(),
		Entries:       req.Entries,
		Enabled:       req.Enabled == nil || *req.Enabled,
	}
}

// OverrideFromRequest converts an override request to a model.
func OverrideFromRequest(req OverrideRequest) database.OnCallOverride {
	return database.OnCallOverride{
		UserID:   req.UserID,
		StartsAt: req.StartsAt.UTC(),
		EndsAt:   req.EndsAt.UTC(),
		Reason:   req.Reason,
	}
}

// ContactFromRequest converts a contact request to a model.
func ContactFromRequest(req ContactRequest) database.Contact {
	return database.Contact{
		UserID:      req.UserID,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		SlackUserID: req.SlackUserID,
	}
}

// ApplySettings copies the fields present in req onto s.
func ApplySettings(s *database.EngineSettings, req UpdateSettingsRequest) {
	if req.EscalationEnabled != nil {
		s.EscalationEnabled = *req.EscalationEnabled
	}
	if req.GroupingEnabled != nil {
		s.GroupingEnabled = *req.GroupingEnabled
	}
	if req.GroupWindowMinutes != nil {
		s.GroupWindowMinutes = *req.GroupWindowMinutes
	}
	if req.ReaperEnabled != nil {
		s.ReaperEnabled = *req.ReaperEnabled
	}
	if req.NotificationsEnabled != nil {
		s.NotificationsEnabled = *req.NotificationsEnabled
	}
}

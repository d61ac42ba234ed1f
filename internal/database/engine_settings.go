package database

import "time"

// EngineSettings holds runtime-tunable engine behavior (singleton row)
type EngineSettings struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	EscalationEnabled    bool      `gorm:"default:true" json:"escalation_enabled"`
	GroupingEnabled      bool      `gorm:"default:true" json:"grouping_enabled"`
	GroupWindowMinutes   int       `gorm:"default:5" json:"group_window_minutes"`
	ReaperEnabled        bool      `gorm:"default:true" json:"reaper_enabled"`
	NotificationsEnabled bool      `gorm:"default:true" json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (EngineSettings) TableName() string {
	return "engine_settings"
}

// NewDefaultEngineSettings returns settings with default values
func NewDefaultEngineSettings() *EngineSettings {
	return &EngineSettings{
		EscalationEnabled:    true,
		GroupingEnabled:      true,
		GroupWindowMinutes:   5,
		ReaperEnabled:        true,
		NotificationsEnabled: true,
	}
}

// GroupWindow returns the grouping window as a duration
func (s *EngineSettings) GroupWindow() time.Duration {
	if s.GroupWindowMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.GroupWindowMinutes) * time.Minute
}

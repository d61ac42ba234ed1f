package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/akmatori/alertflow/internal/database"
)

// SourceTypes lists the webhook adapters an instance may use
var SourceTypes = []string{"alertmanager", "grafana", "zabbix", "datadog"}

// AlertSourceService manages webhook alert source instances
type AlertSourceService struct {
	db *gorm.DB
}

// NewAlertSourceService creates a new AlertSourceService
func NewAlertSourceService(db *gorm.DB) *AlertSourceService {
	return &AlertSourceService{db: db}
}

// ListInstances returns all alert source instances
func (s *AlertSourceService) ListInstances(ctx context.Context) ([]database.AlertSourceInstance, error) {
	var instances []database.AlertSourceInstance
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstanceByUUID retrieves an alert source instance by UUID
func (s *AlertSourceService) GetInstanceByUUID(ctx context.Context, id string) (*database.AlertSourceInstance, error) {
	var instance database.AlertSourceInstance
	if err := s.db.WithContext(ctx).Where("uuid = ?", id).First(&instance).Error; err != nil {
		return nil, notFound(err, "alert source %s", id)
	}
	return &instance, nil
}

// CreateInstance creates a new, enabled alert source instance
func (s *AlertSourceService) CreateInstance(ctx context.Context, sourceType, name, description, webhookSecret string, fieldMappings datatypes.JSONMap) (*database.AlertSourceInstance, error) {
	if !knownSourceType(sourceType) {
		return nil, invalidConfig("unknown alert source type %q (expected one of %s)", sourceType, strings.Join(SourceTypes, ", "))
	}
	if strings.TrimSpace(name) == "" {
		return nil, invalidConfig("alert source name is required")
	}

	instance := &database.AlertSourceInstance{
		UUID:          uuid.New().String(),
		SourceType:    sourceType,
		Name:          name,
		Description:   description,
		WebhookSecret: webhookSecret,
		FieldMappings: fieldMappings,
		Enabled:       true,
	}
	if err := s.db.WithContext(ctx).Create(instance).Error; err != nil {
		return nil, conflict(err, "alert source %q already exists", name)
	}
	return instance, nil
}

// SetEnabled toggles an instance
func (s *AlertSourceService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&database.AlertSourceInstance{}).
		Where("uuid = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert source %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteInstance deletes an alert source instance by UUID
func (s *AlertSourceService) DeleteInstance(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("uuid = ?", id).Delete(&database.AlertSourceInstance{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert source %s: %w", id, ErrNotFound)
	}
	return nil
}

func knownSourceType(t string) bool {
	for _, s := range SourceTypes {
		if s == t {
			return true
		}
	}
	return false
}

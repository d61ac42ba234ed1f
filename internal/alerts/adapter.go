package alerts

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/akmatori/alertflow/internal/database"
)

// ErrInvalidSecret is returned when a webhook carries the wrong secret
var ErrInvalidSecret = errors.New("invalid webhook secret")

// NormalizedAlert is the common occurrence format all adapters produce
type NormalizedAlert struct {
	DeviceID   string
	Metric     string
	Severity   database.Severity
	Message    string
	Resolved   bool
	OccurredAt time.Time

	Labels            map[string]string
	SourceFingerprint string
}

// AlertAdapter defines the interface for source-specific alert parsing
type AlertAdapter interface {
	// GetSourceType returns the source type name (e.g., "alertmanager")
	GetSourceType() string

	// ValidateWebhookSecret validates the incoming webhook using the instance's secret
	ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error

	// ParsePayload parses the raw request body into normalized alerts.
	// A single webhook can carry several alerts (e.g., Alertmanager groups).
	ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]NormalizedAlert, error)

	// GetDefaultMappings returns the default field mappings for this source type
	GetDefaultMappings() datatypes.JSONMap
}

// BaseAdapter provides common functionality for all adapters
type BaseAdapter struct {
	SourceType string
}

// GetSourceType returns the source type name
func (b *BaseAdapter) GetSourceType() string {
	return b.SourceType
}

// CheckSecret compares the first non-empty header against the instance
// secret, accepting a raw value or a Bearer token. No secret configured
// means every request is accepted.
func CheckSecret(r *http.Request, instance *database.AlertSourceInstance, headers ...string) error {
	if instance.WebhookSecret == "" {
		return nil
	}
	var got string
	for _, h := range headers {
		if got = r.Header.Get(h); got != "" {
			break
		}
	}
	got = strings.TrimPrefix(got, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(instance.WebhookSecret)) != 1 {
		return ErrInvalidSecret
	}
	return nil
}

// ExtractNestedValue extracts a value using dot notation (e.g., "labels.instance")
func ExtractNestedValue(data map[string]interface{}, path string) interface{} {
	if path == "" {
		return nil
	}

	parts := strings.Split(path, ".")
	current := interface{}(data)

	for _, part := range parts {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[part]
		case map[string]string:
			current = v[part]
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}

	return current
}

// ExtractString extracts a string value using dot notation
func ExtractString(data map[string]interface{}, path string) string {
	if s, ok := ExtractNestedValue(data, path).(string); ok {
		return s
	}
	return ""
}

// MergeMappings merges instance-specific mappings over defaults
func MergeMappings(defaults, overrides datatypes.JSONMap) datatypes.JSONMap {
	result := make(datatypes.JSONMap, len(defaults)+len(overrides))
	for k, v := range defaults {
		result[k] = v
	}
	for k, v := range overrides {
		result[k] = v
	}
	return result
}

// Mapped resolves a mapped field, falling back when the path yields nothing
func Mapped(data map[string]interface{}, mappings datatypes.JSONMap, field, fallback string) string {
	if path, ok := mappings[field].(string); ok {
		if v := ExtractString(data, path); v != "" {
			return v
		}
	}
	return fallback
}

// severityAliases maps lowercase source severities onto engine severities
var severityAliases = map[string]database.Severity{
	"critical":      database.SeverityCritical,
	"disaster":      database.SeverityCritical,
	"emergency":     database.SeverityCritical,
	"fatal":         database.SeverityCritical,
	"p1":            database.SeverityCritical,
	"high":          database.SeverityHigh,
	"major":         database.SeverityHigh,
	"error":         database.SeverityHigh,
	"severe":        database.SeverityHigh,
	"p2":            database.SeverityHigh,
	"medium":        database.SeverityMedium,
	"warning":       database.SeverityMedium,
	"warn":          database.SeverityMedium,
	"average":       database.SeverityMedium,
	"minor":         database.SeverityMedium,
	"p3":            database.SeverityMedium,
	"low":           database.SeverityLow,
	"notice":        database.SeverityLow,
	"p4":            database.SeverityLow,
	"info":          database.SeverityInfo,
	"informational": database.SeverityInfo,
	"debug":         database.SeverityInfo,
	"ok":            database.SeverityInfo,
	"p5":            database.SeverityInfo,
}

// NormalizeSeverity maps a source severity string onto the engine's
// five levels. Unknown values become medium.
func NormalizeSeverity(severity string) database.Severity {
	if s, ok := severityAliases[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return s
	}
	return database.SeverityMedium
}

// IsResolvedStatus reports whether a source status string means the condition cleared
func IsResolvedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "resolved", "ok", "recovery", "recovered", "inactive", "normal":
		return true
	default:
		return false
	}
}

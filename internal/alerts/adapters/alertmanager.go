package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gorm.io/datatypes"

	"github.com/akmatori/alertflow/internal/alerts"
	"github.com/akmatori/alertflow/internal/database"
)

// AlertmanagerAdapter handles Prometheus Alertmanager webhooks
type AlertmanagerAdapter struct {
	alerts.BaseAdapter
}

// NewAlertmanagerAdapter creates a new Alertmanager adapter
func NewAlertmanagerAdapter() *AlertmanagerAdapter {
	return &AlertmanagerAdapter{
		BaseAdapter: alerts.BaseAdapter{SourceType: "alertmanager"},
	}
}

// AlertmanagerPayload represents the webhook payload from Alertmanager
type AlertmanagerPayload struct {
	Alerts            []AlertmanagerAlert `json:"alerts"`
	Status            string              `json:"status"`
	GroupLabels       map[string]string   `json:"groupLabels"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
}

// AlertmanagerAlert represents a single alert in the payload
type AlertmanagerAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// ValidateWebhookSecret validates the webhook secret header
func (a *AlertmanagerAdapter) ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error {
	return alerts.CheckSecret(r, instance, "X-Alertmanager-Secret", "Authorization")
}

// ParsePayload parses Alertmanager webhook payload into normalized alerts
func (a *AlertmanagerAdapter) ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]alerts.NormalizedAlert, error) {
	var payload AlertmanagerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse alertmanager payload: %w", err)
	}

	mappings := alerts.MergeMappings(a.GetDefaultMappings(), instance.FieldMappings)

	normalized := make([]alerts.NormalizedAlert, 0, len(payload.Alerts))
	for _, alert := range payload.Alerts {
		normalized = append(normalized, a.parseAlert(alert, mappings))
	}
	return normalized, nil
}

func (a *AlertmanagerAdapter) parseAlert(alert AlertmanagerAlert, mappings datatypes.JSONMap) alerts.NormalizedAlert {
	alertMap := map[string]interface{}{
		"status":       alert.Status,
		"labels":       alert.Labels,
		"annotations":  alert.Annotations,
		"generatorURL": alert.GeneratorURL,
		"fingerprint":  alert.Fingerprint,
	}

	message := alerts.Mapped(alertMap, mappings, "message", alert.Annotations["description"])
	resolved := alerts.IsResolvedStatus(alert.Status)

	occurredAt := alert.StartsAt
	if resolved && !alert.EndsAt.IsZero() {
		occurredAt = alert.EndsAt
	}

	return alerts.NormalizedAlert{
		DeviceID:          alerts.Mapped(alertMap, mappings, "device_id", alert.Labels["job"]),
		Metric:            alerts.Mapped(alertMap, mappings, "metric", "unknown"),
		Severity:          alerts.NormalizeSeverity(alerts.Mapped(alertMap, mappings, "severity", "")),
		Message:           message,
		Resolved:          resolved,
		OccurredAt:        occurredAt,
		Labels:            alert.Labels,
		SourceFingerprint: alert.Fingerprint,
	}
}

// GetDefaultMappings returns the default field mappings for Alertmanager
func (a *AlertmanagerAdapter) GetDefaultMappings() datatypes.JSONMap {
	return datatypes.JSONMap{
		"device_id": "labels.instance",
		"metric":    "labels.alertname",
		"severity":  "labels.severity",
		"message":   "annotations.summary",
	}
}

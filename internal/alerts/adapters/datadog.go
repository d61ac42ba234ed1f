package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/akmatori/alertflow/internal/alerts"
	"github.com/akmatori/alertflow/internal/database"
)

// DatadogAdapter handles Datadog webhooks
type DatadogAdapter struct {
	alerts.BaseAdapter
}

// NewDatadogAdapter creates a new Datadog adapter
func NewDatadogAdapter() *DatadogAdapter {
	return &DatadogAdapter{
		BaseAdapter: alerts.BaseAdapter{SourceType: "datadog"},
	}
}

// DatadogPayload represents the webhook payload from Datadog
type DatadogPayload struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Body          string   `json:"body"`
	AlertType     string   `json:"alert_type"` // error, warning, info, success
	Priority      string   `json:"priority"`   // normal, low
	AlertID       string   `json:"alert_id"`
	AlertTitle    string   `json:"alert_title"`
	AlertStatus   string   `json:"alert_status"` // Triggered, Recovered, etc.
	Hostname      string   `json:"hostname"`
	Date          int64    `json:"date"`
	Tags          []string `json:"tags"`
	AlertCycleKey string   `json:"alert_cycle_key"`
	AlertMetric   string   `json:"alert_metric"`
}

// ValidateWebhookSecret validates the Datadog webhook secret
func (a *DatadogAdapter) ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error {
	return alerts.CheckSecret(r, instance, "X-Datadog-Signature", "DD-API-KEY", "Authorization")
}

// ParsePayload parses Datadog webhook payload into a normalized alert
func (a *DatadogAdapter) ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]alerts.NormalizedAlert, error) {
	var payload DatadogPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse datadog payload: %w", err)
	}

	mappings := alerts.MergeMappings(a.GetDefaultMappings(), instance.FieldMappings)
	return []alerts.NormalizedAlert{a.parseAlert(payload, mappings)}, nil
}

func (a *DatadogAdapter) parseAlert(payload DatadogPayload, mappings datatypes.JSONMap) alerts.NormalizedAlert {
	tags := a.parseTags(payload.Tags)
	payloadMap := map[string]interface{}{
		"id":           payload.ID,
		"title":        payload.Title,
		"body":         payload.Body,
		"alert_type":   payload.AlertType,
		"priority":     payload.Priority,
		"alert_id":     payload.AlertID,
		"alert_title":  payload.AlertTitle,
		"alert_status": payload.AlertStatus,
		"hostname":     payload.Hostname,
		"alert_metric": payload.AlertMetric,
		"tags":         tags,
	}

	device := alerts.Mapped(payloadMap, mappings, "device_id", tags["host"])
	if device == "" {
		device = "datadog"
	}
	metric := payload.AlertTitle
	if metric == "" {
		metric = payload.Title
	}

	var occurredAt time.Time
	if payload.Date > 0 {
		// Datadog sends epoch milliseconds
		occurredAt = time.UnixMilli(payload.Date).UTC()
	}

	return alerts.NormalizedAlert{
		DeviceID:          device,
		Metric:            alerts.Mapped(payloadMap, mappings, "metric", metric),
		Severity:          a.mapAlertTypeToSeverity(payload.AlertType, payload.Priority),
		Message:           alerts.Mapped(payloadMap, mappings, "message", payload.Title),
		Resolved:          a.isRecovered(payload.AlertStatus, payload.AlertType),
		OccurredAt:        occurredAt,
		Labels:            tags,
		SourceFingerprint: payload.AlertCycleKey,
	}
}

// mapAlertTypeToSeverity maps Datadog alert_type to severity, then priority
func (a *DatadogAdapter) mapAlertTypeToSeverity(alertType, priority string) database.Severity {
	switch strings.ToLower(alertType) {
	case "error":
		return database.SeverityCritical
	case "warning":
		return database.SeverityMedium
	case "info", "success":
		return database.SeverityInfo
	}

	switch strings.ToLower(priority) {
	case "normal":
		return database.SeverityMedium
	case "low":
		return database.SeverityLow
	}
	return database.SeverityMedium
}

func (a *DatadogAdapter) isRecovered(alertStatus, alertType string) bool {
	status := strings.ToLower(alertStatus)
	return strings.Contains(status, "recovered") || strings.Contains(status, "resolved") ||
		strings.ToLower(alertType) == "success"
}

// parseTags parses Datadog "key:value" tags into a map
func (a *DatadogAdapter) parseTags(tags []string) map[string]string {
	result := make(map[string]string, len(tags))
	for _, tag := range tags {
		if k, v, ok := strings.Cut(tag, ":"); ok {
			result[k] = v
		} else {
			result[tag] = "true"
		}
	}
	return result
}

// GetDefaultMappings returns the default field mappings for Datadog
func (a *DatadogAdapter) GetDefaultMappings() datatypes.JSONMap {
	return datatypes.JSONMap{
		"device_id": "hostname",
		"metric":    "alert_metric",
		"message":   "body",
	}
}

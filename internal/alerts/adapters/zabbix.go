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

// ZabbixAdapter handles Zabbix webhooks
type ZabbixAdapter struct {
	alerts.BaseAdapter
}

// NewZabbixAdapter creates a new Zabbix adapter
func NewZabbixAdapter() *ZabbixAdapter {
	return &ZabbixAdapter{
		BaseAdapter: alerts.BaseAdapter{SourceType: "zabbix"},
	}
}

// ZabbixPayload represents the webhook payload from Zabbix
type ZabbixPayload struct {
	EventTime         string `json:"event_time"`
	AlertName         string `json:"alert_name"`
	Severity          string `json:"severity"`
	Priority          string `json:"priority"`
	MetricName        string `json:"metric_name"`
	MetricValue       string `json:"metric_value"`
	TriggerExpression string `json:"trigger_expression"`
	EventID           string `json:"event_id"`
	Hardware          string `json:"hardware"`
	EventStatus       string `json:"event_status"`
}

// ValidateWebhookSecret validates the Zabbix webhook secret header
func (a *ZabbixAdapter) ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error {
	return alerts.CheckSecret(r, instance, "X-Zabbix-Secret")
}

// ParsePayload parses Zabbix webhook payload into a normalized alert
func (a *ZabbixAdapter) ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]alerts.NormalizedAlert, error) {
	var payload ZabbixPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse zabbix payload: %w", err)
	}

	mappings := alerts.MergeMappings(a.GetDefaultMappings(), instance.FieldMappings)
	return []alerts.NormalizedAlert{a.parseAlert(payload, mappings)}, nil
}

func (a *ZabbixAdapter) parseAlert(payload ZabbixPayload, mappings datatypes.JSONMap) alerts.NormalizedAlert {
	payloadMap := map[string]interface{}{
		"event_time":         payload.EventTime,
		"alert_name":         payload.AlertName,
		"severity":           payload.Severity,
		"priority":           payload.Priority,
		"metric_name":        payload.MetricName,
		"metric_value":       payload.MetricValue,
		"trigger_expression": payload.TriggerExpression,
		"event_id":           payload.EventID,
		"hardware":           payload.Hardware,
		"event_status":       payload.EventStatus,
	}

	severity := a.mapPriorityToSeverity(payload.Priority)
	if payload.Priority == "" && payload.Severity != "" {
		severity = alerts.NormalizeSeverity(payload.Severity)
	}

	var occurredAt time.Time
	if payload.EventTime != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", payload.EventTime); err == nil {
			occurredAt = t
		} else if t, err := time.Parse(time.RFC3339, payload.EventTime); err == nil {
			occurredAt = t
		}
	}

	message := alerts.Mapped(payloadMap, mappings, "message", payload.TriggerExpression)
	if payload.MetricValue != "" {
		message = fmt.Sprintf("%s (value: %s)", message, payload.MetricValue)
	}

	status := strings.ToUpper(payload.EventStatus)
	return alerts.NormalizedAlert{
		DeviceID:   alerts.Mapped(payloadMap, mappings, "device_id", "zabbix"),
		Metric:     alerts.Mapped(payloadMap, mappings, "metric", payload.AlertName),
		Severity:   severity,
		Message:    message,
		Resolved:   status == "RESOLVED" || status == "OK",
		OccurredAt: occurredAt,
		Labels: map[string]string{
			"trigger_expression": payload.TriggerExpression,
		},
		SourceFingerprint: payload.EventID,
	}
}

// mapPriorityToSeverity maps Zabbix priority (0-5) to severity
func (a *ZabbixAdapter) mapPriorityToSeverity(priority string) database.Severity {
	switch priority {
	case "5": // Disaster
		return database.SeverityCritical
	case "4": // High
		return database.SeverityHigh
	case "3": // Average
		return database.SeverityMedium
	case "2": // Warning
		return database.SeverityLow
	case "1", "0": // Information, not classified
		return database.SeverityInfo
	default:
		return database.SeverityMedium
	}
}

// GetDefaultMappings returns the default field mappings for Zabbix
func (a *ZabbixAdapter) GetDefaultMappings() datatypes.JSONMap {
	return datatypes.JSONMap{
		"device_id": "hardware",
		"metric":    "metric_name",
		"message":   "alert_name",
	}
}

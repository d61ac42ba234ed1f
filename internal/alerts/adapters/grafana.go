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

// GrafanaAdapter handles Grafana alerting webhooks
type GrafanaAdapter struct {
	alerts.BaseAdapter
}

// NewGrafanaAdapter creates a new Grafana adapter
func NewGrafanaAdapter() *GrafanaAdapter {
	return &GrafanaAdapter{
		BaseAdapter: alerts.BaseAdapter{SourceType: "grafana"},
	}
}

// GrafanaPayload represents the webhook payload from Grafana.
// Supports both legacy alerting and unified alerting.
type GrafanaPayload struct {
	// Unified alerting
	Receiver string         `json:"receiver"`
	Status   string         `json:"status"`
	Alerts   []GrafanaAlert `json:"alerts"`

	// Legacy alerting
	RuleName    string             `json:"ruleName"`
	State       string             `json:"state"`
	Message     string             `json:"message"`
	RuleURL     string             `json:"ruleUrl"`
	RuleID      int                `json:"ruleId"`
	Title       string             `json:"title"`
	EvalMatches []GrafanaEvalMatch `json:"evalMatches"`
}

// GrafanaEvalMatch is one series that tripped a legacy rule
type GrafanaEvalMatch struct {
	Value  float64           `json:"value"`
	Metric string            `json:"metric"`
	Tags   map[string]string `json:"tags"`
}

// GrafanaAlert represents a single alert in unified alerting
type GrafanaAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt"`
	Fingerprint  string            `json:"fingerprint"`
	GeneratorURL string            `json:"generatorURL"`
}

// ValidateWebhookSecret validates the Grafana webhook secret header
func (a *GrafanaAdapter) ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error {
	return alerts.CheckSecret(r, instance, "X-Grafana-Secret", "Authorization")
}

// ParsePayload parses Grafana webhook payload into normalized alerts
func (a *GrafanaAdapter) ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]alerts.NormalizedAlert, error) {
	var payload GrafanaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse grafana payload: %w", err)
	}

	mappings := alerts.MergeMappings(a.GetDefaultMappings(), instance.FieldMappings)

	if len(payload.Alerts) == 0 {
		return []alerts.NormalizedAlert{a.parseLegacyAlert(payload)}, nil
	}
	normalized := make([]alerts.NormalizedAlert, 0, len(payload.Alerts))
	for _, alert := range payload.Alerts {
		normalized = append(normalized, a.parseUnifiedAlert(alert, mappings))
	}
	return normalized, nil
}

func (a *GrafanaAdapter) parseUnifiedAlert(alert GrafanaAlert, mappings datatypes.JSONMap) alerts.NormalizedAlert {
	alertMap := map[string]interface{}{
		"status":      alert.Status,
		"labels":      alert.Labels,
		"annotations": alert.Annotations,
		"fingerprint": alert.Fingerprint,
	}

	resolved := alerts.IsResolvedStatus(alert.Status)
	occurredAt := parseGrafanaTime(alert.StartsAt)
	if resolved {
		if ended := parseGrafanaTime(alert.EndsAt); !ended.IsZero() {
			occurredAt = ended
		}
	}

	return alerts.NormalizedAlert{
		DeviceID:          alerts.Mapped(alertMap, mappings, "device_id", alert.Labels["grafana_folder"]),
		Metric:            alerts.Mapped(alertMap, mappings, "metric", "Grafana Alert"),
		Severity:          alerts.NormalizeSeverity(alerts.Mapped(alertMap, mappings, "severity", "")),
		Message:           alerts.Mapped(alertMap, mappings, "message", alert.Annotations["description"]),
		Resolved:          resolved,
		OccurredAt:        occurredAt,
		Labels:            alert.Labels,
		SourceFingerprint: alert.Fingerprint,
	}
}

func (a *GrafanaAdapter) parseLegacyAlert(payload GrafanaPayload) alerts.NormalizedAlert {
	state := strings.ToLower(payload.State)
	resolved := state == "ok" || state == "no_data" || state == "paused"

	labels := make(map[string]string)
	var device, metric string
	if len(payload.EvalMatches) > 0 {
		match := payload.EvalMatches[0]
		device = match.Tags["instance"]
		metric = match.Metric
		for k, v := range match.Tags {
			labels[k] = v
		}
	}
	if device == "" {
		device = "grafana"
	}
	if rule := payload.RuleName; rule != "" {
		metric = rule
	} else if metric == "" {
		metric = payload.Title
	}

	return alerts.NormalizedAlert{
		DeviceID:          device,
		Metric:            metric,
		Severity:          a.mapStateToSeverity(payload.State),
		Message:           payload.Message,
		Resolved:          resolved,
		Labels:            labels,
		SourceFingerprint: fmt.Sprintf("%d", payload.RuleID),
	}
}

// mapStateToSeverity maps a legacy Grafana state to severity
func (a *GrafanaAdapter) mapStateToSeverity(state string) database.Severity {
	switch strings.ToLower(state) {
	case "alerting":
		return database.SeverityCritical
	case "pending":
		return database.SeverityMedium
	case "no_data", "ok", "paused":
		return database.SeverityInfo
	default:
		return database.SeverityMedium
	}
}

func parseGrafanaTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t
}

// GetDefaultMappings returns the default field mappings for Grafana unified alerts
func (a *GrafanaAdapter) GetDefaultMappings() datatypes.JSONMap {
	return datatypes.JSONMap{
		"device_id": "labels.instance",
		"metric":    "labels.alertname",
		"severity":  "labels.severity",
		"message":   "annotations.summary",
	}
}

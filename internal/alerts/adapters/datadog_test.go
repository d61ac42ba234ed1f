package adapters

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akmatori/alertflow/internal/database"
)

func TestDatadogAdapter_ParsePayload(t *testing.T) {
	adapter := NewDatadogAdapter()
	payload := []byte(`{
		"id": "123",
		"title": "[Triggered] Error rate high",
		"body": "Error rate above 5% on checkout",
		"alert_type": "error",
		"alert_title": "Error rate high",
		"alert_status": "Triggered",
		"hostname": "checkout-1",
		"date": 1717243200000,
		"tags": ["env:prod", "service:checkout", "critical"],
		"alert_cycle_key": "cycle-1",
		"alert_metric": "trace.http.errors"
	}`)

	parsed, err := adapter.ParsePayload(payload, &database.AlertSourceInstance{})
	if err != nil {
		t.Fatalf("ParsePayload returned error: %v", err)
	}
	alert := parsed[0]
	if alert.DeviceID != "checkout-1" {
		t.Errorf("Expected DeviceID 'checkout-1', got '%s'", alert.DeviceID)
	}
	if alert.Metric != "trace.http.errors" {
		t.Errorf("Expected Metric 'trace.http.errors', got '%s'", alert.Metric)
	}
	if alert.Severity != database.SeverityCritical {
		t.Errorf("error should map to critical, got %s", alert.Severity)
	}
	if alert.Message != "Error rate above 5% on checkout" {
		t.Errorf("Unexpected message %q", alert.Message)
	}
	if alert.Resolved {
		t.Error("Triggered is not resolved")
	}
	if !alert.OccurredAt.Equal(time.UnixMilli(1717243200000)) {
		t.Errorf("Unexpected OccurredAt %v", alert.OccurredAt)
	}
	if alert.Labels["service"] != "checkout" || alert.Labels["critical"] != "true" {
		t.Errorf("Unexpected labels %v", alert.Labels)
	}
}

func TestDatadogAdapter_HostFromTags(t *testing.T) {
	adapter := NewDatadogAdapter()
	parsed, err := adapter.ParsePayload([]byte(`{"title": "Latency", "tags": ["host:edge-2"]}`), &database.AlertSourceInstance{})
	if err != nil {
		t.Fatalf("ParsePayload returned error: %v", err)
	}
	if parsed[0].DeviceID != "edge-2" {
		t.Errorf("Expected DeviceID from host tag, got '%s'", parsed[0].DeviceID)
	}
	if parsed[0].Metric != "Latency" {
		t.Errorf("Metric should fall back to title, got '%s'", parsed[0].Metric)
	}
}

func TestDatadogAdapter_Recovered(t *testing.T) {
	adapter := NewDatadogAdapter()
	tests := []struct {
		status    string
		alertType string
		want      bool
	}{
		{"Recovered", "error", true},
		{"Triggered", "error", false},
		{"", "success", true},
	}
	for _, tt := range tests {
		if got := adapter.isRecovered(tt.status, tt.alertType); got != tt.want {
			t.Errorf("isRecovered(%q, %q) = %v, want %v", tt.status, tt.alertType, got, tt.want)
		}
	}
}

func TestDatadogAdapter_SeverityFallsBackToPriority(t *testing.T) {
	adapter := NewDatadogAdapter()
	if got := adapter.mapAlertTypeToSeverity("", "low"); got != database.SeverityLow {
		t.Errorf("priority low should map to low, got %s", got)
	}
	if got := adapter.mapAlertTypeToSeverity("warning", "low"); got != database.SeverityMedium {
		t.Errorf("alert type wins over priority, got %s", got)
	}
}

func TestDatadogAdapter_ValidateWebhookSecret(t *testing.T) {
	adapter := NewDatadogAdapter()
	instance := &database.AlertSourceInstance{WebhookSecret: "dd"}

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("DD-API-KEY", "dd")
	if err := adapter.ValidateWebhookSecret(req, instance); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akmatori/alertflow/internal/alerts"
	"github.com/akmatori/alertflow/internal/api"
	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/services"
	"github.com/akmatori/alertflow/internal/testhelpers"
)

func alertmanagerPayload(entries ...string) string {
	return fmt.Sprintf(`{"version":"4","status":"firing","alerts":[%s]}`, strings.Join(entries, ","))
}

func amAlert(status, instance, startsAt string) string {
	return fmt.Sprintf(`{"status":%q,"labels":{"alertname":"HighCPU","instance":%q,"severity":"critical"},`+
		`"annotations":{"summary":"CPU above 95%%"},"startsAt":%q,"endsAt":%q}`,
		status, instance, startsAt, startsAt)
}

func TestHandleWebhook_AlertmanagerFiringAndResolved(t *testing.T) {
	f := newFixture(t, false)
	inst := f.source(t, "alertmanager", "")

	body := alertmanagerPayload(
		amAlert("firing", "router-1", "2024-03-04T09:00:00Z"),
		amAlert("firing", "router-1", "2024-03-04T09:01:00Z"),
		amAlert("firing", "router-2", "2024-03-04T09:01:00Z"),
	)
	ctx := testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alert/"+inst.UUID, strings.NewReader(body)).
		Execute(f.mux).
		AssertStatus(http.StatusOK)
	var resp api.WebhookResponse
	ctx.DecodeJSON(&resp)
	assert.Equal(t, 3, resp.Received)
	assert.Equal(t, 2, resp.Created)
	assert.Equal(t, 1, resp.Grouped)
	assert.Empty(t, resp.Errors)

	body = alertmanagerPayload(amAlert("resolved", "router-1", "2024-03-04T09:05:00Z"))
	ctx = testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alert/"+inst.UUID, strings.NewReader(body)).
		Execute(f.mux).
		AssertStatus(http.StatusOK)
	resp = api.WebhookResponse{}
	ctx.DecodeJSON(&resp)
	assert.Equal(t, 1, resp.Resolved)

	active, err := f.svc.Grouping.CountActive(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, active, "router-2 group stays open")
}

func TestHandleWebhook_ResolvedAfterGroupWasReaped(t *testing.T) {
	f := newFixture(t, false)
	inst := f.source(t, "alertmanager", "")

	body := alertmanagerPayload(amAlert("firing", "router-1", "2024-03-04T09:00:00Z"))
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alert/"+inst.UUID, strings.NewReader(body)).
		Execute(f.mux).
		AssertStatus(http.StatusOK)

	f.clock.Advance(3 * time.Hour)
	closed, err := f.svc.Grouping.CloseStaleGroups(f.ctx, services.DefaultGroupWindow)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	body = alertmanagerPayload(amAlert("resolved", "router-1", "2024-03-04T12:00:00Z"))
	var resp api.WebhookResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alert/"+inst.UUID, strings.NewReader(body)).
		Execute(f.mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)
	assert.Equal(t, 1, resp.Resolved)

	var alert database.Alert
	require.NoError(t, f.db.Where("device_id = ?", "router-1").First(&alert).Error)
	state, err := f.svc.Lifecycle.CurrentState(f.ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, database.AlertStateResolved, state)
	assert.NotNil(t, alert.EscalationStoppedAt)
}

func TestHandleWebhook_ResolvedWithoutActiveAlertIsIgnored(t *testing.T) {
	f := newFixture(t, false)
	inst := f.source(t, "alertmanager", "")

	body := alertmanagerPayload(amAlert("resolved", "router-9", "2024-03-04T09:00:00Z"))
	var resp api.WebhookResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alert/"+inst.UUID, strings.NewReader(body)).
		Execute(f.mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)
	assert.Equal(t, 1, resp.Received)
	assert.Zero(t, resp.Resolved)
	assert.Zero(t, resp.Created)
}

func TestHandleWebhook_Rejections(t *testing.T) {
	f := newFixture(t, false)
	secured := f.source(t, "alertmanager", "s3cret")

	t.Run("unknown instance", func(t *testing.T) {
		f.do(t, http.MethodPost, "/webhook/alert/does-not-exist", map[string]string{}).
			AssertStatus(http.StatusNotFound)
	})

	t.Run("bad secret", func(t *testing.T) {
		testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alert/"+secured.UUID, strings.NewReader(alertmanagerPayload())).
			WithHeader("X-Alertmanager-Secret", "wrong").
			Execute(f.mux).
			AssertStatus(http.StatusUnauthorized)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IngestRejected.WithLabelValues("alertmanager")))
	})

	t.Run("good secret", func(t *testing.T) {
		testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alert/"+secured.UUID, strings.NewReader(alertmanagerPayload())).
			WithHeader("X-Alertmanager-Secret", "s3cret").
			Execute(f.mux).
			AssertStatus(http.StatusOK)
	})

	t.Run("malformed payload", func(t *testing.T) {
		testhelpers.NewHTTPTestContext(t, http.MethodPost, "/webhook/alert/"+secured.UUID, strings.NewReader("{not json")).
			WithHeader("X-Alertmanager-Secret", "s3cret").
			Execute(f.mux).
			AssertStatus(http.StatusBadRequest)
	})

	t.Run("disabled instance", func(t *testing.T) {
		disabled, err := f.svc.Sources.CreateInstance(f.ctx, "alertmanager", "am-disabled", "", "", nil)
		require.NoError(t, err)
		require.NoError(t, f.svc.Sources.SetEnabled(f.ctx, disabled.UUID, false))
		f.do(t, http.MethodPost, "/webhook/alert/"+disabled.UUID, map[string]string{}).
			AssertStatus(http.StatusForbidden)
	})

	t.Run("no adapter registered", func(t *testing.T) {
		inst := f.source(t, "zabbix", "")
		f.do(t, http.MethodPost, "/webhook/alert/"+inst.UUID, map[string]string{}).
			AssertStatus(http.StatusBadRequest)
	})
}

func TestHandleWebhook_MockAdapter(t *testing.T) {
	f := newFixture(t, false)
	inst := f.source(t, "grafana", "")

	mock := testhelpers.NewMockAlertAdapter("grafana").WithAlerts(
		alerts.NormalizedAlert{DeviceID: "db-1", Metric: "disk", Severity: database.SeverityHigh, OccurredAt: t0},
		alerts.NormalizedAlert{DeviceID: "db-1", Metric: "disk", Severity: "bogus", OccurredAt: t0},
	)
	f.alerts.RegisterAdapter(mock)

	var resp api.WebhookResponse
	f.do(t, http.MethodPost, "/webhook/alert/"+inst.UUID, map[string]string{}).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)
	assert.True(t, mock.ValidateSecretCalled)
	assert.True(t, mock.ParsePayloadCalled)
	assert.Equal(t, 1, resp.Created)
	assert.Len(t, resp.Errors, 1, "an invalid occurrence is reported without failing the batch")

	mock.WithParseError(errors.New("bad"))
	f.do(t, http.MethodPost, "/webhook/alert/"+inst.UUID, map[string]string{}).
		AssertStatus(http.StatusBadRequest)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	ctx := f.do(t, http.MethodGet, "/health", nil).AssertStatus(http.StatusOK)
	testhelpers.AssertJSONPath(t, ctx.Recorder.Body.String(), "status", "ok")
	testhelpers.AssertJSONPath(t, ctx.Recorder.Body.String(), "version", Version)

	mux := http.NewServeMux()
	NewHTTPHandler(nil, nil, func(ctx context.Context) error { return errors.New("db down") }).SetupRoutes(mux)
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/health", nil).
		Execute(mux).
		AssertStatus(http.StatusServiceUnavailable).
		AssertBodyContains("db down")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/api/alerts", map[string]string{
		"device_id": "router-1", "metric": "cpu", "severity": "critical",
	}).AssertStatus(http.StatusCreated)

	f.do(t, http.MethodGet, "/metrics", nil).
		AssertStatus(http.StatusOK).
		AssertBodyContains("alertflow_")
}

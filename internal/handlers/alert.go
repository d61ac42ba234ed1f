package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/akmatori/alertflow/internal/alerts"
	"github.com/akmatori/alertflow/internal/api"
	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/metrics"
	"github.com/akmatori/alertflow/internal/services"
	"github.com/akmatori/alertflow/internal/utils"
)

// maxLoggedPayload caps how much of a rejected body is logged
const maxLoggedPayload = 256

// AlertIngester accepts firing and cleared occurrences
type AlertIngester interface {
	SubmitAlert(ctx context.Context, raw services.RawAlert) (*services.GroupResult, error)
	ResolveActive(ctx context.Context, deviceID, metric string, severity database.Severity, notes string) (*database.Alert, error)
}

// SourceLookup finds alert source instances by webhook UUID
type SourceLookup interface {
	GetInstanceByUUID(ctx context.Context, id string) (*database.AlertSourceInstance, error)
}

// AlertHandler handles webhook requests from multiple alert sources
type AlertHandler struct {
	sources  SourceLookup
	ingester AlertIngester
	metrics  *metrics.Metrics

	// Registered adapters by source type
	adapters map[string]alerts.AlertAdapter
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(sources SourceLookup, ingester AlertIngester, m *metrics.Metrics) *AlertHandler {
	return &AlertHandler{
		sources:  sources,
		ingester: ingester,
		metrics:  m,
		adapters: make(map[string]alerts.AlertAdapter),
	}
}

// RegisterAdapter registers an alert adapter for a source type
func (h *AlertHandler) RegisterAdapter(adapter alerts.AlertAdapter) {
	h.adapters[adapter.GetSourceType()] = adapter
	log.WithField("source_type", adapter.GetSourceType()).Debug("Registered alert adapter")
}

// HandleWebhook processes incoming webhook requests
// Route: POST /webhook/alert/{uuid}
//
// Occurrences are processed in payload order before responding, so a
// firing/resolved pair in one delivery is applied in sequence.
func (h *AlertHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	instanceUUID := r.PathValue("uuid")
	instance, err := h.sources.GetInstanceByUUID(r.Context(), instanceUUID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			api.RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		api.RespondServiceError(w, err)
		return
	}
	logger := log.WithFields(log.Fields{
		"instance":    instance.Name,
		"source_type": instance.SourceType,
	})

	if !instance.Enabled {
		api.RespondError(w, http.StatusForbidden, "Instance disabled")
		return
	}

	adapter, ok := h.adapters[instance.SourceType]
	if !ok {
		logger.Warn("No adapter for source type")
		api.RespondError(w, http.StatusBadRequest, "Unsupported source type")
		return
	}

	if err := adapter.ValidateWebhookSecret(r, instance); err != nil {
		logger.WithError(err).Warn("Webhook secret validation failed")
		h.metrics.Rejected(instance.SourceType)
		api.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxBodySize))
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	normalized, err := adapter.ParsePayload(body, instance)
	if err != nil {
		logger.WithField("payload", utils.EscapeForLogging(string(body), maxLoggedPayload)).
			WithError(err).Warn("Invalid alert payload")
		h.metrics.Rejected(instance.SourceType)
		api.RespondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	resp := api.WebhookResponse{Received: len(normalized)}
	for _, alert := range normalized {
		if err := h.process(r.Context(), instance, alert, &resp); err != nil {
			logger.WithFields(log.Fields{
				"device_id": alert.DeviceID,
				"metric":    alert.Metric,
			}).WithError(err).Warn("Failed to process alert")
			h.metrics.Rejected(instance.SourceType)
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s/%s: %v", alert.DeviceID, alert.Metric, err))
		}
	}

	logger.WithFields(log.Fields{
		"received": resp.Received,
		"created":  resp.Created,
		"grouped":  resp.Grouped,
		"resolved": resp.Resolved,
	}).Info("Processed webhook")
	api.RespondJSON(w, http.StatusOK, resp)
}

func (h *AlertHandler) process(ctx context.Context, instance *database.AlertSourceInstance, alert alerts.NormalizedAlert, resp *api.WebhookResponse) error {
	if alert.Resolved {
		resolved, err := h.ingester.ResolveActive(ctx, alert.DeviceID, alert.Metric, alert.Severity,
			fmt.Sprintf("cleared by %s source %s", instance.SourceType, instance.Name))
		if err != nil {
			return err
		}
		if resolved != nil {
			resp.Resolved++
		}
		return nil
	}

	result, err := h.ingester.SubmitAlert(ctx, services.RawAlert{
		DeviceID:   alert.DeviceID,
		Metric:     alert.Metric,
		Severity:   alert.Severity,
		Message:    alert.Message,
		Source:     instance.SourceType,
		OccurredAt: alert.OccurredAt,
	})
	if err != nil {
		return err
	}
	if result.Created {
		resp.Created++
	} else {
		resp.Grouped++
	}
	return nil
}

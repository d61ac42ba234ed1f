package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/akmatori/alertflow/internal/api"
)

// Version is reported by /health and overridden at build time
var Version = "dev"

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// HTTPHandler serves the unauthenticated endpoints: health, metrics and source webhooks
type HTTPHandler struct {
	alertHandler *AlertHandler
	metrics      http.Handler
	check        HealthCheck
}

// NewHTTPHandler creates a new HTTP handler. alertHandler, metrics and check may be nil.
func NewHTTPHandler(alertHandler *AlertHandler, metrics http.Handler, check HealthCheck) *HTTPHandler {
	return &HTTPHandler{
		alertHandler: alertHandler,
		metrics:      metrics,
		check:        check,
	}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	if h.alertHandler != nil {
		mux.HandleFunc("POST /webhook/alert/{uuid}", h.alertHandler.HandleWebhook)
	}
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.check(ctx); err != nil {
			api.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unavailable",
				"version": Version,
				"error":   err.Error(),
			})
			return
		}
	}
	api.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

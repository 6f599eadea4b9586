package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/emberline/emberline/internal/api"
	"github.com/emberline/emberline/internal/metrics"
)

// Version is reported by /health; set at build time with -ldflags.
var Version = "dev"

// HealthCheck reports the health of one dependency. A nil error is healthy.
type HealthCheck func(ctx context.Context) error

// HTTPHandler serves health and metrics endpoints
type HTTPHandler struct {
	checks map[string]HealthCheck
}

// NewHTTPHandler creates a new HTTP handler. checks maps a dependency name
// to its health check.
func NewHTTPHandler(checks map[string]HealthCheck) *HTTPHandler {
	return &HTTPHandler{checks: checks}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

// handleHealth returns ok when every dependency answers, and 503 otherwise
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	api.RespondJSON(w, status, map[string]interface{}{
		"status":  overall,
		"version": Version,
		"checks":  results,
	})
}

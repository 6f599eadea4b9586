// Package metrics exposes Prometheus instruments for the alert pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AlertsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emberline_alerts_created_total",
		Help: "Alerts admitted and created from detections",
	})

	AdmissionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emberline_admission_conflicts_total",
		Help: "Detections rejected because the camera already has an active alert",
	})

	StaleReclaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emberline_stale_reclaims_total",
		Help: "Active alerts deleted by lazy staleness reclaim, by status",
	}, []string{"status"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emberline_alert_status_transitions_total",
		Help: "Alert status transitions by from/to",
	}, []string{"from", "to"})

	VerificationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emberline_verification_attempts_total",
		Help: "Oracle calls by model and outcome",
	}, []string{"model", "outcome"})

	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "emberline_verification_duration_seconds",
		Help:    "Time spent producing a verdict for one alert",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emberline_notifications_total",
		Help: "Notification sends by channel and outcome",
	}, []string{"channel", "outcome"})

	AlertsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emberline_alerts_reaped_total",
		Help: "Alerts deleted by background sweeps",
	}, []string{"sweep"})

	GatekeeperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emberline_gatekeeper_runs_total",
		Help: "Scheduled confirm-and-notify runs by result status",
	}, []string{"status"})
)

// Handler returns the /metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookEventsTotal tracks inbound webhook events by type.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events",
		},
		[]string{"type"},
	)

	// IntentsTotal tracks classified intents by type.
	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intents_total",
			Help: "Classified intents",
		},
		[]string{"type"},
	)

	// SessionStepsTotal tracks conversation step transitions.
	SessionStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_steps_total",
			Help: "Conversation steps entered",
		},
		[]string{"step"},
	)

	// SessionsExpired counts sessions dropped by the lazy timeout sweep.
	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_expired_total",
			Help: "Sessions expired by the soft conversation timeout",
		},
	)

	// DuplicatesDetected counts creates refused by the duplicate check.
	DuplicatesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_duplicates_detected_total",
			Help: "Event creations refused as duplicates",
		},
	)

	// ConflictsDetected counts creates soft-stopped by the conflict check.
	ConflictsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_conflicts_detected_total",
			Help: "Event creations held for conflict confirmation",
		},
	)

	// BulkImportEventsTotal tracks bulk import outcomes.
	BulkImportEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_import_events_total",
			Help: "Bulk import event outcomes",
		},
		[]string{"outcome"},
	)

	// BulkImportDuration tracks end-to-end bulk import runs.
	BulkImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_import_duration_seconds",
			Help:    "Bulk import run duration",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// ClassifierDuration tracks intent classification latency.
	ClassifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_duration_seconds",
			Help:    "Intent classification latency",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20},
		},
		[]string{"provider", "status"},
	)

	// CalendarCallsTotal tracks calendar backend calls by operation.
	CalendarCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_calls_total",
			Help: "Calendar backend calls",
		},
		[]string{"op", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

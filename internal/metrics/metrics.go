package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hr_workflows_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hr_workflows_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Workflow metrics
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hr_workflows_transitions_total",
			Help: "Transition commands by workflow, action and outcome code",
		},
		[]string{"workflow", "action", "outcome"},
	)

	transitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hr_workflows_transition_duration_seconds",
			Help:    "Transition command latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	clearanceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hr_workflows_clearance_item_updates_total",
			Help: "Clearance checklist item updates by lane and resulting status",
		},
		[]string{"lane", "status"},
	)

	// Outbox relay metrics
	outboxMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hr_workflows_outbox_messages_total",
			Help: "Outbox messages processed by the relay, by result",
		},
		[]string{"result"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, route string, statusCode int, durationSeconds float64) {
	status := "unknown"
	switch {
	case statusCode >= 500:
		status = "5xx"
	case statusCode >= 400:
		status = "4xx"
	case statusCode >= 300:
		status = "3xx"
	case statusCode >= 200:
		status = "2xx"
	}

	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordTransition records the outcome of one transition command. outcome
// is "ok" or an error code.
func RecordTransition(workflow, action, outcome string, durationSeconds float64) {
	transitionsTotal.WithLabelValues(workflow, action, outcome).Inc()
	transitionDuration.WithLabelValues(workflow).Observe(durationSeconds)
}

// RecordClearanceUpdate records an accepted checklist item update.
func RecordClearanceUpdate(lane, status string) {
	clearanceUpdatesTotal.WithLabelValues(lane, status).Inc()
}

// RecordOutbox adds relay results.
func RecordOutbox(sent, failed int) {
	outboxMessagesTotal.WithLabelValues("sent").Add(float64(sent))
	outboxMessagesTotal.WithLabelValues("failed").Add(float64(failed))
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

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

	// DispatchDuration tracks model dispatch duration by terminal state.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Model dispatch duration from fan-out to terminal state",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// ActiveDispatches tracks in-flight model dispatches.
	ActiveDispatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatches_active",
			Help: "Number of in-flight model dispatches",
		},
	)

	// TokensStreamed tracks token fragments multiplexed to clients.
	TokensStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_streamed_total",
			Help: "Total token fragments streamed",
		},
		[]string{"model"},
	)

	// EntitlementRejections tracks gate rejections by reason code.
	EntitlementRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_rejections_total",
			Help: "Total entitlement rejections",
		},
		[]string{"code"},
	)

	// CreditsDebited tracks credits spent per model.
	CreditsDebited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_debited_total",
			Help: "Total credits debited",
		},
		[]string{"model"},
	)

	// GrantsApplied tracks credit grants by type.
	GrantsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_grants_applied_total",
			Help: "Total credit grants applied",
		},
		[]string{"type"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

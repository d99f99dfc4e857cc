package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRequestsTotal counts every response seen by the request pipeline (including replays).
	PipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_pipeline_requests_total",
			Help: "Requests sent through the authenticated pipeline (by method and status).",
		},
		[]string{"method", "status"},
	)

	// TokenRefreshTotal counts refresh-endpoint calls by outcome.
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_token_refresh_total",
			Help: "Access token refresh attempts (by outcome: success, failure, no_refresh_token).",
		},
		[]string{"outcome"},
	)

	// TokenRefreshDuration measures the refresh call latency.
	TokenRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_token_refresh_duration_seconds",
			Help:    "Duration of access token refresh calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms → ~10s
		},
		[]string{"outcome"},
	)

	// QueuedRequestsTotal counts requests parked behind an in-flight refresh.
	QueuedRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_pipeline_queued_requests_total",
			Help: "Requests that waited on an in-flight token refresh.",
		},
	)

	// TenantRewritesTotal counts dispatcher path decisions.
	TenantRewritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_tenant_rewrites_total",
			Help: "Tenant path rewrite decisions (by result: rewritten, unchanged, exempt, no_slug).",
		},
		[]string{"result"},
	)

	// SessionEventsTotal counts session lifecycle transitions.
	SessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_session_events_total",
			Help: "Session lifecycle events (by type).",
		},
		[]string{"type"},
	)

	// EventPublishErrors counts broker publish failures.
	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_event_publish_errors_total",
			Help: "Session event publish failures (by backend).",
		},
		[]string{"backend"},
	)
)

// IncPipelineRequest increments the pipeline request counter.
func IncPipelineRequest(method, status string) {
	PipelineRequestsTotal.WithLabelValues(method, status).Inc()
}

// IncTokenRefresh increments the refresh counter for outcome.
func IncTokenRefresh(outcome string) {
	TokenRefreshTotal.WithLabelValues(outcome).Inc()
}

// IncQueued records one request parked behind a refresh.
func IncQueued() {
	QueuedRequestsTotal.Inc()
}

// IncTenantRewrite records a dispatcher rewrite decision.
func IncTenantRewrite(result string) {
	TenantRewritesTotal.WithLabelValues(result).Inc()
}

// IncSessionEvent records a session transition.
func IncSessionEvent(eventType string) {
	SessionEventsTotal.WithLabelValues(eventType).Inc()
}

// IncPublishError records a failed broker publish.
func IncPublishError(backend string) {
	EventPublishErrors.WithLabelValues(backend).Inc()
}

// ObserveDuration records elapsed time since start into a HistogramVec or SummaryVec.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()
	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

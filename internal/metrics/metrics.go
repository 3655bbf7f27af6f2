// Package metrics provides Prometheus metrics for pulsefeed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pulsefeed"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Pipeline metrics
var (
	// ReadingsIngestedTotal counts readings accepted by the pipeline.
	ReadingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "readings_total",
			Help:      "Total readings accepted by the pipeline",
		},
		[]string{"metric"},
	)

	// ReadingsRejectedTotal counts readings rejected before processing.
	ReadingsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "readings_rejected_total",
			Help:      "Total readings rejected as malformed or unknown",
		},
		[]string{"reason"}, // unknown_metric, invalid_value, malformed
	)

	// AnomaliesFlaggedTotal counts anomalies that produced an alert.
	AnomaliesFlaggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "anomalies_total",
			Help:      "Total anomalies that produced an alert",
		},
		[]string{"metric", "severity"},
	)

	// AnomaliesSuppressedTotal counts anomalies silenced by the debounce window.
	AnomaliesSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "anomalies_suppressed_total",
			Help:      "Total anomalies suppressed by the cool-down window",
		},
		[]string{"metric"},
	)

	// GoalsAchievedTotal counts daily goal achievements.
	GoalsAchievedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "goals_achieved_total",
			Help:      "Total daily goal achievements",
		},
		[]string{"goal"},
	)
)

// Alert bus metrics
var (
	// AlertsPublishedTotal counts alerts published on the bus.
	AlertsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "alerts_published_total",
			Help:      "Total alerts published on the fan-out bus",
		},
		[]string{"type", "severity"},
	)

	// AlertsDroppedTotal counts alerts dropped from slow subscriber queues.
	AlertsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "alerts_dropped_total",
			Help:      "Total alerts dropped from full subscriber queues",
		},
	)

	// SubscribersActive tracks connected stream subscribers.
	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscribers_active",
			Help:      "Number of connected alert subscribers",
		},
	)
)

// Broker ingest metrics
var (
	// BrokerMessagesTotal counts messages consumed from broker transports.
	BrokerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Total messages consumed from broker transports",
		},
		[]string{"source"}, // redis, mqtt
	)

	// BrokerErrorsTotal counts broker read/decode errors.
	BrokerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "errors_total",
			Help:      "Total broker transport errors",
		},
		[]string{"source"},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

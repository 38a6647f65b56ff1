// Package metrics exposes the Prometheus collectors shared by the bridge.
// Collectors register with the default registry on import and are served
// from /metrics by the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Emby transport
	EmbyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emby_requests_total",
			Help: "Total number of requests sent to the Emby API",
		},
		[]string{"method", "outcome"}, // outcome: "ok", "http_status", "timeout", "connection", "decode", "circuit_open", "other"
	)

	EmbyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emby_request_duration_seconds",
			Help:    "Duration of Emby API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	EmbyRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emby_records_skipped_total",
			Help: "Records dropped because they could not be decoded",
		},
		[]string{"kind"}, // "session", "user", "library"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Activity
	ActivityPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_polls_total",
			Help: "Activity polls by result",
		},
		[]string{"result"}, // "ok", "degraded"
	)

	ActivityPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "activity_poll_duration_seconds",
			Help:    "Time taken to build the current activity view",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_streams",
			Help: "Streams in the latest activity snapshot by transcode decision",
		},
		[]string{"decision"},
	)

	NormalizeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_normalize_failures_total",
			Help: "Sessions dropped because normalization panicked",
		},
	)

	// Inventory
	InventoryItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inventory_items",
			Help: "Normalized users and libraries from the last inventory sync",
		},
		[]string{"kind"},
	)

	InventorySyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_sync_total",
			Help: "Inventory syncs by result",
		},
		[]string{"result"},
	)

	// HTTP API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected WebSocket activity subscribers",
		},
	)
)

// ObserveEmbyRequest records one finished Emby API call.
func ObserveEmbyRequest(method, outcome string, started time.Time) {
	EmbyRequestsTotal.WithLabelValues(method, outcome).Inc()
	EmbyRequestDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// RecordActivity updates the stream gauges from one activity snapshot.
func RecordActivity(directPlay, directStream, transcode int) {
	ActiveStreams.WithLabelValues("direct play").Set(float64(directPlay))
	ActiveStreams.WithLabelValues("copy").Set(float64(directStream))
	ActiveStreams.WithLabelValues("transcode").Set(float64(transcode))
}

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Polling
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_polls_total",
			Help: "Per-tag polls by loop kind and outcome",
		},
		[]string{"kind", "result"}, // ok, transient, not_found, invalid, denied, maintenance, unexpected, cancelled
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clashbot_poll_duration_seconds",
			Help:    "Duration of one fetch-and-detect unit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ActiveTags = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clashbot_active_tags",
			Help: "Tags currently in the active set of each loop",
		},
		[]string{"kind"},
	)

	HeldLocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clashbot_held_tag_locks",
			Help: "Per-tag locks currently held (fetching or cooling down)",
		},
		[]string{"kind"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clashbot_fetch_queue_depth",
			Help: "Pending keys in the entity fetch queue",
		},
		[]string{"kind"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clashbot_cache_entries",
			Help: "Snapshots held in the entity cache",
		},
		[]string{"kind"},
	)

	LoopRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_loop_restarts_total",
			Help: "Loop restarts after an unexpected error",
		},
		[]string{"kind"},
	)

	// Dispatch
	EventsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_events_detected_total",
			Help: "Transitions detected by the loops",
		},
		[]string{"kind", "transition"},
	)

	HandlerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_handler_invocations_total",
			Help: "Event handler invocations by outcome",
		},
		[]string{"kind", "transition", "result"}, // ok, error, panic
	)

	DispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clashbot_dispatch_in_flight",
			Help: "Handlers currently holding a dispatch slot",
		},
	)

	WorkInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clashbot_work_in_flight",
			Help: "Per-tag units currently holding a work slot",
		},
	)

	// Controller
	MaintenanceMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clashbot_maintenance_mode",
			Help: "1 while the master lock is held",
		},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clashbot_reconcile_duration_seconds",
			Help:    "Duration of a tag-set reconciliation pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_reconcile_errors_total",
			Help: "Tag-source queries that failed during reconciliation",
		},
		[]string{"kind"},
	)

	Alerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_alerts_total",
			Help: "Operator alerts by outcome",
		},
		[]string{"result"}, // sent, suppressed
	)

	// Game API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_api_requests_total",
			Help: "Game API requests through the throttler",
		},
		[]string{"direction"}, // sent, received
	)

	APIResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_api_responses_total",
			Help: "Game API responses by endpoint and status code",
		},
		[]string{"endpoint", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clashbot_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Web
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clashbot_http_requests_total",
			Help: "HTTP requests served by the status API",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clashbot_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clashbot_live_feed_clients",
			Help: "Connected websocket clients on the live event feed",
		},
	)

	DatabaseConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clashbot_database_connected",
			Help: "1 while the MongoDB connection is up",
		},
	)

	DatabaseQueuedWrites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clashbot_database_queued_writes",
			Help: "Writes waiting for the database to come back",
		},
	)
)

// RecordHTTPRequest records one served request
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPoll records the outcome and duration of one per-tag unit
func RecordPoll(kind, result string, duration time.Duration) {
	PollsTotal.WithLabelValues(kind, result).Inc()
	PollDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetMaintenance mirrors the master lock into a gauge
func SetMaintenance(on bool) {
	if on {
		MaintenanceMode.Set(1)
		return
	}
	MaintenanceMode.Set(0)
}

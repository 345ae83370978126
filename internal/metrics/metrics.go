// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the gateway:
// - Ingest pipeline outcomes and latency
// - Anomaly detection verdicts and model retrains
// - Per-device rate limiter rejections and sticky blocks
// - Trust score transitions and access tier population
// - DuckDB query performance and circuit breaker state

var (
	// Ingest Pipeline Metrics
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Total number of telemetry ingest requests",
		},
		[]string{"status"}, // "accepted", "rate_limited", "auth_failed", "rejected", "error"
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "End-to-end ingest pipeline duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// Anomaly Detection Metrics
	DetectionVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_verdicts_total",
			Help: "Total number of anomaly detection verdicts",
		},
		[]string{"method", "anomaly"}, // method: "none", "zscore", "isolation_forest", "both_layers"
	)

	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detection_layer_duration_seconds",
			Help:    "Duration of each anomaly detection layer in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"layer"}, // "statistical", "adaptive"
	)

	ModelRetrains = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adaptive_model_retrains_total",
			Help: "Total number of adaptive model retrains",
		},
	)

	ModelRetrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adaptive_model_retrain_duration_seconds",
			Help:    "Duration of adaptive model retrains in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rate Limiter Metrics
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_rate_limit_rejections_total",
			Help: "Total number of per-device rate limit rejections",
		},
		[]string{"reason"}, // "already_blocked", "rate_limit_exceeded"
	)

	RateLimitBlockedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "device_rate_limit_blocked_devices",
			Help: "Current number of devices in the sticky blocked set",
		},
	)

	// Trust Score Metrics
	TrustTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_transitions_total",
			Help: "Total number of trust score transitions",
		},
		[]string{"direction"}, // "penalty", "recovery"
	)

	TrustTierDevices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trust_tier_devices",
			Help: "Current number of devices per access tier",
		},
		[]string{"tier"}, // "full", "read_only", "quarantine"
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"type", "severity"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// Event Bus Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published to the in-process bus",
		},
		[]string{"topic"},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Total number of events consumed from the in-process bus",
		},
		[]string{"topic", "result"}, // result: "success", "failure"
	)
)

// RecordAPIRequest records an API request with its status and duration.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDBQuery records a database query duration and any error.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordVerdict records a combined anomaly detection verdict.
func RecordVerdict(method string, anomaly bool) {
	DetectionVerdicts.WithLabelValues(method, strconv.FormatBool(anomaly)).Inc()
}

// RecordRetrain records an adaptive model retrain and its duration.
func RecordRetrain(duration time.Duration) {
	ModelRetrains.Inc()
	ModelRetrainDuration.Observe(duration.Seconds())
}

// RecordTrustTransition records a trust score move. A negative delta is a
// penalty, anything else a recovery.
func RecordTrustTransition(delta float64) {
	direction := "recovery"
	if delta < 0 {
		direction = "penalty"
	}
	TrustTransitions.WithLabelValues(direction).Inc()
}

// RecordAlert records a raised alert by type and severity.
func RecordAlert(alertType, severity string) {
	AlertsRaised.WithLabelValues(alertType, severity).Inc()
}

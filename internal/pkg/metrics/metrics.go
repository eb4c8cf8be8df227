// Package metrics provides Prometheus metrics for the portal backend (RED + cluster gateway + environments).
// Scrapeable on /metrics; dashboards rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "devportal"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// CircuitBreakerState is the current cluster gateway breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per cluster (0=closed, 1=open, 2=half-open).",
		},
		[]string{"cluster"},
	)

	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		},
		[]string{"cluster", "from", "to"},
	)

	CircuitBreakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_failures_total",
			Help:      "Failures counted toward opening the circuit breaker.",
		},
		[]string{"cluster"},
	)

	// EnvironmentOperationsTotal counts lifecycle operations by outcome.
	EnvironmentOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "environment_operations_total",
			Help:      "Temporary environment operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// EnvironmentsDeletedOutOfBand counts namespaces found missing on read.
	EnvironmentsDeletedOutOfBand = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "environments_deleted_out_of_band_total",
			Help:      "Environments whose namespace disappeared without a delete request.",
		},
	)

	// TerraformCommandDurationSeconds is terraform subcommand latency.
	TerraformCommandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "terraform_command_duration_seconds",
			Help:      "Terraform command duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
		[]string{"command", "result"},
	)

	// WebSocketConnectionsActive counts open event feeds and log streams.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket connections.",
		},
	)

	MetricsCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_hits_total",
			Help:      "Total number of pod metrics cache hits.",
		},
	)

	MetricsCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_misses_total",
			Help:      "Total number of pod metrics cache misses.",
		},
	)

	// StoreQueryDurationSeconds is environment store latency by backend and operation.
	StoreQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Environment store operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

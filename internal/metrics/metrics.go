// Package metrics holds the Prometheus collectors shared by the services,
// middleware and notification pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts served requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsInFlight tracks requests currently being served.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	// AuthOutcomes counts credential operations by result code.
	AuthOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linklink_auth_operations_total",
			Help: "Credential lifecycle operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// PosterTransitions counts poster lifecycle transitions.
	PosterTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linklink_poster_transitions_total",
			Help: "Poster lifecycle transitions (created, edited, trashed, restored, archived)",
		},
		[]string{"transition"},
	)

	// NotificationsPublished counts notification events by channel and result.
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linklink_notifications_total",
			Help: "Notification attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	// WebSocketClients is the number of connected notifier clients.
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linklink_ws_clients",
			Help: "Connected post-notification WebSocket clients",
		},
	)

	// CircuitBreakerState mirrors gobreaker state (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)


// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fixnearby_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixnearby_request_transitions_total",
			Help: "Service request status transitions",
		},
		[]string{"from", "to"},
	)

	TransitionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixnearby_request_transition_conflicts_total",
			Help: "Transitions lost to a concurrent update",
		},
	)

	OTPIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixnearby_otp_issued_total",
			Help: "One-time codes issued by purpose",
		},
		[]string{"purpose"},
	)

	OTPFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixnearby_otp_failures_total",
			Help: "Rejected one-time code attempts by purpose and reason",
		},
		[]string{"purpose", "reason"},
	)

	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixnearby_payments_total",
			Help: "Payment status changes",
		},
		[]string{"method", "status"},
	)

	GatewayCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fixnearby_gateway_call_duration_seconds",
			Help:    "Outbound calls to payment and mail providers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "result"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixnearby_events_published_total",
			Help: "Lifecycle events published",
		},
		[]string{"kind"},
	)

	EventHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixnearby_event_handler_errors_total",
			Help: "Lifecycle event handler failures",
		},
		[]string{"kind"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fixnearby_websocket_connections",
			Help: "Open WebSocket connections",
		},
	)

	ChatMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixnearby_chat_messages_total",
			Help: "Chat messages sent",
		},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixnearby_job_runs_total",
			Help: "Background job runs by result",
		},
		[]string{"job", "result"},
	)
)

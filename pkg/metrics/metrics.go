package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionTransitions counts state machine transitions by target status.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecare_session_transitions_total",
			Help: "Total number of session status transitions",
		},
		[]string{"to"},
	)

	// ActiveConnections tracks live WebSocket connections in the registry.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telecare_active_connections",
			Help: "Number of live signaling connections",
		},
	)

	// RelayMessages counts relayed envelopes by type and outcome (delivered|dropped|rejected).
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecare_relay_messages_total",
			Help: "Total number of relayed signaling envelopes",
		},
		[]string{"type", "result"},
	)

	// ConsentDecisions counts consent responses by type and decision.
	ConsentDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecare_consent_decisions_total",
			Help: "Total number of consent decisions",
		},
		[]string{"consent_type", "decision"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telecare_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

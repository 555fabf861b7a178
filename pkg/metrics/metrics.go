package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// Signups counts registration attempts by result (success|conflict|failure).
	Signups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_signups_total",
			Help: "Total number of signup attempts",
		},
		[]string{"result"},
	)

	// TokenConsumptions counts challenge token consumption attempts
	// (kind: verification|reset; result: success|rejected).
	TokenConsumptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_token_consumptions_total",
			Help: "Total number of verification and reset token consumption attempts",
		},
		[]string{"kind", "result"},
	)

	// EmailsSent counts outbound email dispatches by template kind and result
	// (sent|failed|disabled).
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_emails_sent_total",
			Help: "Total number of outbound email dispatch attempts",
		},
		[]string{"kind", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authflow_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

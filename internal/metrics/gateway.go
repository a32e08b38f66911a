package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for gateway calls.
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeFraudReview    = "fraud_review"
	OutcomeTransportError = "transport_error"
	OutcomeNotSupported   = "not_supported"
	OutcomeError          = "error"
)

var (
	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "merchant",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway operation latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"gateway", "operation"},
	)

	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "merchant",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of gateway operations by outcome",
		},
		[]string{"gateway", "operation", "outcome"},
	)

	TokenFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "merchant",
			Subsystem: "gateway",
			Name:      "token_fetches_total",
			Help:      "Total number of OAuth token fetches",
		},
		[]string{"gateway", "status"},
	)

	TokensSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "merchant",
			Subsystem: "tokencache",
			Name:      "swept_total",
			Help:      "Total number of expired tokens evicted",
		},
	)
)

func init() {
	Registry.MustRegister(GatewayRequestDuration, GatewayRequestsTotal, TokenFetchesTotal, TokensSweptTotal)
}

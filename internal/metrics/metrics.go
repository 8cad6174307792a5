package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IssuanceOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keygate_issuance_outcomes_total",
			Help: "Issuance pipeline results by outcome class",
		},
		[]string{"outcome"},
	)

	IssuanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keygate_issuance_duration_seconds",
			Help:    "Wall-clock duration of one issuance pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	LockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keygate_issuance_lock_contention_total",
			Help: "Issuance calls that lost the order lock CAS",
		},
	)

	GrantAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keygate_grant_attempts_total",
			Help: "On-chain grant submission attempts including retries",
		},
	)
)

func init() {
	prometheus.MustRegister(IssuanceOutcomes, IssuanceDuration, LockContention, GrantAttempts)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	AttestationsFiled     prometheus.Counter
	AttestationsConfirmed prometheus.Counter
	HandoffsSealed        prometheus.Counter
	AuthFailures          *prometheus.CounterVec
	RepliesRejected       prometheus.Counter
	SnapshotPersistMs     prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AttestationsFiled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rxgateway_attestations_filed_total",
			Help: "Total attestations filed by doctors",
		}),
		AttestationsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rxgateway_attestations_confirmed_total",
			Help: "Total approval codes redeemed by patients",
		}),
		HandoffsSealed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rxgateway_handoffs_sealed_total",
			Help: "Total sealed pharmacy handoff envelopes produced",
		}),
		AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rxgateway_auth_failures_total",
			Help: "Wallet-proof authentication failures by reason code",
		}, []string{"reason"}),
		RepliesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rxgateway_replays_rejected_total",
			Help: "Requests rejected by the nonce replay defense",
		}),
		SnapshotPersistMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rxgateway_snapshot_persist_duration_ms",
			Help:    "Latency of durable-store snapshot writes in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// IncAuthFailure records a wallet-proof failure under its reason code.
func (m *Metrics) IncAuthFailure(reason string) {
	m.AuthFailures.WithLabelValues(reason).Inc()
}

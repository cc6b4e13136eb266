// Package metrics exports the gate's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all collectors on a private registry so tests can run
// side by side without double-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	GuardrailBlocks  *prometheus.CounterVec
	BreakerTrips     prometheus.Counter
	ApplyOutcomes    *prometheus.CounterVec
	KillSwitchAdvice prometheus.Counter
	AckLatencyMs     prometheus.Histogram
}

// New builds and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GuardrailBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardrail_blocks_total",
			Help: "Orders blocked by guardrail checks",
		}, []string{"reason", "symbol"}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Live-apply attempts rejected by the window breaker",
		}),
		ApplyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_apply_total",
			Help: "Live-apply requests by outcome",
		}, []string{"outcome"}),
		KillSwitchAdvice: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kill_switch_advisories_total",
			Help: "Times observed SLOs advised flipping the kill switch",
		}),
		AckLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_place_ack_ms",
			Help:    "Place to exchange-ack latency in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000},
		}),
	}

	m.registry.MustRegister(
		m.GuardrailBlocks,
		m.BreakerTrips,
		m.ApplyOutcomes,
		m.KillSwitchAdvice,
		m.AckLatencyMs,
	)
	return m
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

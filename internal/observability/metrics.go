package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/normalman743/apiforward/services/resilience"
)

// Metrics holds the Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec
	LedgerDropsTotal   prometheus.Counter
}

// NewMetrics creates and registers the collectors on a registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Completed provider requests by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Provider request latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "operation"}),

		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Requests answered from the response cache.",
		}),

		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Requests that missed the response cache.",
		}),

		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		}, []string{"provider"}),

		CircuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_circuit_transitions_total",
			Help: "Circuit breaker state transitions by provider and target state.",
		}, []string{"provider", "to"}),

		LedgerDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ledger_drops_total",
			Help: "Usage ledger records dropped because the buffer was full.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitState,
		m.CircuitTransitions,
		m.LedgerDropsTotal,
	)
	return m
}

// ObserveCircuitTransition records a breaker state change. Wired as the
// breaker set's transition hook.
func (m *Metrics) ObserveCircuitTransition(provider string, from, to resilience.State) {
	m.CircuitTransitions.WithLabelValues(provider, string(to)).Inc()
	m.CircuitState.WithLabelValues(provider).Set(circuitStateValue(to))
}

func circuitStateValue(state resilience.State) float64 {
	switch state {
	case resilience.StateOpen:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// breakerStates maps gobreaker state names to gauge values.
var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// ResilienceMetrics implements resilience.Observer.
type ResilienceMetrics struct {
	retries *prometheus.CounterVec
	breaker *prometheus.GaugeVec
}

func NewResilienceMetrics(reg prometheus.Registerer, service string) *ResilienceMetrics {
	m := &ResilienceMetrics{
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "resilience",
				Name:        "retries_total",
				Help:        "Retried attempts of outbound calls by operation.",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"operation"},
		),
		breaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "resilience",
				Name:        "breaker_state",
				Help:        "Circuit breaker state by operation (0 closed, 1 half-open, 2 open).",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.retries, m.breaker)
	}
	return m
}

func (m *ResilienceMetrics) ObserveRetry(operation string) {
	m.retries.WithLabelValues(operation).Inc()
}

func (m *ResilienceMetrics) ObserveBreakerState(operation, state string) {
	v, ok := breakerStates[state]
	if !ok {
		return
	}
	m.breaker.WithLabelValues(operation).Set(v)
}

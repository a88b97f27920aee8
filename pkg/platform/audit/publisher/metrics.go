package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit delivery.
type Metrics struct {
	Persisted           prometheus.Counter
	PersistFailures     prometheus.Counter
	Fallbacks           *prometheus.CounterVec
	PersistDuration     prometheus.Histogram
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics registers audit metrics on reg (prometheus.DefaultRegisterer
// when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Persisted: f.NewCounter(prometheus.CounterOpts{
			Name: "familyledger_audit_persisted_total",
			Help: "Audit entries written to the audit store",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "familyledger_audit_persist_failures_total",
			Help: "Audit store write failures",
		}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "familyledger_audit_fallback_total",
			Help: "Audit entries escalated to the fallback channel, by reason",
		}, []string{"reason"}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "familyledger_audit_persist_duration_seconds",
			Help:    "Duration of audit store writes",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		CircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "familyledger_audit_circuit_breaker_state",
			Help: "Audit store circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) incPersisted(seconds float64) {
	if m == nil {
		return
	}
	m.Persisted.Inc()
	m.PersistDuration.Observe(seconds)
}

func (m *Metrics) incPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) incFallback(reason string) {
	if m != nil {
		m.Fallbacks.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) setCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}

package keys

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks key lifecycle events. Material never reaches a label.
type Metrics struct {
	Generated prometheus.Counter
	Loaded    prometheus.Counter
	Failures  *prometheus.CounterVec
}

// NewMetrics registers key metrics on reg (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Generated: f.NewCounter(prometheus.CounterOpts{
			Name: "familyledger_key_generated_total",
			Help: "Number of installation keys generated",
		}),
		Loaded: f.NewCounter(prometheus.CounterOpts{
			Name: "familyledger_key_loaded_total",
			Help: "Number of times the installation key was loaded from its store",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "familyledger_key_failures_total",
			Help: "Key acquisition failures by stage",
		}, []string{"stage"}),
	}
}

func (m *Metrics) incGenerated() {
	if m != nil {
		m.Generated.Inc()
	}
}

func (m *Metrics) incLoaded() {
	if m != nil {
		m.Loaded.Inc()
	}
}

func (m *Metrics) incFailure(stage string) {
	if m != nil {
		m.Failures.WithLabelValues(stage).Inc()
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module. Labels carry only
// operation names and outcomes, never tenant data.
type Metrics struct {
	TransactionsAdded   prometheus.Counter
	TransactionsDeleted prometheus.Counter
	DegradedRecords     prometheus.Counter
	OperationErrors     *prometheus.CounterVec
	AddDuration         prometheus.Histogram
	QueryDuration       prometheus.Histogram
	QueryResultSize     prometheus.Histogram
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// New registers ledger metrics on reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		TransactionsAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "familyledger_transactions_added_total",
			Help: "Total number of transactions added",
		}),
		TransactionsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "familyledger_transactions_deleted_total",
			Help: "Total number of transaction deletions",
		}),
		DegradedRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "familyledger_degraded_records_total",
			Help: "Records returned with a placeholder because a sealed field could not be recovered",
		}),
		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "familyledger_ledger_errors_total",
			Help: "Ledger operation failures by operation and error code",
		}, []string{"operation", "code"}),
		AddDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "familyledger_add_duration_seconds",
			Help:    "Duration of Add operations (encrypt and persist)",
			Buckets: latencyBuckets,
		}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "familyledger_query_duration_seconds",
			Help:    "Duration of month queries (load and decrypt)",
			Buckets: latencyBuckets,
		}),
		QueryResultSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "familyledger_query_result_size",
			Help:    "Number of records returned by month queries",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Metrics) IncrementAdded() {
	m.TransactionsAdded.Inc()
}

func (m *Metrics) IncrementDeleted() {
	m.TransactionsDeleted.Inc()
}

func (m *Metrics) AddDegraded(n int) {
	m.DegradedRecords.Add(float64(n))
}

func (m *Metrics) IncrementError(operation, code string) {
	m.OperationErrors.WithLabelValues(operation, code).Inc()
}

// ObserveAdd records the duration of an Add operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAdd(start time.Time) {
	m.AddDuration.Observe(time.Since(start).Seconds())
}

// ObserveQuery records the duration and size of a month query.
func (m *Metrics) ObserveQuery(start time.Time, n int) {
	m.QueryDuration.Observe(time.Since(start).Seconds())
	m.QueryResultSize.Observe(float64(n))
}

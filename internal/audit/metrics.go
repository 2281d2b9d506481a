package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the health of the audit pipeline. WriteFailures is the
// signal to alert on: a failed ledger write never reaches the caller.
type Metrics struct {
	EntriesWritten *prometheus.CounterVec
	WriteFailures  prometheus.Counter
	WriteDuration  prometheus.Histogram
	OverflowWrites prometheus.Counter
	QueueDepth     prometheus.Gauge
	SchemaEvents   *prometheus.CounterVec
}

// NewMetrics creates the audit metrics on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EntriesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctdms_audit_entries_written_total",
			Help: "Audit entries persisted to the ledger, by outcome of the audited operation",
		}, []string{"status"}),
		WriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ctdms_audit_write_failures_total",
			Help: "Audit entries that could not be persisted",
		}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctdms_audit_write_duration_seconds",
			Help:    "Duration of ledger writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		OverflowWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "ctdms_audit_overflow_writes_total",
			Help: "Entries written by an overflow goroutine because the async queue was full",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "ctdms_audit_queue_depth",
			Help: "Entries waiting in the async audit queue",
		}),
		SchemaEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctdms_audit_ledger_schema_events_total",
			Help: "Schema changes made by the ledger runtime guard",
		}, []string{"event"}),
	}
}

// ObserveSchemaEvent counts a runtime schema change of the ledger.
func (m *Metrics) ObserveSchemaEvent(event string) {
	m.SchemaEvents.WithLabelValues(event).Inc()
}

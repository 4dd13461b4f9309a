package versioning

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors
type Metrics struct {
	historyRecords *prometheus.CounterVec
	writeConflicts prometheus.Counter
	commitDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		historyRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "versioning",
			Name:      "history_records_total",
			Help:      "History records written, by entity type and action.",
		}, []string{"entity", "action"}),
		writeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "versioning",
			Name:      "write_conflicts_total",
			Help:      "Sessions rolled back because of a concurrent write.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "versioning",
			Name:      "commit_duration_seconds",
			Help:      "Duration of session commits including checkpoint hooks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.historyRecords, m.writeConflicts, m.commitDuration)
	}
	return m
}

// HistoryRecords returns the counter for one entity type and action
func (m *Metrics) HistoryRecords(entity string, action ActionType) prometheus.Counter {
	return m.historyRecords.WithLabelValues(entity, string(action))
}

// WriteConflicts returns the write conflict counter
func (m *Metrics) WriteConflicts() prometheus.Counter {
	return m.writeConflicts
}

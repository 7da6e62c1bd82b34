// Package metrics exposes prometheus instrumentation for the consistency
// checker, the change notifier and the index updater.
//
// Every method is safe to call on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vtkindex"

// Result label values.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultCorrupt = "corrupt"
	ResultDropped = "dropped"
	ResultSkipped = "skipped"
)

type Metrics struct {
	checks          *prometheus.CounterVec
	checkDuration   prometheus.Histogram
	inconsistencies *prometheus.CounterVec
	repairs         *prometheus.CounterVec
	updaterBatches  *prometheus.CounterVec
	updaterChanges  prometheus.Counter
	notifierPolls   *prometheus.CounterVec
	notifierEntries prometheus.Counter
}

// New creates the metric set and registers it with reg. A nil reg leaves
// the metrics unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "checks_total",
			Help:      "Consistency checks run, by result.",
		}, []string{"result"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "check_duration_seconds",
			Help:      "Wall time of consistency check scans.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}),
		inconsistencies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "inconsistencies_total",
			Help:      "Inconsistencies detected, by kind.",
		}, []string{"kind"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "repairs_total",
			Help:      "Repair attempts, by kind and result.",
		}, []string{"kind", "result"}),
		updaterBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "batches_total",
			Help:      "Change batches handled by the index updater, by result.",
		}, []string{"result"}),
		updaterChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "changes_total",
			Help:      "Change-log entries applied to the index.",
		}),
		notifierPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "polls_total",
			Help:      "Change-log polls, by result.",
		}, []string{"result"}),
		notifierEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "entries_delivered_total",
			Help:      "Change-log entries delivered to observers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.checks,
			m.checkDuration,
			m.inconsistencies,
			m.repairs,
			m.updaterBatches,
			m.updaterChanges,
			m.notifierPolls,
			m.notifierEntries,
		)
	}
	return m
}

// CheckFinished records a finished (or aborted) scan.
func (m *Metrics) CheckFinished(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(result).Inc()
	m.checkDuration.Observe(took.Seconds())
}

// InconsistencyFound counts one detected inconsistency.
func (m *Metrics) InconsistencyFound(kind string) {
	if m == nil {
		return
	}
	m.inconsistencies.WithLabelValues(kind).Inc()
}

// Repaired counts one repair attempt.
func (m *Metrics) Repaired(kind, result string) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(kind, result).Inc()
}

// UpdaterBatch counts one updater batch of n changes.
func (m *Metrics) UpdaterBatch(result string, n int) {
	if m == nil {
		return
	}
	m.updaterBatches.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.updaterChanges.Add(float64(n))
	}
}

// NotifierPoll counts one poll that delivered n entries.
func (m *Metrics) NotifierPoll(result string, n int) {
	if m == nil {
		return
	}
	m.notifierPolls.WithLabelValues(result).Inc()
	m.notifierEntries.Add(float64(n))
}

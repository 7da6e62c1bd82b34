package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// DocCounter reports the number of committed index documents.
type DocCounter interface {
	DocCount() (uint64, error)
}

// PendingCounter reports the number of change-log entries awaiting delivery.
type PendingCounter interface {
	PendingChanges(ctx context.Context) (int, error)
}

// IndexCollector reads gauges from the index and change log at scrape time.
type IndexCollector struct {
	index   DocCounter
	pending PendingCounter

	documents *prometheus.Desc
	changes   *prometheus.Desc
	up        *prometheus.Desc
}

// NewIndexCollector creates a collector. pending may be nil.
func NewIndexCollector(index DocCounter, pending PendingCounter) *IndexCollector {
	return &IndexCollector{
		index:   index,
		pending: pending,

		documents: prometheus.NewDesc(
			namespace+"_index_documents",
			"Number of committed documents in the search index",
			nil, nil,
		),
		changes: prometheus.NewDesc(
			namespace+"_changelog_pending_entries",
			"Number of change-log entries not yet delivered",
			nil, nil,
		),
		up: prometheus.NewDesc(
			namespace+"_index_up",
			"Whether the last scrape could read the index (1) or not (0)",
			nil, nil,
		),
	}
}

func (c *IndexCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.documents
	ch <- c.up
	if c.pending != nil {
		ch <- c.changes
	}
}

func (c *IndexCollector) Collect(ch chan<- prometheus.Metric) {
	count, err := c.index.DocCount()
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
	} else {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
		ch <- prometheus.MustNewConstMetric(c.documents, prometheus.GaugeValue, float64(count))
	}

	if c.pending != nil {
		if n, err := c.pending.PendingChanges(context.Background()); err == nil {
			ch <- prometheus.MustNewConstMetric(c.changes, prometheus.GaugeValue, float64(n))
		}
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notesync"

// Metrics holds the sync collectors. A nil *Metrics records nothing.
type Metrics struct {
	batches       prometheus.Counter
	rows          prometheus.Counter
	batchDuration prometheus.Histogram
	total         prometheus.Gauge
	eta           prometheus.Gauge
	refreshes     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Number of batches published to the index",
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Number of notes published to the index",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to fetch and publish one batch",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_estimate",
			Help:      "Estimated number of notes matching the filter",
		}),
		eta: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eta_seconds",
			Help:      "Estimated seconds until the sync completes",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Number of total estimate refreshes",
		}),
	}

	reg.MustRegister(m.batches, m.rows, m.batchDuration, m.total, m.eta, m.refreshes)

	return m
}

// ObserveBatch records a published batch of n notes.
func (m *Metrics) ObserveBatch(d time.Duration, n int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.rows.Add(float64(n))
	m.batchDuration.Observe(d.Seconds())
}

// SetTotal records the latest total estimate.
func (m *Metrics) SetTotal(total int64) {
	if m == nil {
		return
	}
	m.total.Set(float64(total))
}

// SetETA records the remaining time estimate.
func (m *Metrics) SetETA(d time.Duration) {
	if m == nil {
		return
	}
	m.eta.Set(d.Seconds())
}

// IncRefresh counts a total estimate refresh.
func (m *Metrics) IncRefresh() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

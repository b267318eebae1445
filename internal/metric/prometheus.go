package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "menusync"

// Prometheus is the production Observer. All metrics live under the
// menusync namespace.
type Prometheus struct {
	batchesTotal  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchItems    *prometheus.HistogramVec
	itemsTotal    *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec
	packsTotal    *prometheus.CounterVec
	packBytes     prometheus.Histogram
	packFailures  *prometheus.CounterVec
}

// NewPrometheus builds the Observer and registers its collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batches run, by source.",
			},
			[]string{"source_id"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall time per batch.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"source_id"},
		),
		batchItems: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_items",
				Help:      "Items per batch after deduplication.",
				Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"source_id"},
		),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Items processed, by source and terminal status.",
			},
			[]string{"source_id", "status"},
		),
		itemDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Wall time per item through all stages.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"source_id"},
		),
		packsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packs_written_total",
				Help:      "Replay packs written, by source and item status.",
			},
			[]string{"source_id", "status"},
		),
		packBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pack_bytes",
				Help:      "Compressed replay pack size.",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
		),
		packFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pack_failures_total",
				Help:      "Replay packs that could not be written.",
			},
			[]string{"source_id"},
		),
	}

	reg.MustRegister(
		m.batchesTotal,
		m.batchDuration,
		m.batchItems,
		m.itemsTotal,
		m.itemDuration,
		m.packsTotal,
		m.packBytes,
		m.packFailures,
	)
	return m
}

// BatchStarted implements Observer.
func (m *Prometheus) BatchStarted(sourceID string, items int) {
	m.batchesTotal.WithLabelValues(sourceID).Inc()
	m.batchItems.WithLabelValues(sourceID).Observe(float64(items))
}

// BatchFinished implements Observer.
func (m *Prometheus) BatchFinished(sourceID string, elapsed time.Duration, byStatus map[string]int) {
	m.batchDuration.WithLabelValues(sourceID).Observe(elapsed.Seconds())
	for status, n := range byStatus {
		m.itemsTotal.WithLabelValues(sourceID, status).Add(float64(n))
	}
}

// ItemProcessed implements Observer.
func (m *Prometheus) ItemProcessed(sourceID, status string, elapsed time.Duration) {
	m.itemDuration.WithLabelValues(sourceID).Observe(elapsed.Seconds())
}

// PackWritten implements Observer.
func (m *Prometheus) PackWritten(sourceID, status string, size int) {
	m.packsTotal.WithLabelValues(sourceID, status).Inc()
	m.packBytes.Observe(float64(size))
}

// PackFailed implements Observer.
func (m *Prometheus) PackFailed(sourceID string) {
	m.packFailures.WithLabelValues(sourceID).Inc()
}

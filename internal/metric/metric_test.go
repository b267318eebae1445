package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	m.BatchStarted("treez", 3)
	m.ItemProcessed("treez", "created", 5*time.Millisecond)
	m.ItemProcessed("treez", "rejected", 2*time.Millisecond)
	m.ItemProcessed("treez", "noop", time.Millisecond)
	m.BatchFinished("treez", 80*time.Millisecond, map[string]int{
		"created":  1,
		"rejected": 1,
		"noop":     1,
	})
	m.PackWritten("treez", "created", 512)
	m.PackFailed("treez")

	assert.Equal(t, 1.0, promtest.ToFloat64(m.batchesTotal.WithLabelValues("treez")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.itemsTotal.WithLabelValues("treez", "created")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.itemsTotal.WithLabelValues("treez", "rejected")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.packsTotal.WithLabelValues("treez", "created")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.packFailures.WithLabelValues("treez")))
}

func TestPrometheusRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg)

	// A second registration on the same registry is a programmer error and
	// must panic rather than silently double-count.
	assert.Panics(t, func() { NewPrometheus(reg) })
}

func TestNopObserver(t *testing.T) {
	obs := Nop()

	assert.NotPanics(t, func() {
		obs.BatchStarted("treez", 1)
		obs.BatchFinished("treez", time.Second, map[string]int{"noop": 1})
		obs.ItemProcessed("treez", "noop", time.Millisecond)
		obs.PackWritten("treez", "noop", 1)
		obs.PackFailed("treez")
	})
}

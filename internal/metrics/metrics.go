// Package metrics exposes run progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fentz26/showerflow/internal/models"
)

// Metrics holds the collectors of one run. Each run gets its own
// registry.
type Metrics struct {
	registry *prometheus.Registry

	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	slots    *prometheus.GaugeVec
	workers  prometheus.Gauge
}

// New returns metrics registered on a fresh registry, including the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "showerflow",
			Name:      "step_events_total",
			Help:      "Step lifecycle events by stage kind and event.",
		}, []string{"kind", "event"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "showerflow",
			Name:      "step_duration_seconds",
			Help:      "Wall time of executed steps by stage kind.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 4, 10),
		}, []string{"kind"}),
		slots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "showerflow",
			Name:      "steps",
			Help:      "Steps of the current run by scheduler status.",
		}, []string{"status"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "showerflow",
			Name:      "workers",
			Help:      "Size of the worker pool.",
		}),
	}
	m.registry.MustRegister(
		m.steps, m.duration, m.slots, m.workers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveStep counts a step event of the given kind. d is recorded for
// completed steps.
func (m *Metrics) ObserveStep(kind string, ev models.EventType, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(kind, string(ev)).Inc()
	if ev == models.EventCompleted {
		m.duration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetSlots publishes the status array counts.
func (m *Metrics) SetSlots(counts map[models.SlotStatus]int) {
	if m == nil {
		return
	}
	for _, st := range []models.SlotStatus{models.SlotPending, models.SlotRunning, models.SlotCompleted, models.SlotFailed, models.SlotAbandoned} {
		m.slots.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

// SetWorkers publishes the pool size.
func (m *Metrics) SetWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics exports push and engine activity to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pushbot/internal/eventbus"
	"pushbot/internal/push"
	"pushbot/internal/task/engine"
)

const namespace = "pushbot"

// Metrics owns a private registry; nothing is registered globally.
type Metrics struct {
	reg *prometheus.Registry

	fires    *prometheus.CounterVec
	fireDur  *prometheus.HistogramVec
	events   *prometheus.CounterVec
	taskDur  prometheus.Histogram
	attempts prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "push", Name: "fires_total",
			Help: "Push firings by handler key and outcome.",
		}, []string{"handler", "outcome"}),
		fireDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "push", Name: "fire_duration_seconds",
			Help:    "Time spent in one push firing.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"handler"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Event bus events by type.",
		}, []string{"type"}),
		taskDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "task_duration_seconds",
			Help:    "Duration of finished or failed engine tasks, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "task_attempts",
			Help:    "Attempts used per completed engine task.",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		}),
	}
	m.reg.MustRegister(
		m.fires, m.fireDur, m.events, m.taskDur, m.attempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveFire implements push.Observer.
func (m *Metrics) ObserveFire(key string, outcome push.Outcome, d time.Duration) {
	m.fires.WithLabelValues(key, string(outcome)).Inc()
	m.fireDur.WithLabelValues(key).Observe(d.Seconds())
}

// Gauge exports fn as a gauge sampled on every scrape.
func (m *Metrics) Gauge(subsystem, name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, fn))
}

// BusStats exports the bus delivery counters.
func (m *Metrics) BusStats(s eventbus.Stats) {
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "delivered_total",
			Help: "Events delivered to subscribers.",
		}, func() float64 { return float64(s.Delivered()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "dropped_total",
			Help: "Events dropped because a subscriber was full.",
		}, func() float64 { return float64(s.Dropped()) }),
	)
}

// Consume counts bus events until ctx ends or the subscription closes.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.observe(ev)
		}
	}
}

func (m *Metrics) observe(ev eventbus.Event) {
	m.events.WithLabelValues(ev.Type).Inc()
	te, ok := ev.Data.(engine.TaskEvent)
	if !ok {
		return
	}
	switch ev.Type {
	case "task.finished", "task.failed":
		m.taskDur.Observe(te.Duration.Seconds())
		if te.Attempts > 0 {
			m.attempts.Observe(float64(te.Attempts))
		}
	}
}

// Package metrics exposes store activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prefd"

// Metrics counts store side effects. It implements persistent.Observer.
type Metrics struct {
	registry *prometheus.Registry

	Writes          *prometheus.CounterVec
	WriteErrors     *prometheus.CounterVec
	Broadcasts      *prometheus.CounterVec
	BroadcastErrors *prometheus.CounterVec
	RemoteCalls     *prometheus.CounterVec
	SkippedSets     *prometheus.CounterVec
	Reconciliations *prometheus.CounterVec
	Subscribers     prometheus.Gauge
}

// New creates the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Store files written by the primary.",
		}, []string{"store"}),
		WriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Failed store file writes.",
		}, []string{"store"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "broadcasts_total",
			Help:      "Update notifications sent to secondary processes.",
		}, []string{"store"}),
		BroadcastErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "broadcast_errors_total",
			Help:      "Update notifications that could not be sent.",
		}, []string{"store"}),
		RemoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "remote_calls_total",
			Help:      "Update calls sent to the primary, by result.",
		}, []string{"store", "result"}),
		SkippedSets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "skipped_sets_total",
			Help:      "Sets skipped because the value was unchanged.",
		}, []string{"store"}),
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "reconciliations_total",
			Help:      "Startup reconciliations, by outcome.",
		}, []string{"store", "outcome"}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "subscribers",
			Help:      "Secondary processes listening for updates.",
		}),
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Persisted(store string, err error) {
	if err != nil {
		m.WriteErrors.WithLabelValues(store).Inc()
		return
	}
	m.Writes.WithLabelValues(store).Inc()
}

func (m *Metrics) Broadcasted(store string, err error) {
	if err != nil {
		m.BroadcastErrors.WithLabelValues(store).Inc()
		return
	}
	m.Broadcasts.WithLabelValues(store).Inc()
}

func (m *Metrics) RemoteCalled(store string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RemoteCalls.WithLabelValues(store, result).Inc()
}

func (m *Metrics) Skipped(store string) {
	m.SkippedSets.WithLabelValues(store).Inc()
}

func (m *Metrics) Reconciled(store, outcome string) {
	m.Reconciliations.WithLabelValues(store, outcome).Inc()
}

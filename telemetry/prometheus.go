package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusMetrics records runtime metrics into a Prometheus registry. It
// implements Metrics and also exposes GaugeValue so the health-metric event
// source can poll the runtime's own gauges as trigger conditions.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics constructs a Metrics recorder backed by a fresh
// Prometheus registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// Registry returns the underlying Prometheus registry, e.g. to expose via an
// HTTP handler or to call Gather on directly.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

func tagLabels(tags []string) (labels []string, values []string) {
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
		values = append(values, tags[i+1])
	}
	if len(tags)%2 == 1 {
		labels = append(labels, tags[len(tags)-1])
		values = append(values, "")
	}
	return labels, values
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	labels, values := tagLabels(tags)
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labels)
		m.registry.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.WithLabelValues(values...).Add(value)
}

func (m *PrometheusMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	labels, values := tagLabels(tags)
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, labels)
		m.registry.MustRegister(h)
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.WithLabelValues(values...).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	labels, values := tagLabels(tags)
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labels)
		m.registry.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.WithLabelValues(values...).Set(value)
}

// GaugeValue returns the current value of a previously-recorded gauge with
// the given label values, used by the health-metric event source to evaluate
// threshold conditions without importing the Prometheus client directly.
func (m *PrometheusMetrics) GaugeValue(name string, values ...string) (float64, bool) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	var pb dto.Metric
	if err := g.WithLabelValues(values...).Write(&pb); err != nil {
		return 0, false
	}
	if pb.Gauge == nil {
		return 0, false
	}
	return pb.Gauge.GetValue(), true
}

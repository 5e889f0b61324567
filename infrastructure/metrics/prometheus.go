// Package metrics implements ports.MetricsCollector on Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-cefr/internal/ports"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "cefr"

// PrometheusMetrics creates metric vectors on first use, keyed by name.
// Label names are taken from the first observation of a metric; later
// observations with a different label set are dropped and reported through
// OnError.
type PrometheusMetrics struct {
	namespace string
	registry  *prometheus.Registry
	buckets   map[string][]float64

	// OnError receives registration and label mismatches. It defaults to a
	// no-op so metrics never fail a request.
	OnError func(error)

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// Option configures PrometheusMetrics.
type Option func(*PrometheusMetrics)

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(pm *PrometheusMetrics) { pm.namespace = ns }
}

// WithBuckets sets histogram buckets for one metric name.
func WithBuckets(metric string, buckets []float64) Option {
	return func(pm *PrometheusMetrics) { pm.buckets[metric] = buckets }
}

// WithRuntimeCollectors registers the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(pm *PrometheusMetrics) {
		pm.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// NewPrometheusMetrics creates a collector backed by its own registry.
func NewPrometheusMetrics(opts ...Option) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		namespace:  DefaultNamespace,
		registry:   prometheus.NewRegistry(),
		buckets:    make(map[string][]float64),
		OnError:    func(error) {},
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// Registry exposes the underlying registry, mainly for tests.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry { return pm.registry }

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{Registry: pm.registry})
}

// RecordLatency observes duration in seconds on the histogram named by
// operation.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	pm.RecordHistogram(operation, duration.Seconds(), labels)
}

// RecordCounter adds value to the named counter.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	if value < 0 {
		pm.OnError(fmt.Errorf("counter %s: negative increment %g", metric, value))
		return
	}

	names := labelNames(labels)
	pm.mu.Lock()
	vec, ok := pm.counters[metric]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: pm.namespace,
			Name:      metric,
			Help:      helpFor(metric),
		}, names)
		if !pm.register(metric, vec) {
			pm.mu.Unlock()
			return
		}
		pm.counters[metric] = vec
	}
	pm.mu.Unlock()

	c, err := vec.GetMetricWith(labels)
	if err != nil {
		pm.OnError(ports.NewMetricsError(metric, "record_counter", err))
		return
	}
	c.Add(value)
}

// RecordGauge sets the named gauge.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	names := labelNames(labels)
	pm.mu.Lock()
	vec, ok := pm.gauges[metric]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: pm.namespace,
			Name:      metric,
			Help:      helpFor(metric),
		}, names)
		if !pm.register(metric, vec) {
			pm.mu.Unlock()
			return
		}
		pm.gauges[metric] = vec
	}
	pm.mu.Unlock()

	g, err := vec.GetMetricWith(labels)
	if err != nil {
		pm.OnError(ports.NewMetricsError(metric, "record_gauge", err))
		return
	}
	g.Set(value)
}

// RecordHistogram observes value on the named histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	names := labelNames(labels)
	pm.mu.Lock()
	vec, ok := pm.histograms[metric]
	if !ok {
		buckets := pm.buckets[metric]
		if buckets == nil {
			buckets = prometheus.DefBuckets
		}
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: pm.namespace,
			Name:      metric,
			Help:      helpFor(metric),
			Buckets:   buckets,
		}, names)
		if !pm.register(metric, vec) {
			pm.mu.Unlock()
			return
		}
		pm.histograms[metric] = vec
	}
	pm.mu.Unlock()

	h, err := vec.GetMetricWith(labels)
	if err != nil {
		pm.OnError(ports.NewMetricsError(metric, "record_histogram", err))
		return
	}
	h.Observe(value)
}

// register must be called with pm.mu held.
func (pm *PrometheusMetrics) register(metric string, c prometheus.Collector) bool {
	if err := pm.registry.Register(c); err != nil {
		pm.OnError(ports.NewMetricsError(metric, "register", err))
		return false
	}
	return true
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func helpFor(metric string) string {
	return strings.ReplaceAll(metric, "_", " ") + "."
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

package inference

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// Metric names emitted by the inference middleware.
const (
	MetricInferenceLatency  = "inference_latency_seconds"
	MetricInferenceRequests = "inference_requests_total"
	MetricBreakerState      = "inference_circuit_state"
	MetricBreakerEvents     = "inference_circuit_events_total"
)

// metricsModel records latency and outcome of every inference.
type metricsModel struct {
	next      Model
	source    string
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that reports per-source inference
// latency and request counts labelled by source, model and status.
func MetricsMiddleware(source string, collector ports.MetricsCollector) Middleware {
	return func(next Model) Model {
		return &metricsModel{next: next, source: source, collector: collector}
	}
}

// Infer executes the request while collecting metrics.
func (m *metricsModel) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	start := time.Now()
	dist, err := m.next.Infer(ctx, text)

	if m.collector != nil {
		labels := map[string]string{
			"source": m.source,
			"model":  m.next.ModelID(),
			"status": statusOf(err),
		}
		m.collector.RecordHistogram(MetricInferenceLatency, time.Since(start).Seconds(), labels)
		m.collector.RecordCounter(MetricInferenceRequests, 1, labels)
	}

	return dist, err
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ports.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ports.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// ModelID returns the id of the wrapped model.
func (m *metricsModel) ModelID() string { return m.next.ModelID() }

// collectorBreakerMetrics forwards circuit breaker events to a
// MetricsCollector.
type collectorBreakerMetrics struct {
	source    string
	collector ports.MetricsCollector
}

// NewCircuitBreakerMetrics reports circuit breaker events for source through
// collector.
func NewCircuitBreakerMetrics(source string, collector ports.MetricsCollector) CircuitBreakerMetrics {
	return &collectorBreakerMetrics{source: source, collector: collector}
}

func (c *collectorBreakerMetrics) RecordState(state CircuitBreakerState) {
	c.collector.RecordGauge(MetricBreakerState, float64(state), map[string]string{"source": c.source})
}

func (c *collectorBreakerMetrics) RecordTrip()    { c.event("rejected") }
func (c *collectorBreakerMetrics) RecordSuccess() { c.event("success") }
func (c *collectorBreakerMetrics) RecordFailure() { c.event("failure") }

func (c *collectorBreakerMetrics) event(kind string) {
	c.collector.RecordCounter(MetricBreakerEvents, 1, map[string]string{"source": c.source, "event": kind})
}

package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cefr/internal/ports"
	"github.com/ahrav/go-cefr/internal/testutils"
)

// TestMetricsMiddleware_RecordsStatus tests that each outcome is recorded
// with the matching status label.
func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{name: "success", wantStatus: "success"},
		{name: "generic error", err: errors.New("boom"), wantStatus: "error"},
		{name: "circuit open", err: ErrCircuitOpen, wantStatus: "circuit_open"},
		{name: "timeout", err: ports.ErrTimeout, wantStatus: "timeout"},
		{name: "deadline", err: context.DeadlineExceeded, wantStatus: "timeout"},
		{name: "canceled", err: context.Canceled, wantStatus: "canceled"},
		{name: "rate limited", err: ports.ErrRateLimited, wantStatus: "rate_limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := testutils.NewMockMetricsCollector()
			mock := NewMockModel()
			mock.Error = tt.err
			wrapped := MetricsMiddleware("BERT", collector)(mock)

			_, _ = wrapped.Infer(context.Background(), "text")

			reqs := collector.Records(MetricInferenceRequests)
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.wantStatus, reqs[0].Labels["status"])
			assert.Equal(t, "BERT", reqs[0].Labels["source"])
			assert.Equal(t, "mock-model", reqs[0].Labels["model"])

			lat := collector.Records(MetricInferenceLatency)
			require.Len(t, lat, 1)
			assert.Equal(t, "histogram", lat[0].Kind)
		})
	}
}

func TestMetricsMiddleware_RecordsLatency(t *testing.T) {
	collector := testutils.NewMockMetricsCollector()
	mock := NewMockModel()
	mock.ResponseDelay = 20 * time.Millisecond
	wrapped := MetricsMiddleware("Doc2Vec", collector)(mock)

	_, err := wrapped.Infer(context.Background(), "text")
	require.NoError(t, err)

	lat := collector.Records(MetricInferenceLatency)
	require.Len(t, lat, 1)
	assert.GreaterOrEqual(t, lat[0].Value, 0.02)
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	wrapped := MetricsMiddleware("x", nil)(NewMockModel())
	_, err := wrapped.Infer(context.Background(), "text")
	assert.NoError(t, err)
}

func TestCircuitBreakerMetrics_ForwardsToCollector(t *testing.T) {
	collector := testutils.NewMockMetricsCollector()
	metrics := NewCircuitBreakerMetrics("BERT", collector)

	metrics.RecordFailure()
	metrics.RecordTrip()
	metrics.RecordSuccess()
	metrics.RecordState(StateOpen)

	assert.Equal(t, 1.0, collector.CounterTotal(MetricBreakerEvents, map[string]string{"event": "failure"}))
	assert.Equal(t, 1.0, collector.CounterTotal(MetricBreakerEvents, map[string]string{"event": "rejected"}))
	assert.Equal(t, 3.0, collector.CounterTotal(MetricBreakerEvents, map[string]string{"source": "BERT"}))

	states := collector.Records(MetricBreakerState)
	require.Len(t, states, 1)
	assert.Equal(t, float64(StateOpen), states[0].Value)
}

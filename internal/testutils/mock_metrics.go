package testutils

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-cefr/internal/ports"
)

// MetricRecord is one call captured by MockMetricsCollector.
type MetricRecord struct {
	Kind   string
	Name   string
	Value  float64
	Labels map[string]string
}

// MockMetricsCollector records every metric in memory.
type MockMetricsCollector struct {
	mu      sync.Mutex
	records []MetricRecord
}

var _ ports.MetricsCollector = (*MockMetricsCollector)(nil)

// NewMockMetricsCollector creates an empty collector.
func NewMockMetricsCollector() *MockMetricsCollector {
	return &MockMetricsCollector{}
}

func (m *MockMetricsCollector) add(kind, name string, v float64, labels map[string]string) {
	cp := make(map[string]string, len(labels))
	for k, val := range labels {
		cp[k] = val
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, MetricRecord{Kind: kind, Name: name, Value: v, Labels: cp})
}

// RecordLatency implements ports.MetricsCollector.
func (m *MockMetricsCollector) RecordLatency(op string, d time.Duration, labels map[string]string) {
	m.add("latency", op, d.Seconds(), labels)
}

// RecordCounter implements ports.MetricsCollector.
func (m *MockMetricsCollector) RecordCounter(name string, v float64, labels map[string]string) {
	m.add("counter", name, v, labels)
}

// RecordGauge implements ports.MetricsCollector.
func (m *MockMetricsCollector) RecordGauge(name string, v float64, labels map[string]string) {
	m.add("gauge", name, v, labels)
}

// RecordHistogram implements ports.MetricsCollector.
func (m *MockMetricsCollector) RecordHistogram(name string, v float64, labels map[string]string) {
	m.add("histogram", name, v, labels)
}

// Records returns every record with the given metric name.
func (m *MockMetricsCollector) Records(name string) []MetricRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MetricRecord
	for _, r := range m.records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// CounterTotal sums a counter across records whose labels include every
// pair in match.
func (m *MockMetricsCollector) CounterTotal(name string, match map[string]string) float64 {
	var total float64
	for _, r := range m.Records(name) {
		if r.Kind == "counter" && labelsMatch(r.Labels, match) {
			total += r.Value
		}
	}
	return total
}

// Names returns the distinct metric names seen, sorted.
func (m *MockMetricsCollector) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, r := range m.records {
		seen[r.Name] = true
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if !strings.EqualFold(have[k], v) {
			return false
		}
	}
	return true
}

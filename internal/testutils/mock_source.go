// Package testutils provides shared test doubles for the ensemble, its
// sources and the serving layer.
package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// MockSource implements ports.PredictionSource with scripted behaviour.
// Configure the exported fields before the source is shared; call tracking is
// safe for concurrent use.
type MockSource struct {
	// SourceName is returned by Name.
	SourceName string

	// Distribution is returned on success. Label is its arg-max unless
	// LabelOverride is set.
	Distribution domain.Distribution

	// LabelOverride forces the returned label, e.g. to build shape faults.
	LabelOverride *domain.Level

	// Err, when set, makes every call fail with an InferenceError wrapping it.
	Err error

	// Delay is waited before answering. The wait honours ctx unless
	// IgnoreContext is set, which simulates a hung backend.
	Delay         time.Duration
	IgnoreContext bool

	mu        sync.Mutex
	calls     int
	lastText  string
	inFlight  int
	maxFlight int
}

var _ ports.PredictionSource = (*MockSource)(nil)

// NewMockSource creates a source that always predicts label with the given
// peak probability, spreading the rest evenly over the other levels.
func NewMockSource(name string, label domain.Level, peak float64) *MockSource {
	return &MockSource{SourceName: name, Distribution: Peaked(label, peak)}
}

// NewFailingSource creates a source whose every call fails with err.
func NewFailingSource(name string, err error) *MockSource {
	return &MockSource{SourceName: name, Err: err}
}

// Peaked returns a five-level distribution with peak on label.
func Peaked(label domain.Level, peak float64) domain.Distribution {
	d := make(domain.Distribution, domain.NumLevels)
	rest := (1 - peak) / float64(domain.NumLevels-1)
	for i := range d {
		d[i] = rest
	}
	d[label] = peak
	return d
}

// Name implements ports.PredictionSource.
func (m *MockSource) Name() string { return m.SourceName }

// Predict implements ports.PredictionSource.
func (m *MockSource) Predict(ctx context.Context, text string) (domain.ModelPrediction, error) {
	m.mu.Lock()
	m.calls++
	m.lastText = text
	m.inFlight++
	if m.inFlight > m.maxFlight {
		m.maxFlight = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.Delay > 0 {
		if m.IgnoreContext {
			time.Sleep(m.Delay)
		} else {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return domain.ModelPrediction{}, domain.NewInferenceError(m.SourceName, ctx.Err())
			}
		}
	}

	if m.Err != nil {
		return domain.ModelPrediction{}, domain.NewInferenceError(m.SourceName, m.Err)
	}

	label := m.Distribution.ArgMax()
	if m.LabelOverride != nil {
		label = *m.LabelOverride
	}
	return domain.ModelPrediction{
		Source:       m.SourceName,
		Label:        label,
		Distribution: m.Distribution.Clone(),
	}, nil
}

// Calls returns how many times Predict was invoked.
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastText returns the text of the most recent call.
func (m *MockSource) LastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastText
}

// MaxConcurrent returns the highest number of overlapping Predict calls seen.
func (m *MockSource) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxFlight
}

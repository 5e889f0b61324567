package inference

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-cefr/internal/domain"
)

// MockModel provides a configurable Model for testing middleware and
// sources. Configure it before use; tracking fields are safe to read through
// the accessor methods while calls are in flight.
type MockModel struct {
	// Response configuration.
	Distribution  domain.Distribution
	Error         error
	ID            string
	ResponseDelay time.Duration

	// IgnoreContext makes the delay uninterruptible, simulating a backend
	// that does not honor cancellation.
	IgnoreContext bool

	// FailUntilAttempt fails the first N calls, then succeeds.
	FailUntilAttempt int

	mu             sync.Mutex
	callCount      int
	lastText       string
	callTimestamps []time.Time
}

// NewMockModel creates a MockModel that returns a B1-peaked distribution.
func NewMockModel() *MockModel {
	return &MockModel{
		Distribution: domain.Distribution{0.05, 0.15, 0.6, 0.15, 0.05},
		ID:           "mock-model",
	}
}

// errSimulated is returned by failing attempts when no Error is configured.
var errSimulated = errors.New("simulated failure")

// Infer implements Model.
func (m *MockModel) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	m.mu.Lock()
	m.callCount++
	call := m.callCount
	m.lastText = text
	m.callTimestamps = append(m.callTimestamps, time.Now())
	m.mu.Unlock()

	if m.ResponseDelay > 0 {
		if m.IgnoreContext {
			time.Sleep(m.ResponseDelay)
		} else {
			select {
			case <-time.After(m.ResponseDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt {
		if m.Error != nil {
			return nil, m.Error
		}
		return nil, errSimulated
	}
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Distribution.Clone(), nil
}

// ModelID implements Model.
func (m *MockModel) ModelID() string { return m.ID }

// CallCount returns the number of times Infer was called.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastText returns the text of the most recent call.
func (m *MockModel) LastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastText
}

// TimeBetweenCalls returns the duration between two recorded calls, or false
// if either index is out of range.
func (m *MockModel) TimeBetweenCalls(call1, call2 int) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call1 < 0 || call2 < 0 || call1 >= len(m.callTimestamps) || call2 >= len(m.callTimestamps) {
		return 0, false
	}
	return m.callTimestamps[call2].Sub(m.callTimestamps[call1]), true
}

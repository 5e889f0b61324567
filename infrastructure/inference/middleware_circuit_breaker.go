package inference

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-cefr/internal/domain"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a request
// without calling the model.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed allows all requests to pass through normally.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen

	// StateHalfOpen admits a single trial request to test recovery.
	StateHalfOpen
)

// String returns a lowercase state name for logs and metric labels.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerMetrics enables observability for circuit breaker behavior.
type CircuitBreakerMetrics interface {
	// RecordState updates the current circuit breaker state metric.
	RecordState(state CircuitBreakerState)

	// RecordTrip increments the rejected request counter.
	RecordTrip()

	// RecordSuccess increments the successful request counter.
	RecordSuccess()

	// RecordFailure increments the failed request counter.
	RecordFailure()
}

// CircuitBreaker trips open after maxFailures consecutive failures and stays
// open for the cooldown before letting one trial through.
//
// The lock is never held while the wrapped call runs, so concurrent requests
// against a healthy model proceed in parallel.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	lastFailure      time.Time
	trialInFlight    bool
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the specified configuration.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      maxFailures,
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// Call executes fn through the circuit breaker. If the circuit is open, or a
// half-open trial is already in flight, it returns ErrCircuitOpen without
// calling fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.record(trial, err)
	return err
}

func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cooldownDuration {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trialInFlight = true
		return true, nil
	case StateHalfOpen:
		if cb.trialInFlight {
			return false, ErrCircuitOpen
		}
		cb.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}

	// A caller giving up is not evidence that the model is unhealthy.
	if errors.Is(err, context.Canceled) {
		if trial {
			cb.state = StateOpen
		}
		return
	}

	if err != nil {
		cb.failureCount++
		cb.lastFailure = cb.now()
		if trial || cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	cb.failureCount = 0
	cb.state = StateClosed
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// circuitBreakerModel guards a model with a CircuitBreaker.
type circuitBreakerModel struct {
	next    Model
	cb      *CircuitBreaker
	metrics CircuitBreakerMetrics
}

// CircuitBreakerMiddleware creates middleware that implements the circuit
// breaker pattern.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics creates circuit breaker middleware that
// reports every outcome to metrics.
func CircuitBreakerMiddlewareWithMetrics(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)

	return func(next Model) Model {
		return &circuitBreakerModel{next: next, cb: cb, metrics: metrics}
	}
}

// Infer executes the request through the circuit breaker.
func (c *circuitBreakerModel) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	var dist domain.Distribution
	err := c.cb.Call(func() error {
		var err error
		dist, err = c.next.Infer(ctx, text)
		return err
	})

	if c.metrics != nil {
		switch {
		case err == nil:
			c.metrics.RecordSuccess()
		case errors.Is(err, ErrCircuitOpen):
			c.metrics.RecordTrip()
		default:
			c.metrics.RecordFailure()
		}
		c.metrics.RecordState(c.cb.GetState())
	}

	if err != nil {
		return nil, err
	}
	return dist, nil
}

// ModelID returns the id of the wrapped model.
func (c *circuitBreakerModel) ModelID() string { return c.next.ModelID() }

package inference

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// retryModel retries transient inference failures with exponential backoff.
type retryModel struct {
	next       Model
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries failed inferences up to
// maxRetries times with jittered exponential backoff. Open circuits, invalid
// responses, context cancellation and errors that report themselves as not
// retryable stop the loop immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next Model) Model {
		return &retryModel{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// Infer executes the request with automatic retry logic.
func (r *retryModel) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		dist, err := r.next.Infer(ctx, text)
		if err == nil {
			return dist, nil
		}
		lastErr = err

		if !shouldRetry(err) || ctx.Err() != nil || attempt == r.maxRetries {
			break
		}

		delay := r.calculateDelay(attempt)
		if hint := retryAfter(err); hint > delay {
			delay = min(hint, r.maxDelay)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("inference failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

// retryable is implemented by errors that know whether they are transient,
// such as *ports.ModelError.
type retryable interface {
	IsRetryable() bool
}

func shouldRetry(err error) bool {
	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ports.ErrInvalidResponse) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

// retryAfter returns the backend's Retry-After hint, or zero.
func retryAfter(err error) time.Duration {
	var me *ports.ModelError
	if errors.As(err, &me) && me.RetryAfter != nil {
		return *me.RetryAfter
	}
	return 0
}

func (r *retryModel) calculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	// #nosec G115 - attempt is bounded between 0 and 30
	delay := time.Duration(float64(r.baseDelay) * float64(uint64(1)<<uint(attempt)))

	// Jitter in [-25%, +25%].
	// #nosec G404 - weak RNG is fine for jitter
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - delay/4

	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

// ModelID returns the id of the wrapped model.
func (r *retryModel) ModelID() string { return r.next.ModelID() }

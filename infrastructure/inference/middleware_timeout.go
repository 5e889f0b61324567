package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// timeoutModel bounds every inference attempt.
type timeoutModel struct {
	next    Model
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces a per-attempt deadline.
// A deadline hit is reported as ports.ErrTimeout wrapping
// context.DeadlineExceeded.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Model) Model {
		return &timeoutModel{next: next, timeout: timeout}
	}
}

// Infer executes the request with a timeout context.
func (t *timeoutModel) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	dist, err := t.next.Infer(ctx, text)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ports.ErrTimeout) {
		return nil, fmt.Errorf("%w after %s: %w", ports.ErrTimeout, t.timeout, err)
	}
	return dist, err
}

// ModelID returns the id of the wrapped model.
func (t *timeoutModel) ModelID() string { return t.next.ModelID() }

package inference

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// rateLimitedModel paces inference calls with a token bucket.
type rateLimitedModel struct {
	next    Model
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a
// token bucket. limit is requests per second, burst allows short spikes.
// All models wrapped by the returned middleware share one bucket.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next Model) Model {
		return &rateLimitedModel{next: next, limiter: limiter}
	}
}

// Infer waits for a token before forwarding the request. If the context
// expires first the call fails with ports.ErrRateLimited.
func (r *rateLimitedModel) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrRateLimited, err)
	}
	return r.next.Infer(ctx, text)
}

// ModelID returns the id of the wrapped model.
func (r *rateLimitedModel) ModelID() string { return r.next.ModelID() }

// Package inference adapts raw classifier backends into prediction sources.
//
// Every backend (naive Bayes, doc2vec network, transformer server, LLM grader)
// implements the small Model interface. Cross-cutting behaviour such as
// timeouts, retries, circuit breaking, rate limiting, metrics and tracing is
// layered on with Middleware, and Source turns the decorated Model into a
// ports.PredictionSource that validates every distribution it returns.
//
// Basic usage:
//
//	model := inference.Chain(nbModel,
//	    inference.TracingMiddleware("Naive Bayes"),
//	    inference.MetricsMiddleware("Naive Bayes", collector),
//	    inference.TimeoutMiddleware(5*time.Second),
//	)
//	src, err := inference.NewSource("Naive Bayes", model)
package inference

import (
	"context"

	"github.com/ahrav/go-cefr/internal/domain"
)

// Model is the minimal contract a classifier backend implements.
type Model interface {
	// Infer returns the class probability distribution for text. The
	// distribution is indexed by domain.Level.
	Infer(ctx context.Context, text string) (domain.Distribution, error)

	// ModelID identifies the underlying model, e.g. an artifact path or a
	// remote model name. It is used for metrics and tracing.
	ModelID() string
}

// Middleware wraps a Model to add cross-cutting behaviour.
type Middleware func(Model) Model

// Chain applies mws to m so that the first middleware is the outermost.
func Chain(m Model, mws ...Middleware) Model {
	for i := len(mws) - 1; i >= 0; i-- {
		m = mws[i](m)
	}
	return m
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc struct {
	ID string
	Fn func(ctx context.Context, text string) (domain.Distribution, error)
}

// Infer calls f.Fn.
func (f ModelFunc) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	return f.Fn(ctx, text)
}

// ModelID returns f.ID.
func (f ModelFunc) ModelID() string { return f.ID }

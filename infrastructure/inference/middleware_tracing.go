package inference

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-cefr/internal/domain"
)

const tracerName = "github.com/ahrav/go-cefr/infrastructure/inference"

// tracedModel wraps each inference in an OpenTelemetry span.
type tracedModel struct {
	next   Model
	source string
	tracer trace.Tracer
}

// TracingMiddleware creates middleware that records an "inference.infer" span
// per call using the global tracer provider.
func TracingMiddleware(source string) Middleware {
	return TracingMiddlewareWithTracer(source, otel.Tracer(tracerName))
}

// TracingMiddlewareWithTracer is TracingMiddleware with an explicit tracer.
func TracingMiddlewareWithTracer(source string, tracer trace.Tracer) Middleware {
	return func(next Model) Model {
		return &tracedModel{next: next, source: source, tracer: tracer}
	}
}

// Infer executes the request within a span.
func (t *tracedModel) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	ctx, span := t.tracer.Start(ctx, "inference.infer",
		trace.WithAttributes(
			attribute.String("cefr.source", t.source),
			attribute.String("cefr.model", t.next.ModelID()),
			attribute.Int("cefr.text.length", len(text)),
		),
	)
	defer span.End()

	dist, err := t.next.Infer(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("cefr.label", int(dist.ArgMax())),
		attribute.Float64Slice("cefr.distribution", dist),
	)
	span.SetStatus(codes.Ok, "")
	return dist, nil
}

// ModelID returns the id of the wrapped model.
func (t *tracedModel) ModelID() string { return t.next.ModelID() }

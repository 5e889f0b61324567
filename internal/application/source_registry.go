package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-cefr/infrastructure/artifacts"
	"github.com/ahrav/go-cefr/infrastructure/doc2vec"
	"github.com/ahrav/go-cefr/infrastructure/inference"
	"github.com/ahrav/go-cefr/infrastructure/llmgrader"
	"github.com/ahrav/go-cefr/infrastructure/naivebayes"
	"github.com/ahrav/go-cefr/infrastructure/transformer"
	"github.com/ahrav/go-cefr/internal/ports"
)

// ModelFactory builds a raw model backend from its decoded parameters.
// Factories load every artifact they need before returning.
type ModelFactory func(ctx context.Context, params map[string]any) (inference.Model, error)

// BuiltinSourceTypes returns the source types every registry supports, in
// sorted order.
func BuiltinSourceTypes() []string {
	types := []string{naivebayes.Type, doc2vec.Type, transformer.Type, llmgrader.Type}
	slices.Sort(types)
	return types
}

// SourceRegistry creates prediction sources from configuration. It maps
// source types to model factories and wraps every model in the resilience
// and observability middleware its SourceConfig asks for.
// The naive_bayes, doc2vec, transformer and llm_grader types are
// registered by default; RegisterModelFactory adds more.
type SourceRegistry struct {
	// factories maps source type strings to their factory functions.
	factories map[string]ModelFactory
	// mu protects concurrent access to the factories map.
	mu sync.RWMutex

	loader  *artifacts.Loader
	metrics ports.MetricsCollector
	tracer  trace.Tracer
	logger  *slog.Logger
}

// RegistryOption configures a SourceRegistry.
type RegistryOption func(*SourceRegistry)

// WithRegistryMetrics reports per-source inference and circuit breaker
// metrics through m.
func WithRegistryMetrics(m ports.MetricsCollector) RegistryOption {
	return func(r *SourceRegistry) { r.metrics = m }
}

// WithRegistryTracer sets the tracer used for per-source spans.
func WithRegistryTracer(t trace.Tracer) RegistryOption {
	return func(r *SourceRegistry) { r.tracer = t }
}

// WithRegistryLogger sets the logger used while building sources.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *SourceRegistry) { r.logger = l }
}

// NewSourceRegistry creates a registry whose artifact-backed sources load
// through loader.
func NewSourceRegistry(loader *artifacts.Loader, opts ...RegistryOption) *SourceRegistry {
	r := &SourceRegistry{
		factories: make(map[string]ModelFactory),
		loader:    loader,
		tracer:    otel.Tracer("github.com/ahrav/go-cefr/internal/application"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registerBuiltinFactories()
	return r
}

func (r *SourceRegistry) registerBuiltinFactories() {
	loader := r.loader

	r.factories[naivebayes.Type] = func(ctx context.Context, params map[string]any) (inference.Model, error) {
		return naivebayes.NewFromConfig(ctx, loader, params)
	}
	r.factories[doc2vec.Type] = func(ctx context.Context, params map[string]any) (inference.Model, error) {
		return doc2vec.NewFromConfig(ctx, loader, params)
	}
	r.factories[transformer.Type] = func(_ context.Context, params map[string]any) (inference.Model, error) {
		return transformer.NewFromConfig(params)
	}
	r.factories[llmgrader.Type] = func(_ context.Context, params map[string]any) (inference.Model, error) {
		return llmgrader.NewFromConfig(params)
	}
}

// RegisterModelFactory registers factory for sourceType, replacing any
// existing registration.
func (r *SourceRegistry) RegisterModelFactory(sourceType string, factory ModelFactory) error {
	if sourceType == "" {
		return fmt.Errorf("source type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[sourceType] = factory
	return nil
}

// SupportedTypes returns the registered source types in sorted order.
func (r *SourceRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// CreateSource builds the model described by cfg, wraps it in the
// configured middleware chain and returns it as a prediction source.
func (r *SourceRegistry) CreateSource(ctx context.Context, cfg SourceConfig) (*inference.Source, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("source name cannot be empty")
	}

	params, err := decodeParameters(cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}

	model, err := factory(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create source %s of type %s: %w", cfg.Name, cfg.Type, err)
	}

	src, err := inference.NewSource(cfg.Name, inference.Chain(model, r.middleware(cfg)...))
	if err != nil {
		return nil, err
	}

	r.logger.Info("prediction source ready",
		"source", cfg.Name,
		"type", cfg.Type,
		"model", src.ModelID(),
	)
	return src, nil
}

// BuildSources creates every configured source concurrently and returns
// them in configuration order. Any failure aborts the whole build.
func (r *SourceRegistry) BuildSources(ctx context.Context, cfgs []SourceConfig) ([]ports.PredictionSource, error) {
	sources := make([]ports.PredictionSource, len(cfgs))

	g, ctx := errgroup.WithContext(ctx)
	for i, cfg := range cfgs {
		g.Go(func() error {
			src, err := r.CreateSource(ctx, cfg)
			if err != nil {
				return err
			}
			sources[i] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sources, nil
}

// middleware returns the chain for cfg, outermost first: tracing, metrics,
// circuit breaker, retry, rate limit, timeout. Disabled policies are
// omitted.
func (r *SourceRegistry) middleware(cfg SourceConfig) []inference.Middleware {
	mws := []inference.Middleware{inference.TracingMiddlewareWithTracer(cfg.Name, r.tracer)}

	if r.metrics != nil {
		mws = append(mws, inference.MetricsMiddleware(cfg.Name, r.metrics))
	}

	if cb := cfg.CircuitBreaker; cb.MaxFailures > 0 {
		if r.metrics != nil {
			mws = append(mws, inference.CircuitBreakerMiddlewareWithMetrics(cb.MaxFailures, cb.Cooldown,
				inference.NewCircuitBreakerMetrics(cfg.Name, r.metrics)))
		} else {
			mws = append(mws, inference.CircuitBreakerMiddleware(cb.MaxFailures, cb.Cooldown))
		}
	}

	if rc := cfg.Retry; rc.MaxAttempts > 1 {
		maxDelay := rc.MaxDelay
		if maxDelay == 0 {
			maxDelay = max(rc.BaseDelay*8, rc.BaseDelay)
		}
		mws = append(mws, inference.RetryMiddleware(rc.MaxAttempts-1, rc.BaseDelay, maxDelay))
	}

	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		mws = append(mws, inference.RateLimitMiddleware(rate.Limit(rl.RequestsPerSecond), max(rl.Burst, 1)))
	}

	if cfg.Timeout > 0 {
		mws = append(mws, inference.TimeoutMiddleware(cfg.Timeout))
	}

	return mws
}

// Package application wires prediction sources into the CEFR ensemble and
// loads the service configuration that describes them.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// Metric names emitted by the ensemble.
const (
	MetricPredictLatency = "ensemble_predict_seconds"
	MetricPredictions    = "ensemble_predictions_total"
	MetricSourceFailures = "ensemble_source_failures_total"
	MetricMeanConfidence = "ensemble_mean_confidence"
	MetricAgreement      = "ensemble_agreement_ratio"
)

// DefaultSourceTimeout bounds a single source call when no timeout is
// configured.
const DefaultSourceTimeout = 30 * time.Second

// Ensemble is the aggregator service. It fans a text out to every
// registered prediction source, waits for all of them and combines their
// predictions into one EnsembleResult.
//
// The set of sources is fixed at construction and shared read-only by all
// calls, so an Ensemble is safe for concurrent use. A prediction either
// includes every source or fails: any source error or timeout yields a
// *domain.PartialEnsembleError and no result.
type Ensemble struct {
	sources        []ports.PredictionSource
	aggregator     domain.Aggregator
	timeout        time.Duration
	maxConcurrency int

	logger  *slog.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// EnsembleOption configures an Ensemble.
type EnsembleOption func(*Ensemble)

// WithSourceTimeout bounds each source call. Non-positive values are
// ignored.
func WithSourceTimeout(d time.Duration) EnsembleOption {
	return func(e *Ensemble) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxConcurrency caps how many sources run at once. Non-positive values
// run every source concurrently.
func WithMaxConcurrency(n int) EnsembleOption {
	return func(e *Ensemble) { e.maxConcurrency = n }
}

// WithAggregator replaces the default vote aggregator.
func WithAggregator(a domain.Aggregator) EnsembleOption {
	return func(e *Ensemble) { e.aggregator = a }
}

// WithLogger sets the logger for per-request diagnostics.
func WithLogger(l *slog.Logger) EnsembleOption {
	return func(e *Ensemble) { e.logger = l }
}

// WithMetrics reports prediction metrics through m.
func WithMetrics(m ports.MetricsCollector) EnsembleOption {
	return func(e *Ensemble) { e.metrics = m }
}

// WithTracer sets the tracer for prediction spans.
func WithTracer(t trace.Tracer) EnsembleOption {
	return func(e *Ensemble) { e.tracer = t }
}

// NewEnsemble creates an Ensemble over sources, which are consulted and
// reported in the given order. It returns domain.ErrNoSources for an empty
// list and domain.ErrDuplicateSource when two sources share a name.
func NewEnsemble(sources []ports.PredictionSource, opts ...EnsembleOption) (*Ensemble, error) {
	if len(sources) == 0 {
		return nil, domain.ErrNoSources
	}

	seen := make(map[string]struct{}, len(sources))
	for i, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("source %d is nil", i)
		}
		name := src.Name()
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateSource, name)
		}
		seen[name] = struct{}{}
	}

	e := &Ensemble{
		sources:    append([]ports.PredictionSource(nil), sources...),
		aggregator: domain.VoteAggregator{NumClasses: domain.NumLevels},
		timeout:    DefaultSourceTimeout,
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/ahrav/go-cefr/internal/application"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxConcurrency <= 0 || e.maxConcurrency > len(e.sources) {
		e.maxConcurrency = len(e.sources)
	}
	return e, nil
}

// NewEnsembleFromConfig builds every configured source through registry and
// returns an Ensemble tuned by cfg.Ensemble. All artifacts are loaded before
// it returns.
func NewEnsembleFromConfig(
	ctx context.Context,
	cfg *Config,
	registry *SourceRegistry,
	opts ...EnsembleOption,
) (*Ensemble, error) {
	sources, err := registry.BuildSources(ctx, cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to build sources: %w", err)
	}

	base := []EnsembleOption{
		WithSourceTimeout(cfg.Ensemble.SourceTimeout),
		WithMaxConcurrency(cfg.Ensemble.MaxConcurrency),
		WithAggregator(domain.VoteAggregator{NumClasses: cfg.Ensemble.NumLevels}),
	}
	return NewEnsemble(sources, append(base, opts...)...)
}

// SourceNames returns the registered source names in order.
func (e *Ensemble) SourceNames() []string {
	names := make([]string, len(e.sources))
	for i, src := range e.sources {
		names[i] = src.Name()
	}
	return names
}

// Predict classifies text with every source and aggregates the results.
//
// Text that is empty or only whitespace fails with a
// *domain.InvalidInputError before any source is called. Predict does not
// trim text; callers that want trimming do it themselves.
func (e *Ensemble) Predict(ctx context.Context, text string) (*domain.EnsembleResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "ensemble.predict",
		trace.WithAttributes(
			attribute.Int("cefr.sources", len(e.sources)),
			attribute.Int("cefr.text.length", len(text)),
		),
	)
	defer span.End()

	result, err := e.predict(ctx, text)
	e.record(start, result, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("cefr.majority_label", result.MajorityLabel.String()),
		attribute.String("cefr.mean_label", result.MeanLabel.String()),
		attribute.Int("cefr.agreement_count", result.AgreementCount),
		attribute.Bool("cefr.quorum_met", result.QuorumMet),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (e *Ensemble) predict(ctx context.Context, text string) (*domain.EnsembleResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewInvalidInputError("text is empty")
	}

	preds, failures := e.fanOut(ctx, text)
	if len(failures) > 0 {
		for _, f := range failures {
			e.logger.ErrorContext(ctx, "prediction source failed", "source", f.Source, "error", f.Err)
		}
		return nil, &domain.PartialEnsembleError{Failures: failures, Total: len(e.sources)}
	}

	for _, p := range preds {
		e.logger.DebugContext(ctx, "source prediction",
			"source", p.Source,
			"label", p.Label.String(),
			"distribution", []float64(p.Distribution),
		)
	}

	result, err := e.aggregator.Aggregate(text, preds)
	if err != nil {
		e.logger.ErrorContext(ctx, "aggregation failed", "error", err)
		return nil, err
	}

	e.logger.DebugContext(ctx, "ensemble aggregation",
		"vote_counts", result.VoteCounts,
		"mean_distribution", []float64(result.MeanDistribution),
	)
	e.logger.InfoContext(ctx, "ensemble prediction",
		"majority_label", result.MajorityLabel.String(),
		"majority_confidence", result.MajorityConfidence,
		"mean_label", result.MeanLabel.String(),
		"mean_confidence", result.MeanConfidence,
		"agreement", fmt.Sprintf("%d/%d", result.AgreementCount, result.NumSources),
		"quorum_met", result.QuorumMet,
	)
	return result, nil
}

// fanOut calls every source with bounded concurrency and waits for all of
// them. Predictions are returned in registration order; failures likewise.
func (e *Ensemble) fanOut(ctx context.Context, text string) ([]domain.ModelPrediction, []*domain.InferenceError) {
	preds := make([]domain.ModelPrediction, len(e.sources))
	errs := make([]*domain.InferenceError, len(e.sources))

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, src := range e.sources {
		g.Go(func() error {
			preds[i], errs[i] = e.call(ctx, src, text)
			return nil
		})
	}
	_ = g.Wait()

	var failures []*domain.InferenceError
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	return preds, failures
}

// call runs one source under the per-source deadline. A source that ignores
// its context is abandoned when the deadline passes; its goroutine finishes
// in the background and its late answer is discarded.
func (e *Ensemble) call(ctx context.Context, src ports.PredictionSource, text string) (domain.ModelPrediction, *domain.InferenceError) {
	name := src.Name()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		pred domain.ModelPrediction
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		pred, err := src.Predict(ctx, text)
		done <- outcome{pred: pred, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return domain.ModelPrediction{}, asInferenceError(name, out.err)
		}
		out.pred.Source = name
		return out.pred, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: no answer within %s: %w", ports.ErrTimeout, e.timeout, err)
		}
		return domain.ModelPrediction{}, domain.NewInferenceError(name, err)
	}
}

// asInferenceError keeps a source's own InferenceError and wraps anything
// else.
func asInferenceError(name string, err error) *domain.InferenceError {
	var ie *domain.InferenceError
	if errors.As(err, &ie) && ie.Source == name {
		return ie
	}
	return domain.NewInferenceError(name, err)
}

func (e *Ensemble) record(start time.Time, result *domain.EnsembleResult, err error) {
	if e.metrics == nil {
		return
	}

	status := "success"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = "invalid_input"
	case errors.Is(err, domain.ErrPartialEnsemble):
		status = "partial"
	case err != nil:
		status = "error"
	}

	e.metrics.RecordLatency(MetricPredictLatency, time.Since(start), map[string]string{"status": status})
	e.metrics.RecordCounter(MetricPredictions, 1, map[string]string{"status": status})

	var partial *domain.PartialEnsembleError
	if errors.As(err, &partial) {
		for _, f := range partial.Failures {
			e.metrics.RecordCounter(MetricSourceFailures, 1, map[string]string{"source": f.Source})
		}
	}

	if result != nil {
		quorum := "false"
		if result.QuorumMet {
			quorum = "true"
		}
		e.metrics.RecordHistogram(MetricMeanConfidence, result.MeanConfidence, nil)
		e.metrics.RecordHistogram(MetricAgreement, result.MajorityConfidence,
			map[string]string{"quorum_met": quorum})
	}
}

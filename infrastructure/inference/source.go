package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// Source exposes a Model as a ports.PredictionSource.
//
// Every distribution the model returns is validated before it leaves the
// source. Any model error or malformed distribution is reported as a
// *domain.InferenceError naming the source. Source holds no mutable state and
// is safe for concurrent use whenever its Model is.
type Source struct {
	name      string
	model     Model
	tolerance float64
}

var _ ports.PredictionSource = (*Source)(nil)

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithSumTolerance overrides how far a distribution's total may drift from 1.
func WithSumTolerance(tol float64) SourceOption {
	return func(s *Source) { s.tolerance = tol }
}

// NewSource creates a Source named name backed by model.
func NewSource(name string, model Model, opts ...SourceOption) (*Source, error) {
	if name == "" {
		return nil, errors.New("source name is required")
	}
	if model == nil {
		return nil, fmt.Errorf("source %q: model is required", name)
	}

	s := &Source{name: name, model: model, tolerance: domain.DefaultSumTolerance}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the registered source name.
func (s *Source) Name() string { return s.name }

// ModelID returns the identifier of the wrapped model.
func (s *Source) ModelID() string { return s.model.ModelID() }

// Predict runs the model and converts its distribution into a prediction. The
// label is the arg-max of the distribution.
func (s *Source) Predict(ctx context.Context, text string) (domain.ModelPrediction, error) {
	dist, err := s.model.Infer(ctx, text)
	if err != nil {
		return domain.ModelPrediction{}, domain.NewInferenceError(s.name, err)
	}
	if err := dist.Validate(s.tolerance); err != nil {
		return domain.ModelPrediction{}, domain.NewInferenceError(s.name,
			fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err))
	}

	return domain.ModelPrediction{
		Source:       s.name,
		Label:        dist.ArgMax(),
		Distribution: dist.Clone(),
	}, nil
}

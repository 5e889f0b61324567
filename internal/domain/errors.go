package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by the ensemble and its prediction sources. Callers should
// match them with errors.Is; the typed errors below carry the details.
var (
	// ErrInvalidInput indicates the text to classify was rejected before any
	// source was consulted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInference indicates a single prediction source could not produce a
	// prediction.
	ErrInference = errors.New("inference failed")

	// ErrPartialEnsemble indicates at least one source failed, so no ensemble
	// result was produced.
	ErrPartialEnsemble = errors.New("partial ensemble")

	// ErrDistributionShape indicates sources disagree on the number of classes
	// or a label does not index its distribution.
	ErrDistributionShape = errors.New("distribution shape mismatch")

	// ErrInvalidDistribution indicates a distribution is empty, contains
	// non-finite or negative values, or does not sum to 1.
	ErrInvalidDistribution = errors.New("invalid distribution")

	// ErrNoSources indicates an ensemble was built or aggregated without any
	// prediction sources.
	ErrNoSources = errors.New("no prediction sources")

	// ErrDuplicateSource indicates two sources were registered under the same
	// name.
	ErrDuplicateSource = errors.New("duplicate source name")
)

// InvalidInputError reports text the ensemble refuses to classify.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.Reason }

// Is matches ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// NewInvalidInputError creates an InvalidInputError with the given reason.
func NewInvalidInputError(reason string) *InvalidInputError {
	return &InvalidInputError{Reason: reason}
}

// InferenceError reports a failure of one named prediction source. Timeouts
// are reported the same way, with Err wrapping context.DeadlineExceeded.
type InferenceError struct {
	// Source is the registered name of the failing source.
	Source string

	// Err is the underlying cause.
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference error: source=%s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InferenceError) Unwrap() error { return e.Err }

// Is matches ErrInference.
func (e *InferenceError) Is(target error) bool { return target == ErrInference }

// NewInferenceError wraps err as a failure of the named source.
func NewInferenceError(source string, err error) *InferenceError {
	return &InferenceError{Source: source, Err: err}
}

// PartialEnsembleError reports that one or more sources failed during a single
// ensemble call. It never accompanies a result.
type PartialEnsembleError struct {
	// Failures holds one entry per failed source, in registration order.
	Failures []*InferenceError

	// Total is the number of sources that were consulted.
	Total int
}

func (e *PartialEnsembleError) Error() string {
	msg := fmt.Sprintf("partial ensemble: %d of %d sources failed [%s]",
		len(e.Failures), e.Total, strings.Join(e.FailedSources(), ", "))
	if len(e.Failures) > 0 {
		msg += ": " + e.Failures[0].Err.Error()
	}
	return msg
}

// Unwrap exposes every source failure to errors.Is and errors.As.
func (e *PartialEnsembleError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Is matches ErrPartialEnsemble.
func (e *PartialEnsembleError) Is(target error) bool { return target == ErrPartialEnsemble }

// FailedSources returns the names of the failed sources.
func (e *PartialEnsembleError) FailedSources() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Source
	}
	return names
}

// DistributionShapeError reports a prediction whose shape is inconsistent with
// the rest of the ensemble. This is a deployment fault, not a transient one.
type DistributionShapeError struct {
	// Source names the offending source when known.
	Source string

	// Index is the position of the offending prediction in registration order.
	Index int

	// Expected and Got are distribution lengths.
	Expected int
	Got      int

	// Reason overrides the default length-mismatch message.
	Reason string
}

func (e *DistributionShapeError) Error() string {
	who := e.Source
	if who == "" {
		who = fmt.Sprintf("#%d", e.Index)
	}
	if e.Reason != "" {
		return fmt.Sprintf("distribution shape error: source=%s: %s", who, e.Reason)
	}
	return fmt.Sprintf("distribution shape error: source=%s: expected %d classes, got %d",
		who, e.Expected, e.Got)
}

// Is matches ErrDistributionShape.
func (e *DistributionShapeError) Is(target error) bool { return target == ErrDistributionShape }

package ports

import (
	"context"

	"github.com/ahrav/go-cefr/internal/domain"
)

// PredictionSource is one trained classifier taking part in the ensemble.
//
// Implementations wrap a single model (bag-of-words, embedding network,
// transformer, ...) behind a uniform contract so the ensemble can treat every
// variant identically. A source must be safe for concurrent use: the ensemble
// is shared by all requests and calls Predict from many goroutines at once.
type PredictionSource interface {
	// Name returns the identifier the source was registered under. It labels
	// the source's entries in every ensemble result and must be unique within
	// one ensemble.
	Name() string

	// Predict classifies non-empty text. On success the returned prediction
	// carries the source's name, a label, and a distribution whose length is
	// the number of classes the source was trained on.
	//
	// Any failure must be reported as an error wrapping a
	// *domain.InferenceError; sources never return a best-effort prediction.
	// Implementations should honor ctx cancellation, but the ensemble does not
	// rely on it to enforce deadlines.
	Predict(ctx context.Context, text string) (domain.ModelPrediction, error)
}

// Package naivebayes implements the bag-of-words CEFR classifier: a
// multinomial naive Bayes model over n-gram counts or tf-idf weights.
package naivebayes

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-cefr/infrastructure/artifacts"
	"github.com/ahrav/go-cefr/infrastructure/inference"
	"github.com/ahrav/go-cefr/infrastructure/textproc"
	"github.com/ahrav/go-cefr/internal/domain"
)

// Type is the source type name used in configuration.
const Type = "naive_bayes"

var validate = validator.New()

// Config holds the parameters of a naive Bayes source.
type Config struct {
	// ModelPath locates the artifact, relative to the model cache directory.
	ModelPath string `yaml:"model_path" json:"model_path" validate:"required"`
}

// DefaultConfig returns the layout the model downloader produces.
func DefaultConfig() Config {
	return Config{ModelPath: "nb/model.json"}
}

// Model scores text with a loaded Artifact. It is immutable after
// construction and safe for concurrent use.
type Model struct {
	id        string
	art       *Artifact
	tokenizer textproc.Tokenizer
	minN      int
	maxN      int
}

var _ inference.Model = (*Model)(nil)

// New loads the artifact named by cfg and builds a Model.
func New(ctx context.Context, loader *artifacts.Loader, cfg Config) (*Model, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	art, err := artifacts.Load[Artifact](ctx, loader, cfg.ModelPath, Schema)
	if err != nil {
		return nil, err
	}
	return NewFromArtifact(loader.Resolve(cfg.ModelPath), art)
}

// NewFromArtifact builds a Model from an already decoded artifact.
func NewFromArtifact(id string, art *Artifact) (*Model, error) {
	if err := art.check(); err != nil {
		return nil, fmt.Errorf("naive bayes artifact %s: %w", id, err)
	}

	mode, err := textproc.ParseMode(art.TokenMode)
	if err != nil {
		return nil, err
	}
	return &Model{
		id:        id,
		art:       art,
		tokenizer: textproc.Tokenizer{Mode: mode, Lowercase: art.Lowercase},
		minN:      max(art.NGramRange[0], 1),
		maxN:      max(art.NGramRange[1], 1),
	}, nil
}

// NewFromConfig creates a Model from a raw parameter map, overlaying it on
// DefaultConfig.
func NewFromConfig(ctx context.Context, loader *artifacts.Loader, params map[string]any) (*Model, error) {
	data, err := yaml.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return New(ctx, loader, cfg)
}

// ModelID returns the artifact path.
func (m *Model) ModelID() string { return m.id }

// NumClasses returns the number of classes the model predicts.
func (m *Model) NumClasses() int { return len(m.art.Classes) }

// Infer implements inference.Model.
func (m *Model) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := m.vectorize(text)

	jll := make([]float64, len(m.art.Classes))
	for c := range jll {
		s := m.art.ClassLogPrior[c]
		row := m.art.FeatureLogProb[c]
		for _, f := range features {
			s += f.weight * row[f.col]
		}
		jll[c] = s
	}

	probs, err := domain.Softmax(jll)
	if err != nil {
		return nil, fmt.Errorf("normalize joint log likelihood: %w", err)
	}

	out := make(domain.Distribution, len(probs))
	for row, p := range probs {
		out[m.art.Classes[row]] = p
	}
	return out, nil
}

// feature is one non-zero entry of a document vector.
type feature struct {
	col    int
	weight float64
}

// vectorize returns the sparse feature vector of text ordered by column.
// Terms outside the vocabulary are ignored. The fixed order keeps every
// floating-point sum over the vector reproducible.
func (m *Model) vectorize(text string) []feature {
	terms := textproc.Counts(textproc.NGrams(m.tokenizer.Tokens(text), m.minN, m.maxN))

	counts := make(map[int]float64, len(terms))
	for t, n := range terms {
		if col, ok := m.art.Vocabulary[t]; ok {
			counts[col] += float64(n)
		}
	}

	features := make([]feature, 0, len(counts))
	for col, tf := range counts {
		features = append(features, feature{col: col, weight: tf})
	}
	slices.SortFunc(features, func(a, b feature) int { return cmp.Compare(a.col, b.col) })

	for i := range features {
		f := &features[i]
		if m.art.SublinearTF {
			f.weight = 1 + math.Log(f.weight)
		}
		if m.art.IDF != nil {
			f.weight *= m.art.IDF[f.col]
		}
	}

	var norm float64
	switch m.art.Norm {
	case "l2":
		for _, f := range features {
			norm += f.weight * f.weight
		}
		norm = math.Sqrt(norm)
	case "l1":
		for _, f := range features {
			norm += math.Abs(f.weight)
		}
	}
	if norm > 0 {
		for i := range features {
			features[i].weight /= norm
		}
	}
	return features
}

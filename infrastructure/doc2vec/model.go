// Package doc2vec implements the embedding CEFR classifier. A document is
// embedded as the mean of its word vectors and scored by a two layer
// feed-forward network.
package doc2vec

import (
	"context"
	"fmt"
	"slices"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-cefr/infrastructure/artifacts"
	"github.com/ahrav/go-cefr/infrastructure/inference"
	"github.com/ahrav/go-cefr/infrastructure/textproc"
	"github.com/ahrav/go-cefr/internal/domain"
)

// Type is the source type name used in configuration.
const Type = "doc2vec"

var validate = validator.New()

// Config holds the parameters of a doc2vec source.
type Config struct {
	ModelPath string `yaml:"model_path" json:"model_path" validate:"required"`

	// MaxEditDistance bounds the fuzzy lookup for out-of-vocabulary words.
	// Zero disables it.
	MaxEditDistance int `yaml:"max_edit_distance" json:"max_edit_distance" validate:"gte=0,lte=3"`
}

// DefaultConfig returns the standard doc2vec settings.
func DefaultConfig() Config {
	return Config{
		ModelPath:       "doc2vec/model.json",
		MaxEditDistance: 1,
	}
}

// Model is safe for concurrent use.
type Model struct {
	id        string
	art       *Artifact
	tokenizer textproc.Tokenizer
	maxDist   int

	// byLen groups the vocabulary by rune length, each group sorted, so
	// fuzzy lookups only scan plausible candidates in a stable order.
	byLen map[int][]string
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
	return NewFromArtifact(loader.Resolve(cfg.ModelPath), art, cfg.MaxEditDistance)
}

// NewFromArtifact builds a Model from a decoded artifact.
func NewFromArtifact(id string, art *Artifact, maxEditDistance int) (*Model, error) {
	if err := art.check(); err != nil {
		return nil, fmt.Errorf("doc2vec artifact %s: %w", id, err)
	}

	m := &Model{
		id:  id,
		art: art,
		tokenizer: textproc.Tokenizer{
			Mode:      textproc.ModeWhitespace,
			Lowercase: art.Lowercase,
		},
		maxDist: maxEditDistance,
	}
	if maxEditDistance > 0 {
		m.byLen = make(map[int][]string)
		for w := range art.Vectors {
			n := len([]rune(w))
			m.byLen[n] = append(m.byLen[n], w)
		}
		for _, words := range m.byLen {
			slices.Sort(words)
		}
	}
	return m, nil
}

// NewFromConfig creates a Model from a raw parameter map.
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

// NumClasses returns the width of the output layer.
func (m *Model) NumClasses() int {
	out, _ := m.art.FC2.shape()
	return out
}

// Infer implements inference.Model.
func (m *Model) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hidden := dense(&m.art.FC1, m.Embed(text))
	for i, v := range hidden {
		if v < 0 {
			hidden[i] = 0
		}
	}
	logits := dense(&m.art.FC2, hidden)

	probs, err := domain.Softmax(logits)
	if err != nil {
		return nil, fmt.Errorf("normalize logits: %w", err)
	}
	return probs, nil
}

// Embed returns the document vector for text: the mean of the vectors of
// its known words, or the zero vector when no word is known.
func (m *Model) Embed(text string) []float64 {
	vec := make([]float64, m.art.EmbeddingDim)

	var n int
	for _, tok := range m.tokenizer.Tokens(text) {
		wv, ok := m.lookup(tok)
		if !ok {
			continue
		}
		for i, x := range wv {
			vec[i] += x
		}
		n++
	}
	if n > 0 {
		for i := range vec {
			vec[i] /= float64(n)
		}
	}
	return vec
}

func (m *Model) lookup(word string) ([]float64, bool) {
	if v, ok := m.art.Vectors[word]; ok {
		return v, true
	}
	if m.maxDist == 0 {
		return nil, false
	}

	best, bestDist := "", m.maxDist+1
	n := len([]rune(word))
	for l := n - m.maxDist; l <= n+m.maxDist; l++ {
		for _, cand := range m.byLen[l] {
			if d := levenshtein.ComputeDistance(word, cand); d < bestDist {
				best, bestDist = cand, d
			}
		}
	}
	if best == "" {
		return nil, false
	}
	return m.art.Vectors[best], true
}

func dense(l *Layer, x []float64) []float64 {
	out := make([]float64, len(l.Weight))
	for i, row := range l.Weight {
		s := l.Bias[i]
		for j, w := range row {
			s += w * x[j]
		}
		out[i] = s
	}
	return out
}

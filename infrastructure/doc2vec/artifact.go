package doc2vec

import (
	"fmt"

	"github.com/ahrav/go-cefr/infrastructure/artifacts"
)

// Layer is a dense layer with Weight shaped [out][in].
type Layer struct {
	Weight [][]float64 `json:"weight" validate:"min=1"`
	Bias   []float64   `json:"bias" validate:"min=1"`
}

func (l *Layer) shape() (out, in int) {
	return len(l.Weight), len(l.Weight[0])
}

func (l *Layer) check(name string, wantIn int) error {
	if len(l.Weight) == 0 || len(l.Weight[0]) == 0 {
		return fmt.Errorf("%s has no weights", name)
	}
	out, in := l.shape()
	if in != wantIn {
		return fmt.Errorf("%s expects %d inputs, got %d", name, wantIn, in)
	}
	if len(l.Bias) != out {
		return fmt.Errorf("%s has %d outputs but %d biases", name, out, len(l.Bias))
	}
	for i, row := range l.Weight {
		if len(row) != in {
			return fmt.Errorf("%s weight row %d has %d columns, want %d", name, i, len(row), in)
		}
	}
	return nil
}

// Artifact holds the word embeddings and the two layer feed-forward head.
type Artifact struct {
	EmbeddingDim int                  `json:"embedding_dim" validate:"gt=0"`
	Vectors      map[string][]float64 `json:"vectors" validate:"min=1"`
	FC1          Layer                `json:"fc1"`
	FC2          Layer                `json:"fc2"`

	// DropoutRate is recorded for provenance; dropout is inactive at
	// inference time.
	DropoutRate float64 `json:"dropout_rate" validate:"gte=0,lt=1"`

	// Lowercase folds case before lookup.
	Lowercase bool `json:"lowercase"`
}

// Schema guards doc2vec artifacts before decoding.
var Schema = &artifacts.Schema{
	Name: "doc2vec-ffn-v1",
	Definition: `{
		"$defs": {
			"matrix": {"type": "array", "minItems": 1, "items": {"type": "array", "minItems": 1, "items": {"type": "number"}}},
			"layer": {
				"type": "object",
				"required": ["weight", "bias"],
				"properties": {
					"weight": {"$ref": "#/$defs/matrix"},
					"bias": {"type": "array", "minItems": 1, "items": {"type": "number"}}
				}
			}
		},
		"type": "object",
		"required": ["embedding_dim", "vectors", "fc1", "fc2"],
		"properties": {
			"embedding_dim": {"type": "integer", "minimum": 1},
			"vectors": {"type": "object", "minProperties": 1, "additionalProperties": {"type": "array", "items": {"type": "number"}}},
			"fc1": {"$ref": "#/$defs/layer"},
			"fc2": {"$ref": "#/$defs/layer"},
			"dropout_rate": {"type": "number", "minimum": 0, "exclusiveMaximum": 1},
			"lowercase": {"type": "boolean"}
		}
	}`,
}

func (a *Artifact) check() error {
	for w, v := range a.Vectors {
		if len(v) != a.EmbeddingDim {
			return fmt.Errorf("vector for %q has %d dimensions, want %d", w, len(v), a.EmbeddingDim)
		}
	}
	if err := a.FC1.check("fc1", a.EmbeddingDim); err != nil {
		return err
	}
	hidden, _ := a.FC1.shape()
	return a.FC2.check("fc2", hidden)
}

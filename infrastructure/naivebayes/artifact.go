package naivebayes

import (
	"fmt"
	"math"

	"github.com/ahrav/go-cefr/infrastructure/artifacts"
)

// Artifact is a multinomial naive Bayes classifier exported together with
// the vectorizer it was trained with.
type Artifact struct {
	// Classes maps each model row to its CEFR class index.
	Classes []int `json:"classes" validate:"min=2,dive,min=0"`

	// Vocabulary maps a term (unigram or space-joined n-gram) to its feature
	// column.
	Vocabulary map[string]int `json:"vocabulary" validate:"min=1"`

	// ClassLogPrior is log P(class), one entry per row.
	ClassLogPrior []float64 `json:"class_log_prior" validate:"min=2"`

	// FeatureLogProb is log P(term | class), rows by class, columns by term.
	FeatureLogProb [][]float64 `json:"feature_log_prob" validate:"min=2"`

	// NGramRange is the inclusive [min, max] n-gram size of the vectorizer.
	NGramRange [2]int `json:"ngram_range"`

	// Lowercase mirrors the vectorizer's lowercase flag.
	Lowercase bool `json:"lowercase"`

	// TokenMode selects the tokenizer: "word" or "whitespace".
	TokenMode string `json:"token_mode,omitempty" validate:"omitempty,oneof=word whitespace"`

	// IDF, when present, turns raw counts into tf-idf weights.
	IDF []float64 `json:"idf,omitempty"`

	// Norm is the row normalization applied after weighting: "l2", "l1" or
	// empty for none.
	Norm string `json:"norm,omitempty" validate:"omitempty,oneof=l1 l2"`

	// SublinearTF replaces tf with 1 + log(tf).
	SublinearTF bool `json:"sublinear_tf,omitempty"`
}

// Schema guards naive Bayes artifacts before decoding.
var Schema = &artifacts.Schema{
	Name: "naive-bayes-v1",
	Definition: `{
		"type": "object",
		"required": ["classes", "vocabulary", "class_log_prior", "feature_log_prob"],
		"properties": {
			"classes": {"type": "array", "items": {"type": "integer", "minimum": 0}, "minItems": 2},
			"vocabulary": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 0}},
			"class_log_prior": {"type": "array", "items": {"type": "number"}},
			"feature_log_prob": {"type": "array", "items": {"type": "array", "items": {"type": "number"}}},
			"ngram_range": {"type": "array", "items": {"type": "integer", "minimum": 1}, "minItems": 2, "maxItems": 2},
			"lowercase": {"type": "boolean"},
			"token_mode": {"enum": ["", "word", "whitespace"]},
			"idf": {"type": "array", "items": {"type": "number"}},
			"norm": {"enum": ["", "l1", "l2"]},
			"sublinear_tf": {"type": "boolean"}
		}
	}`,
}

// check verifies the cross-field invariants the schema cannot express.
func (a *Artifact) check() error {
	rows := len(a.Classes)
	if len(a.ClassLogPrior) != rows || len(a.FeatureLogProb) != rows {
		return fmt.Errorf("classes, class_log_prior and feature_log_prob disagree on class count (%d, %d, %d)",
			rows, len(a.ClassLogPrior), len(a.FeatureLogProb))
	}

	seen := make([]bool, rows)
	for _, c := range a.Classes {
		if c >= rows || seen[c] {
			return fmt.Errorf("classes must be a permutation of 0..%d, got %v", rows-1, a.Classes)
		}
		seen[c] = true
	}

	cols := len(a.FeatureLogProb[0])
	for i, row := range a.FeatureLogProb {
		if len(row) != cols {
			return fmt.Errorf("feature_log_prob row %d has %d columns, want %d", i, len(row), cols)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 1) {
				return fmt.Errorf("feature_log_prob row %d contains %g", i, v)
			}
		}
	}
	for term, col := range a.Vocabulary {
		if col >= cols {
			return fmt.Errorf("vocabulary term %q maps to column %d, only %d columns", term, col, cols)
		}
	}
	if a.IDF != nil && len(a.IDF) != cols {
		return fmt.Errorf("idf has %d entries, want %d", len(a.IDF), cols)
	}
	if a.NGramRange[0] > a.NGramRange[1] {
		return fmt.Errorf("invalid ngram_range %v", a.NGramRange)
	}
	return nil
}

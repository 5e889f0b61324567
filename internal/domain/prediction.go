package domain

import (
	"bytes"
	"encoding/json"
)

// ModelPrediction is the output of one prediction source for one text.
type ModelPrediction struct {
	// Source is the name the source was registered under.
	Source string `json:"source"`

	// Label is the class the source predicted.
	Label Level `json:"label"`

	// Distribution is the probability of every class, indexed by Level.
	Distribution Distribution `json:"distribution"`
}

// OrderedMap is a string-keyed map that remembers insertion order. Range and
// JSON encoding both follow that order, so two results built from the same
// source list always serialize identically.
type OrderedMap[V any] struct {
	keys   []string
	values map[string]V
}

// NewOrderedMap returns an empty map with room for n entries.
func NewOrderedMap[V any](n int) *OrderedMap[V] {
	return &OrderedMap[V]{
		keys:   make([]string, 0, n),
		values: make(map[string]V, n),
	}
}

// Set stores v under key. Re-setting an existing key keeps its position.
func (m *OrderedMap[V]) Set(key string, v V) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value stored under key.
func (m *OrderedMap[V]) Get(key string) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *OrderedMap[V]) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int { return len(m.keys) }

// Range calls fn for every entry in insertion order until fn returns false.
func (m *OrderedMap[V]) Range(fn func(key string, v V) bool) {
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// MarshalJSON encodes the map as a JSON object with keys in insertion order.
func (m *OrderedMap[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EnsembleResult is the combined decision of every registered source for a
// single text. It is only ever built when all sources succeeded.
type EnsembleResult struct {
	// InputText is the text exactly as the ensemble received it.
	InputText string

	// Predictions holds every source's output in registration order.
	Predictions []ModelPrediction

	// MeanDistribution is the element-wise mean of all source distributions.
	MeanDistribution Distribution

	// MeanLabel is the arg-max of MeanDistribution, lowest index on ties.
	MeanLabel Level

	// MeanConfidence is MeanDistribution[MeanLabel].
	MeanConfidence float64

	// MajorityLabel is the most voted label, lowest label on ties.
	MajorityLabel Level

	// MajorityConfidence is AgreementCount / NumSources.
	MajorityConfidence float64

	// AgreementCount is the number of sources that voted for MajorityLabel.
	AgreementCount int

	// NumSources is the number of sources consulted.
	NumSources int

	// QuorumMet reports whether more than half of the sources agree with
	// MajorityLabel. It is descriptive only.
	QuorumMet bool

	// AllAgree reports whether every source predicted the same label.
	AllAgree bool

	// VoteCounts is the number of votes per Level, indexed by Level.
	VoteCounts []int
}

// PerSourcePredictions maps source name to predicted label in registration
// order.
func (r *EnsembleResult) PerSourcePredictions() *OrderedMap[Level] {
	m := NewOrderedMap[Level](len(r.Predictions))
	for _, p := range r.Predictions {
		m.Set(p.Source, p.Label)
	}
	return m
}

// PerSourceDistributions maps source name to its distribution in registration
// order.
func (r *EnsembleResult) PerSourceDistributions() *OrderedMap[Distribution] {
	m := NewOrderedMap[Distribution](len(r.Predictions))
	for _, p := range r.Predictions {
		m.Set(p.Source, p.Distribution)
	}
	return m
}

package domain

import (
	"fmt"
	"math"
)

// DefaultSumTolerance is how far a distribution's total may drift from 1
// before it is rejected as malformed.
const DefaultSumTolerance = 1e-4

// Distribution is a probability distribution over Levels. Index i holds the
// probability of Level(i).
type Distribution []float64

// Validate checks that d is non-empty, every entry is a finite non-negative
// number and the entries sum to 1 within tolerance.
func (d Distribution) Validate(tolerance float64) error {
	if len(d) == 0 {
		return fmt.Errorf("%w: empty distribution", ErrInvalidDistribution)
	}
	for i, p := range d {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: non-finite probability at index %d", ErrInvalidDistribution, i)
		}
		if p < 0 {
			return fmt.Errorf("%w: negative probability %g at index %d", ErrInvalidDistribution, p, i)
		}
	}
	if sum := d.Sum(); math.Abs(sum-1) > tolerance {
		return fmt.Errorf("%w: probabilities sum to %g", ErrInvalidDistribution, sum)
	}
	return nil
}

// Sum returns the total of all entries.
func (d Distribution) Sum() float64 {
	var s float64
	for _, p := range d {
		s += p
	}
	return s
}

// ArgMax returns the index of the largest entry. Ties resolve to the lowest
// index. An empty distribution yields -1.
func (d Distribution) ArgMax() Level {
	if len(d) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(d); i++ {
		if d[i] > d[best] {
			best = i
		}
	}
	return Level(best)
}

// Clone returns an independent copy of d.
func (d Distribution) Clone() Distribution {
	if d == nil {
		return nil
	}
	out := make(Distribution, len(d))
	copy(out, d)
	return out
}

// Normalize rescales non-negative weights so they sum to 1.
func Normalize(weights []float64) (Distribution, error) {
	var total float64
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("%w: invalid weight %g at index %d", ErrInvalidDistribution, w, i)
		}
		total += w
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidDistribution)
	}
	out := make(Distribution, len(weights))
	for i, w := range weights {
		out[i] = w / total
	}
	return out, nil
}

// Softmax converts raw scores (logits or log-probabilities) into a
// distribution. The maximum is subtracted first to keep exp in range.
func Softmax(logits []float64) (Distribution, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("%w: no logits", ErrInvalidDistribution)
	}
	maxLogit := math.Inf(-1)
	for i, z := range logits {
		if math.IsNaN(z) || math.IsInf(z, 1) {
			return nil, fmt.Errorf("%w: invalid logit %g at index %d", ErrInvalidDistribution, z, i)
		}
		if z > maxLogit {
			maxLogit = z
		}
	}
	if math.IsInf(maxLogit, -1) {
		return nil, fmt.Errorf("%w: all logits are -Inf", ErrInvalidDistribution)
	}

	out := make(Distribution, len(logits))
	var sum float64
	for i, z := range logits {
		out[i] = math.Exp(z - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

// MeanDistribution returns the element-wise arithmetic mean of dists. All
// inputs must share the same length.
func MeanDistribution(dists []Distribution) (Distribution, error) {
	if len(dists) == 0 {
		return nil, ErrNoSources
	}
	n := len(dists[0])
	mean := make(Distribution, n)
	for i, d := range dists {
		if len(d) != n {
			return nil, &DistributionShapeError{Index: i, Expected: n, Got: len(d)}
		}
		for j, p := range d {
			mean[j] += p
		}
	}
	k := float64(len(dists))
	for j := range mean {
		mean[j] /= k
	}
	return mean, nil
}

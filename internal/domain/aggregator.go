package domain

import "fmt"

// Aggregator combines the predictions of every source for one text into a
// single EnsembleResult.
//
// Predictions must be supplied in source registration order; implementations
// must be deterministic so that identical inputs give identical results.
// An empty prediction slice returns ErrNoSources, and predictions whose
// distributions differ in length return a *DistributionShapeError.
type Aggregator interface {
	Aggregate(text string, preds []ModelPrediction) (*EnsembleResult, error)
}

// VoteAggregator computes both the mean-probability decision and the
// majority vote over source labels.
//
// The mean label is the arg-max of the element-wise mean distribution. The
// majority label is the label with the most votes. Both break ties toward the
// lowest class index, which on the CEFR scale means the less advanced level.
type VoteAggregator struct {
	// NumClasses, when positive, is the distribution length every source must
	// produce. Zero accepts whatever length the first prediction has.
	NumClasses int
}

var _ Aggregator = VoteAggregator{}

// Aggregate implements Aggregator.
func (a VoteAggregator) Aggregate(text string, preds []ModelPrediction) (*EnsembleResult, error) {
	if len(preds) == 0 {
		return nil, ErrNoSources
	}

	n := a.NumClasses
	if n <= 0 {
		n = len(preds[0].Distribution)
	}
	if n == 0 {
		return nil, &DistributionShapeError{Source: preds[0].Source, Reason: "empty distribution"}
	}

	dists := make([]Distribution, len(preds))
	votes := make([]int, n)
	for i, p := range preds {
		if len(p.Distribution) != n {
			return nil, &DistributionShapeError{Source: p.Source, Index: i, Expected: n, Got: len(p.Distribution)}
		}
		if !p.Label.InRange(n) {
			return nil, &DistributionShapeError{
				Source:   p.Source,
				Index:    i,
				Expected: n,
				Got:      len(p.Distribution),
				Reason:   fmt.Sprintf("label %d outside [0,%d)", int(p.Label), n),
			}
		}
		dists[i] = p.Distribution
		votes[p.Label]++
	}

	mean, err := MeanDistribution(dists)
	if err != nil {
		return nil, err
	}
	meanLabel := mean.ArgMax()

	// Strict > keeps the first, i.e. lowest, label among equal counts.
	majority, distinct := 0, 0
	for label, c := range votes {
		if c > 0 {
			distinct++
		}
		if c > votes[majority] {
			majority = label
		}
	}
	agreement := votes[majority]
	total := len(preds)

	out := make([]ModelPrediction, total)
	for i, p := range preds {
		out[i] = ModelPrediction{Source: p.Source, Label: p.Label, Distribution: p.Distribution.Clone()}
	}

	return &EnsembleResult{
		InputText:          text,
		Predictions:        out,
		MeanDistribution:   mean,
		MeanLabel:          meanLabel,
		MeanConfidence:     mean[meanLabel],
		MajorityLabel:      Level(majority),
		MajorityConfidence: float64(agreement) / float64(total),
		AgreementCount:     agreement,
		NumSources:         total,
		QuorumMet:          QuorumMet(agreement, total),
		AllAgree:           distinct == 1,
		VoteCounts:         votes,
	}, nil
}

// QuorumMet reports whether agreement is a strict majority of total. For an
// odd total this equals agreement >= ceil(total/2). For an even total it is
// stricter: 2 of 4 reaches ceil(4/2) but is not a quorum.
func QuorumMet(agreement, total int) bool { return total > 0 && agreement*2 > total }

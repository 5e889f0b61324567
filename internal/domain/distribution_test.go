package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistribution_Validate(t *testing.T) {
	tests := []struct {
		name    string
		dist    Distribution
		wantErr bool
	}{
		{name: "valid", dist: Distribution{0.1, 0.2, 0.3, 0.2, 0.2}},
		{name: "within tolerance", dist: Distribution{0.2, 0.2, 0.2, 0.2, 0.20005}},
		{name: "empty", dist: Distribution{}, wantErr: true},
		{name: "negative", dist: Distribution{-0.1, 0.5, 0.6}, wantErr: true},
		{name: "NaN", dist: Distribution{math.NaN(), 1}, wantErr: true},
		{name: "Inf", dist: Distribution{math.Inf(1), 0}, wantErr: true},
		{name: "does not sum to one", dist: Distribution{0.5, 0.4}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dist.Validate(DefaultSumTolerance)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDistribution)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDistribution_ArgMax(t *testing.T) {
	assert.Equal(t, Level(2), Distribution{0.1, 0.2, 0.4, 0.2, 0.1}.ArgMax())
	assert.Equal(t, Level(0), Distribution{0.5, 0.5, 0, 0, 0}.ArgMax(), "ties resolve to the lowest index")
	assert.Equal(t, Level(3), Distribution{0, 0, 0, 0.5, 0.5}.ArgMax())
	assert.Equal(t, Level(-1), Distribution{}.ArgMax())
}

func TestSoftmax(t *testing.T) {
	d, err := Softmax([]float64{1000, 1000, 1000, 1000})
	require.NoError(t, err)
	for _, p := range d {
		assert.InDelta(t, 0.25, p, 1e-12)
	}

	d, err = Softmax([]float64{2, 1, 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d.Sum(), 1e-12)
	assert.Equal(t, Level(0), d.ArgMax())

	_, err = Softmax(nil)
	assert.ErrorIs(t, err, ErrInvalidDistribution)

	_, err = Softmax([]float64{math.Inf(-1), math.Inf(-1)})
	assert.ErrorIs(t, err, ErrInvalidDistribution)
}

func TestNormalize(t *testing.T) {
	d, err := Normalize([]float64{2, 2, 4})
	require.NoError(t, err)
	assert.Equal(t, Distribution{0.25, 0.25, 0.5}, d)

	_, err = Normalize([]float64{0, 0})
	assert.ErrorIs(t, err, ErrInvalidDistribution)

	_, err = Normalize([]float64{1, -1})
	assert.ErrorIs(t, err, ErrInvalidDistribution)
}

func TestMeanDistribution(t *testing.T) {
	mean, err := MeanDistribution([]Distribution{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.Equal(t, Distribution{0.5, 0.5}, mean)

	_, err = MeanDistribution([]Distribution{{1, 0}, {1}})
	assert.ErrorIs(t, err, ErrDistributionShape)

	_, err = MeanDistribution(nil)
	assert.ErrorIs(t, err, ErrNoSources)
}

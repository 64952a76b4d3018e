package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

func TestAggregate_AcceptanceExample(t *testing.T) {
	s, err := Aggregate([]float64{0.90, 0.91, 0.89, 0.92, 0.90}, 5)
	require.NoError(t, err)

	assert.InDelta(t, 0.904, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(130e-6), s.Std, 1e-12)
	assert.InDelta(t, 0.0114, s.Std, 5e-5)
}

func TestAggregate_MatchesDefinition(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{"two values", []float64{1, 3}},
		{"constant", []float64{2.5, 2.5, 2.5}},
		{"tauint", []float64{1.7, 1.6, 1.9, 2.2, 1.5}},
		{"negative", []float64{-4, 0, 4, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := len(tt.values)
			s, err := Aggregate(tt.values, n)
			require.NoError(t, err)

			var sum float64
			for _, v := range tt.values {
				sum += v
			}
			mean := sum / float64(n)
			var sq float64
			for _, v := range tt.values {
				sq += (v - mean) * (v - mean)
			}

			assert.InDelta(t, mean, s.Mean, 1e-12)
			assert.InDelta(t, math.Sqrt(sq/float64(n-1)), s.Std, 1e-12)
		})
	}
}

func TestAggregate_TwoValues(t *testing.T) {
	s, err := Aggregate([]float64{1, 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.Mean)
	assert.InDelta(t, math.Sqrt2, s.Std, 1e-12)
}

func TestAggregate_InsufficientSamples(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		_, err := Aggregate([]float64{0.5}, n)
		require.Error(t, err)
		assert.True(t, werrors.IsCode(err, werrors.ErrMetricInsufficientSamples), "n=%d", n)
	}
}

func TestAggregate_SampleCountMismatch(t *testing.T) {
	_, err := Aggregate([]float64{0.9, 0.8, 0.7, 0.6}, 5)
	require.Error(t, err)
	assert.True(t, werrors.IsCode(err, werrors.ErrMetricSampleCountMismatch))

	_, err = Aggregate([]float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4}, 5)
	assert.True(t, werrors.IsCode(err, werrors.ErrMetricSampleCountMismatch))
}

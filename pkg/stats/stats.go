// Package stats reduces repeated sampler measurements to a mean and a
// Bessel-corrected sample standard deviation.
package stats

import (
	"math"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

// Summary is the reduction of one sample vector.
type Summary struct {
	Mean float64
	Std  float64
}

// Aggregate returns the mean and sample standard deviation of values,
// which must hold exactly n entries with n >= 2.
func Aggregate(values []float64, n int) (Summary, error) {
	if n < 2 {
		return Summary{}, werrors.InsufficientSamples(n)
	}
	if len(values) != n {
		return Summary{}, werrors.SampleCountMismatch(len(values), n)
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return Summary{
		Mean: mean,
		Std:  math.Sqrt(sq / float64(n-1)),
	}, nil
}

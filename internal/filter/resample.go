// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package filter

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrZeroWeights is returned when no weight is positive.
	ErrZeroWeights = errors.New("all resampling weights are zero")
	// ErrInvalidWeights is returned for negative or non-finite weights.
	ErrInvalidWeights = errors.New("resampling weights must be finite and >= 0")
)

// Resample draws n indices with replacement, index i being chosen with
// probability weights[i]/sum(weights) (multinomial resampling).
// Indices with zero weight are never returned.
func Resample(weights []float64, n int, src rand.Source) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("resample size must be >= 0, got %d", n)
	}
	idx := make([]int, n)
	cum := make([]float64, len(weights))
	if err := resampleInto(idx, cum, weights, rand.New(src)); err != nil {
		return nil, err
	}
	return idx, nil
}

// resampleInto fills dst with multinomial draws over weights, using cum as
// scratch space for the cumulative sums (len(cum) == len(weights)).
func resampleInto(dst []int, cum, weights []float64, rng *rand.Rand) error {
	if len(weights) == 0 {
		return ErrZeroWeights
	}

	last := -1
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: weights[%d] = %v", ErrInvalidWeights, i, w)
		}
		if w > 0 {
			last = i
		}
	}
	if last < 0 {
		return ErrZeroWeights
	}

	floats.CumSum(cum, weights)
	total := cum[len(cum)-1]

	for i := range dst {
		target := rng.Float64() * total
		// first index whose cumulative weight passes target; a zero weight never
		// raises the cumulative sum so it can never be the first to pass
		j := sort.Search(len(cum), func(k int) bool { return cum[k] > target })
		if j >= len(cum) {
			// rounding at the top end of the range
			j = last
		}
		dst[i] = j
	}
	return nil
}

// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Stream ids reserved next to the particle chunks, which use 1, 2, ...
const (
	// Resampling draws of a filter run
	ResampleStream uint64 = 0
	// Simulate; a filter run never shares draws with data simulated from the same seed
	SimulationStream uint64 = math.MaxUint64 - 1
	// Per-point seed derivation in scans
	SeedStream uint64 = math.MaxUint64
)

// NewSource returns the deterministic PCG stream identified by (seed, stream).
// Filters and scans derive every random stream they use through this function.
func NewSource(seed int64, stream uint64) *rand.PCG {
	return rand.NewPCG(uint64(seed), stream)
}

// Step advances s by one reporting interval and returns the new state.
// The interval is split into p.NSub substeps of width p.DtReport/p.NSub. In each
// substep infections and recoveries are independent Binomial draws using the
// exact exponential waiting-time probabilities 1-exp(-rate*delta).
// The returned C is the number of new infections within this interval only.
func Step(s State, p Params, src rand.Source) State {
	p = p.WithDefaults()
	delta := p.DtReport / float64(p.NSub)

	// recovery probability does not depend on the state
	pRec := clampProb(-math.Expm1(-p.Gamma * delta))
	invN := 1.0 / float64(p.N)

	next := State{S: s.S, I: s.I}
	for k := 0; k < p.NSub; k++ {
		pInf := clampProb(-math.Expm1(-p.Beta * float64(next.I) * invN * delta))

		newInf := binomial(next.S, pInf, src)
		newRec := binomial(next.I, pRec, src)

		next.S -= newInf
		next.I += newInf - newRec
		next.C += newInf
	}
	return next
}

// binomial draws from Binomial(n, p) with the degenerate cases short-circuited.
func binomial(n int, p float64, src rand.Source) int {
	if n <= 0 || p <= 0 {
		return 0
	}
	if p >= 1 {
		return n
	}
	k := int(distuv.Binomial{N: float64(n), P: p, Src: src}.Rand())
	// keep the count inside [0, n] whatever the sampler's rounding
	if k < 0 {
		return 0
	}
	if k > n {
		return n
	}
	return k
}

// clampProb pins a probability computed in floating point to [0, 1].
func clampProb(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package model

import (
	"errors"
	"fmt"
	"math"
)

// Kernel defaults
const (
	// Length of one reporting interval (one day)
	DefaultDtReport = 1.0
	// Number of Binomial substeps per reporting interval
	DefaultNSub = 10
)

// ErrInvalidParams is wrapped by every parameter or state validation failure.
var ErrInvalidParams = errors.New("invalid model parameters")

// State is the compartment state of one particle.
type State struct {
	// Susceptible count
	S int
	// Infectious count
	I int
	// New cases since the start of the current reporting interval
	C int
}

// Recovered returns the implicit recovered count for a population of size n.
func (s State) Recovered(n int) int { return n - s.S - s.I }

// Params holds the SIR rates and population size for one filter run.
type Params struct {
	// Infection rate
	Beta float64
	// Recovery rate
	Gamma float64
	// Total population, constant over the run
	N int

	// Reporting interval length, 0 means DefaultDtReport
	DtReport float64
	// Substeps per reporting interval, 0 means DefaultNSub
	NSub int
}

// WithDefaults fills zero kernel settings with their defaults.
func (p Params) WithDefaults() Params {
	if p.DtReport == 0 {
		p.DtReport = DefaultDtReport
	}
	if p.NSub == 0 {
		p.NSub = DefaultNSub
	}
	return p
}

// Validate rejects parameters that cannot drive the kernel.
// Zero rates are accepted: they describe a frozen compartment, not a contract violation.
func (p Params) Validate() error {
	if !finiteNonNegative(p.Beta) {
		return fmt.Errorf("%w: beta must be finite and >= 0, got %v", ErrInvalidParams, p.Beta)
	}
	if !finiteNonNegative(p.Gamma) {
		return fmt.Errorf("%w: gamma must be finite and >= 0, got %v", ErrInvalidParams, p.Gamma)
	}
	if p.N <= 0 {
		return fmt.Errorf("%w: population size must be > 0, got %d", ErrInvalidParams, p.N)
	}
	if !finiteNonNegative(p.DtReport) {
		return fmt.Errorf("%w: reporting interval must be finite and >= 0, got %v", ErrInvalidParams, p.DtReport)
	}
	if p.NSub < 0 {
		return fmt.Errorf("%w: substeps must be >= 0, got %d", ErrInvalidParams, p.NSub)
	}
	return nil
}

// ValidateState checks that s is a reachable state for a population of size n.
func ValidateState(s State, n int) error {
	if s.S < 0 || s.I < 0 || s.C < 0 {
		return fmt.Errorf("%w: state counts must be >= 0, got %+v", ErrInvalidParams, s)
	}
	if s.S+s.I > n {
		return fmt.Errorf("%w: S+I = %d exceeds population %d", ErrInvalidParams, s.S+s.I, n)
	}
	return nil
}

func finiteNonNegative(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x >= 0
}

// Trajectory is the output of one simulated epidemic, one state per reporting step.
type Trajectory struct {
	// Initial state at t = 0
	Initial State
	// States[t-1] is the state at the end of reporting step t
	States []State
}

// Observed returns the new-case series carried by the trajectory.
func (tr *Trajectory) Observed() []int {
	out := make([]int, len(tr.States))
	for i, s := range tr.States {
		out[i] = s.C
	}
	return out
}

// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package model

import (
	"fmt"
)

// Simulate runs the step kernel `steps` times from u0 with known parameters and
// returns the full trajectory. Its Observed() series is the synthetic data the
// particle filter is asked to recover.
// seed: RNG seed, the same seed always gives the same trajectory
func Simulate(p Params, u0 State, steps int, seed int64) (*Trajectory, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateState(u0, p.N); err != nil {
		return nil, err
	}
	if steps <= 0 {
		return nil, fmt.Errorf("%w: steps must be > 0, got %d", ErrInvalidParams, steps)
	}

	src := NewSource(seed, SimulationStream)

	tr := &Trajectory{
		Initial: u0,
		States:  make([]State, steps),
	}

	cur := u0
	for t := 0; t < steps; t++ {
		cur = Step(cur, p, src)
		tr.States[t] = cur
	}
	return tr, nil
}

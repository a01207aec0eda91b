// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package scan

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"SIR_Particle_Filter_Project/internal/model"
)

// Coordinate names the quantity varied across a scan.
type Coordinate string

// Supported coordinates
const (
	// Infection rate
	CoordBeta Coordinate = "beta"
	// Recovery rate
	CoordGamma Coordinate = "gamma"
	// Initial infectious count; the initial recovered count is held fixed
	CoordI0 Coordinate = "i0"
)

// ParseCoordinate maps a name to a Coordinate.
func ParseCoordinate(name string) (Coordinate, error) {
	switch c := Coordinate(name); c {
	case CoordBeta, CoordGamma, CoordI0:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown coordinate %q (options: beta, gamma, i0)", ErrInvalidScan, name)
}

// apply sets coordinate c to v in the given parameters and initial state.
func (c Coordinate) apply(p *model.Params, u0 *model.State, v float64) error {
	switch c {
	case CoordBeta:
		p.Beta = v
	case CoordGamma:
		p.Gamma = v
	case CoordI0:
		k := math.Round(v)
		if math.Abs(v-k) > 1e-9 {
			return fmt.Errorf("initial infected count must be an integer, got %v", v)
		}
		// S+I is constant so R(0) stays at its baseline value
		total := u0.S + u0.I
		u0.I = int(k)
		u0.S = total - u0.I
	default:
		return fmt.Errorf("unknown coordinate %q", c)
	}
	return nil
}

// Range returns lo, lo+step, ... up to and including hi (within rounding).
func Range(lo, hi, step float64) ([]float64, error) {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("%w: step must be finite and > 0, got %v", ErrInvalidScan, step)
	}
	if hi < lo {
		return nil, fmt.Errorf("%w: upper bound %v below lower bound %v", ErrInvalidScan, hi, lo)
	}

	n := int(math.Floor((hi-lo)/step+1e-9)) + 1
	if n == 1 {
		return []float64{lo}, nil
	}
	// evenly spaced values avoid accumulating step rounding errors
	return floats.Span(make([]float64, n), lo, lo+float64(n-1)*step), nil
}

// Grid1D turns a list of values into one grid row per value.
func Grid1D(values []float64) [][]float64 {
	grid := make([][]float64, len(values))
	for i, v := range values {
		grid[i] = []float64{v}
	}
	return grid
}

// Product returns the cartesian product of the axes, last axis varying fastest.
func Product(axes ...[]float64) [][]float64 {
	if len(axes) == 0 {
		return nil
	}
	grid := [][]float64{{}}
	for _, axis := range axes {
		next := make([][]float64, 0, len(grid)*len(axis))
		for _, row := range grid {
			for _, v := range axis {
				r := make([]float64, len(row), len(row)+1)
				copy(r, row)
				next = append(next, append(r, v))
			}
		}
		grid = next
	}
	return grid
}

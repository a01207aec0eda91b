// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package scan

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Smoother fits a curve through noisy (x, y) pairs and returns the fitted value
// at every x. An external emulator (e.g. a Gaussian process) can be plugged
// into a scan through this interface.
type Smoother interface {
	Smooth(x, y []float64) ([]float64, error)
}

// LOESS is local polynomial regression with tricube weights.
type LOESS struct {
	// Fraction of points used in each local fit, (0, 1]; values > 1 widen the window
	Span float64
	// Local polynomial degree, 0 to 2
	Degree int
}

// DefaultLOESS returns the usual span 0.75, degree 2 smoother.
func DefaultLOESS() LOESS {
	return LOESS{Span: 0.75, Degree: 2}
}

// Smooth implements Smoother.
func (l LOESS) Smooth(x, y []float64) ([]float64, error) {
	return l.FitAt(x, y, x)
}

// FitAt evaluates the LOESS curve through (x, y) at each point of at.
func (l LOESS) FitAt(x, y, at []float64) ([]float64, error) {
	n := len(x)
	if n == 0 {
		return nil, fmt.Errorf("loess: no points to smooth")
	}
	if len(y) != n {
		return nil, fmt.Errorf("loess: x has %d points, y has %d", n, len(y))
	}
	if l.Span <= 0 || math.IsNaN(l.Span) {
		return nil, fmt.Errorf("loess: span must be > 0, got %v", l.Span)
	}
	if l.Degree < 0 || l.Degree > 2 {
		return nil, fmt.Errorf("loess: degree must be 0, 1 or 2, got %d", l.Degree)
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) || math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, fmt.Errorf("loess: point %d is not finite (%v, %v)", i, x[i], y[i])
		}
	}

	// number of neighbours in each local fit
	q := int(math.Ceil(l.Span * float64(n)))
	if q < l.Degree+1 {
		q = l.Degree + 1
	}
	if q > n {
		q = n
	}

	out := make([]float64, len(at))
	dist := make([]float64, n)
	sorted := make([]float64, n)
	for i, x0 := range at {
		for j := range x {
			dist[j] = math.Abs(x[j] - x0)
		}
		copy(sorted, dist)
		sort.Float64s(sorted)

		h := sorted[q-1]
		if l.Span > 1 {
			h *= l.Span
		}
		v, err := l.localFit(x, y, dist, x0, h)
		if err != nil {
			return nil, fmt.Errorf("loess: fit at %v: %w", x0, err)
		}
		out[i] = v
	}
	return out, nil
}

// localFit solves the weighted least squares problem around x0 and returns
// the fitted value at x0.
func (l LOESS) localFit(x, y, dist []float64, x0, h float64) (float64, error) {
	var (
		rows []int
		w    []float64
	)
	for j, d := range dist {
		wj := 1.0
		if h > 0 {
			wj = tricube(d / h)
		} else if d > 0 {
			wj = 0
		}
		if wj > 0 {
			rows = append(rows, j)
			w = append(w, wj)
		}
	}

	if len(rows) == 0 {
		return 0, fmt.Errorf("no points inside the window")
	}

	// a quadratic needs three distinct abscissae, a line two
	deg := l.Degree
	if d := distinctCount(x, rows) - 1; d < deg {
		deg = d
	}
	m := deg + 1
	scale := h
	if scale <= 0 {
		scale = 1
	}

	// rows scaled by sqrt(w) turn the weighted problem into plain OLS
	X := mat.NewDense(len(rows), m, nil)
	Y := mat.NewDense(len(rows), 1, nil)
	for r, j := range rows {
		sw := math.Sqrt(w[r])
		u := (x[j] - x0) / scale
		p := 1.0
		for c := 0; c < m; c++ {
			X.Set(r, c, sw*p)
			p *= u
		}
		Y.Set(r, 0, sw*y[j])
	}

	var B mat.Dense

	// First try: normal equations B = (X'X)^(-1) X'Y
	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err == nil {
		var xty mat.Dense
		xty.Mul(X.T(), Y)
		B.Mul(&xtxInv, &xty)
	} else {
		// Fallback: minimum-norm least squares through the SVD
		var svd mat.SVD
		if ok := svd.Factorize(X, mat.SVDThin); !ok {
			return 0, fmt.Errorf("normal equations singular and SVD failed: %v", err)
		}
		rank := svd.Rank(1e-12)
		if rank == 0 {
			return 0, fmt.Errorf("design matrix has rank 0")
		}
		svd.SolveTo(&B, Y, rank)
	}

	// u = 0 at x0, so the fitted value is the intercept
	return B.At(0, 0), nil
}

func tricube(u float64) float64 {
	if u >= 1 {
		return 0
	}
	t := 1 - u*u*u
	return t * t * t
}

func distinctCount(x []float64, rows []int) int {
	seen := make(map[float64]struct{}, len(rows))
	for _, j := range rows {
		seen[x[j]] = struct{}{}
	}
	return len(seen)
}

// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package scan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SIR_Particle_Filter_Project/internal/model"
)

func TestRange(t *testing.T) {
	x, err := Range(0.35, 0.70, 0.005)
	require.NoError(t, err)
	require.Len(t, x, 71)
	assert.Equal(t, 0.35, x[0])
	assert.InDelta(t, 0.70, x[70], 1e-12)
	assert.InDelta(t, 0.5, x[30], 1e-12)

	x, err = Range(5, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, x)

	x, err = Range(1, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 5, 9}, x)

	_, err = Range(0, 1, 0)
	require.ErrorIs(t, err, ErrInvalidScan)
	_, err = Range(1, 0, 0.1)
	require.ErrorIs(t, err, ErrInvalidScan)
}

func TestProduct(t *testing.T) {
	got := Product([]float64{1, 2}, []float64{10, 20, 30})
	want := [][]float64{
		{1, 10}, {1, 20}, {1, 30},
		{2, 10}, {2, 20}, {2, 30},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Product mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, Product())
	assert.Equal(t, [][]float64{{0.1}, {0.2}}, Grid1D([]float64{0.1, 0.2}))
}

func TestCoordinateApply(t *testing.T) {
	base := model.Params{Beta: 0.5, Gamma: 0.25, N: 1000}
	u0 := model.State{S: 985, I: 10}

	tests := []struct {
		coord      Coordinate
		value      float64
		wantParams model.Params
		wantState  model.State
		wantErr    bool
	}{
		{CoordBeta, 0.6, model.Params{Beta: 0.6, Gamma: 0.25, N: 1000}, u0, false},
		{CoordGamma, 0.1, model.Params{Beta: 0.5, Gamma: 0.1, N: 1000}, u0, false},
		// recovered count (5) is kept
		{CoordI0, 20, base, model.State{S: 975, I: 20}, false},
		{CoordI0, 2.5, base, u0, true},
		{Coordinate("delta"), 1, base, u0, true},
	}
	for _, tt := range tests {
		p, s := base, u0
		err := tt.coord.apply(&p, &s, tt.value)
		if tt.wantErr {
			assert.Error(t, err, "%s=%v", tt.coord, tt.value)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.wantParams, p)
		assert.Equal(t, tt.wantState, s)
	}
}

func TestParseCoordinate(t *testing.T) {
	for _, name := range []string{"beta", "gamma", "i0"} {
		c, err := ParseCoordinate(name)
		require.NoError(t, err)
		assert.Equal(t, Coordinate(name), c)
	}
	_, err := ParseCoordinate("R0")
	require.ErrorIs(t, err, ErrInvalidScan)
}

// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package scan

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SIR_Particle_Filter_Project/internal/filter"
	"SIR_Particle_Filter_Project/internal/model"
)

var (
	smallParams = model.Params{Beta: 0.5, Gamma: 0.25, N: 200}
	smallU0     = model.State{S: 190, I: 10}
)

func smallConfig(t *testing.T) Config {
	t.Helper()
	tr, err := model.Simulate(smallParams, smallU0, 12, 8)
	require.NoError(t, err)

	betas, err := Range(0.3, 0.8, 0.1)
	require.NoError(t, err)

	return Config{
		Base:        smallParams,
		Initial:     smallU0,
		Coordinates: []Coordinate{CoordBeta},
		Grid:        Grid1D(betas),
		Observed:    tr.Observed(),
		NParticles:  2000,
		Seed:        5,
		Workers:     3,
	}
}

var ignoreElapsed = cmpopts.IgnoreFields(filter.Result{}, "Elapsed")

func TestRunReturnsOnePointPerGridRow(t *testing.T) {
	cfg := smallConfig(t)

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, res.Points, len(cfg.Grid))
	require.Len(t, res.Smoothed, len(cfg.Grid))
	for i, pt := range res.Points {
		assert.Equal(t, i, pt.Index)
		assert.Equal(t, cfg.Grid[i], pt.Values)
		require.Len(t, pt.Replicates, 1)
		assert.Equal(t, pt.Failed, pt.Replicates[0].Failed)
		if !pt.Failed {
			assert.Equal(t, pt.Replicates[0].LogLik, pt.LogLik)
		}
	}

	require.Greater(t, res.Feasible(), 0)
	require.GreaterOrEqual(t, res.BestIndex, 0)
	assert.Equal(t, res.Points[res.BestIndex].Values, res.Best)
	assert.Equal(t, res.Smoothed[res.BestIndex], res.BestLogLik)

	require.NotNil(t, res.Interval)
	assert.Equal(t, DefaultLevel, res.Interval.Level)
	assert.LessOrEqual(t, res.Interval.Lower, res.Best[0])
	assert.GreaterOrEqual(t, res.Interval.Upper, res.Best[0])
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Workers = 1
	a, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	cfg.Workers = 6
	cfg.FilterWorkers = 2
	b, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b, ignoreElapsed, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("worker count changed the scan (-serial +parallel):\n%s", diff)
	}
}

func TestRunSharedSeedMatchesDirectFilter(t *testing.T) {
	cfg := smallConfig(t)
	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	// with the shared policy every grid point is filtered with cfg.Seed
	p := smallParams
	p.Beta = cfg.Grid[2][0]
	direct, err := filter.Run(p, smallU0, cfg.Observed, filter.Options{NParticles: cfg.NParticles, Seed: cfg.Seed})
	require.NoError(t, err)

	if diff := cmp.Diff(direct, res.Points[2].Replicates[0], ignoreElapsed); diff != "" {
		t.Errorf("scan point differs from a direct filter run (-direct +scan):\n%s", diff)
	}
}

func TestRunSeedPolicies(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Replicates = 3

	shared := cfg.seeds(4, 3)
	assert.Equal(t, []int64{5, 6, 7}, shared[0])
	assert.Equal(t, shared[0], shared[3])

	cfg.SeedPolicy = SeedIndependent
	indep := cfg.seeds(4, 3)
	assert.NotEqual(t, indep[0], indep[1])
	assert.Equal(t, indep, cfg.seeds(4, 3), "independent seeds must be reproducible")

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	for _, pt := range res.Points {
		require.Len(t, pt.Replicates, 3)
	}
}

func TestRunKeepsFailedPoints(t *testing.T) {
	cfg := smallConfig(t)
	// no infections at beta = 0, so any positive count collapses the filter
	cfg.Grid = append([][]float64{{0}}, cfg.Grid...)

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, res.Points, len(cfg.Grid))
	assert.True(t, res.Points[0].Failed)
	assert.True(t, math.IsInf(res.Points[0].LogLik, -1))
	assert.True(t, math.IsNaN(res.Smoothed[0]))
	assert.NotEqual(t, 0, res.BestIndex)
}

func TestRunLogsFilterCollapses(t *testing.T) {
	var buf bytes.Buffer
	cfg := smallConfig(t)
	cfg.Grid = [][]float64{{0}, {0.5}}
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.True(t, res.Points[0].Failed)

	out := buf.String()
	assert.Contains(t, out, "particle filter collapsed")
	assert.Contains(t, out, "particle filter finished")
	assert.Contains(t, out, "grid point finished")
}

func TestRunAllPointsFailed(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Grid = [][]float64{{0}, {0}}

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, -1, res.BestIndex)
	assert.Nil(t, res.Best)
	assert.Nil(t, res.Interval)
	assert.Zero(t, res.Feasible())
}

func TestRunTwoCoordinates(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Coordinates = []Coordinate{CoordBeta, CoordGamma}
	cfg.Grid = Product([]float64{0.4, 0.5, 0.6}, []float64{0.2, 0.25})

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, res.Points, 6)
	assert.Nil(t, res.Smoothed)
	assert.Nil(t, res.Interval)
	require.GreaterOrEqual(t, res.BestIndex, 0)
	require.Len(t, res.Best, 2)
	for _, pt := range res.Points {
		if !pt.Failed {
			assert.LessOrEqual(t, pt.LogLik, res.BestLogLik)
		}
	}
}

func TestRunInitialInfectedCoordinate(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Coordinates = []Coordinate{CoordI0}
	cfg.Grid = Grid1D([]float64{5, 10, 15})

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, res.Points, 3)
}

func TestRunProgress(t *testing.T) {
	cfg := smallConfig(t)
	var calls []int
	cfg.Progress = func(done, total int) {
		assert.Equal(t, len(cfg.Grid), total)
		calls = append(calls, done)
	}

	_, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, calls)
}

func TestRunCancelled(t *testing.T) {
	cfg := smallConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, cfg)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no coordinates", func(c *Config) { c.Coordinates = nil }},
		{"duplicate coordinate", func(c *Config) {
			c.Coordinates = []Coordinate{CoordBeta, CoordBeta}
			c.Grid = [][]float64{{0.5, 0.5}}
		}},
		{"unknown coordinate", func(c *Config) { c.Coordinates = []Coordinate{"delta"} }},
		{"empty grid", func(c *Config) { c.Grid = nil }},
		{"ragged grid", func(c *Config) { c.Grid = [][]float64{{0.5}, {0.5, 0.2}} }},
		{"negative beta", func(c *Config) { c.Grid = [][]float64{{0.5}, {-0.1}} }},
		{"initial infected above population", func(c *Config) {
			c.Coordinates = []Coordinate{CoordI0}
			c.Grid = [][]float64{{500}}
		}},
		{"no particles", func(c *Config) { c.NParticles = 0 }},
		{"empty series", func(c *Config) { c.Observed = nil }},
		{"negative replicates", func(c *Config) { c.Replicates = -1 }},
		{"bad level", func(c *Config) { c.Level = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig(t)
			tt.mutate(&cfg)
			_, err := Run(context.Background(), cfg)
			require.ErrorIs(t, err, ErrInvalidScan)
		})
	}

	cfg := smallConfig(t)
	cfg.Grid = [][]float64{{-0.1}}
	_, err := Run(context.Background(), cfg)
	require.ErrorIs(t, err, model.ErrInvalidParams)
}

func TestCombineReplicates(t *testing.T) {
	ll, failed := combine([]*filter.Result{
		{LogLik: -1},
		{LogLik: math.Inf(-1), Failed: true},
	})
	assert.False(t, failed)
	assert.InDelta(t, -1-math.Log(2), ll, 1e-12)

	ll, failed = combine([]*filter.Result{{LogLik: -3}, {LogLik: -3}})
	assert.False(t, failed)
	assert.InDelta(t, -3, ll, 1e-12)

	ll, failed = combine([]*filter.Result{{LogLik: math.Inf(-1), Failed: true}})
	assert.True(t, failed)
	assert.True(t, math.IsInf(ll, -1))

	mean, sd := spread([]*filter.Result{{LogLik: -2}, {LogLik: -4}, {Failed: true, LogLik: math.Inf(-1)}})
	assert.InDelta(t, -3, mean, 1e-12)
	assert.InDelta(t, math.Sqrt2, sd, 1e-12)

	mean, sd = spread([]*filter.Result{{Failed: true}})
	assert.True(t, math.IsNaN(mean))
	assert.True(t, math.IsNaN(sd))
}

func TestProfileInterval(t *testing.T) {
	x, err := Range(0.2, 0.8, 0.01)
	require.NoError(t, err)
	curve := make([]float64, len(x))
	for i, v := range x {
		curve[i] = -50 * (v - 0.5) * (v - 0.5)
	}
	best := 30

	// chi2_1(0.95)/2 = 1.9207..., so |x - 0.5| <= sqrt(1.9207/50) = 0.196
	lo, hi := profileInterval(x, curve, best, 0.95)
	assert.InDelta(t, 0.31, lo, 1e-9)
	assert.InDelta(t, 0.69, hi, 1e-9)
}

// TestScanRecoversBeta is the end-to-end scenario: data generated at beta=0.5,
// gamma=0.25, N=1000, u0=(990,10,0) over 40 steps, then a beta scan.
func TestScanRecoversBeta(t *testing.T) {
	if testing.Short() {
		t.Skip("long-running end-to-end scan")
	}

	truth := model.Params{Beta: 0.5, Gamma: 0.25, N: 1000}
	u0 := model.State{S: 990, I: 10}
	tr, err := model.Simulate(truth, u0, 40, 1234)
	require.NoError(t, err)

	betas, err := Range(0.35, 0.70, 0.005)
	require.NoError(t, err)

	res, err := Run(context.Background(), Config{
		Base:        truth,
		Initial:     u0,
		Coordinates: []Coordinate{CoordBeta},
		Grid:        Grid1D(betas),
		Observed:    tr.Observed(),
		NParticles:  10000,
		Seed:        1234,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Best)

	t.Logf("beta estimate %.3f, interval [%.3f, %.3f], %d/%d feasible",
		res.Best[0], res.Interval.Lower, res.Interval.Upper, res.Feasible(), len(res.Points))
	assert.InDelta(t, 0.5, res.Best[0], 0.05)
	// the maximum sits inside the grid, not on its edge
	assert.Greater(t, res.Best[0], betas[0])
	assert.Less(t, res.Best[0], betas[len(betas)-1])
}

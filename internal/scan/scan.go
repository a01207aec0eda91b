// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"SIR_Particle_Filter_Project/internal/filter"
	"SIR_Particle_Filter_Project/internal/model"
)

// ErrInvalidScan is wrapped by every scan configuration error.
var ErrInvalidScan = errors.New("invalid scan configuration")

// SeedPolicy decides which seed each grid point's filter runs use.
type SeedPolicy int

const (
	// SeedShared runs every grid point with the same seed (replicate r uses Seed+r).
	// Monte Carlo noise is then correlated between neighbouring grid points.
	SeedShared SeedPolicy = iota
	// SeedIndependent draws a fresh seed per grid point and replicate from a
	// master stream, so the noise is independent across the grid.
	SeedIndependent
)

// ParseSeedPolicy maps "shared" or "independent" to a SeedPolicy.
func ParseSeedPolicy(name string) (SeedPolicy, error) {
	switch name {
	case "", "shared":
		return SeedShared, nil
	case "independent":
		return SeedIndependent, nil
	}
	return 0, fmt.Errorf("%w: unknown seed policy %q (options: shared, independent)", ErrInvalidScan, name)
}

func (s SeedPolicy) String() string {
	if s == SeedIndependent {
		return "independent"
	}
	return "shared"
}

// DefaultLevel is the default coverage of the profile-likelihood interval.
const DefaultLevel = 0.95

// Config describes a parameter scan.
type Config struct {
	// Baseline parameters and initial state; each grid point overrides Coordinates
	Base    model.Params
	Initial model.State

	// Quantities varied across the grid
	Coordinates []Coordinate
	// One row per grid point, len(row) == len(Coordinates)
	Grid [][]float64

	Observed []int

	NParticles int
	Seed       int64
	SeedPolicy SeedPolicy
	// Filter runs per grid point, 0 means 1
	Replicates int

	// Grid points evaluated concurrently, 0 = runtime.NumCPU()
	Workers int
	// Particle workers inside each filter run, 0 means 1
	FilterWorkers int
	// Particles per random stream, 0 = filter.DefaultChunkSize
	ChunkSize int

	// Smoother for one-coordinate scans, nil = DefaultLOESS()
	Smoother Smoother
	// Coverage of the profile-likelihood interval, 0 = DefaultLevel
	Level float64

	// Optional hook passed to every filter run; it must be safe for concurrent use
	Observer filter.Observer
	// Optional callback after each completed grid point, called from one goroutine
	Progress func(done, total int)
	// Optional logger, nil discards
	Logger *slog.Logger
}

// Point is the outcome at one grid point.
type Point struct {
	// Position in the grid
	Index int
	// Coordinate values, aligned with Result.Coordinates
	Values []float64

	// One filter result per replicate
	Replicates []*filter.Result

	// log of the mean replicate likelihood, -Inf when Failed
	LogLik float64
	// True when every replicate collapsed
	Failed bool
	// Mean and sample SD of the finite replicate log-likelihoods (NaN when undefined)
	MeanLogLik float64
	SDLogLik   float64
}

// Interval is a profile-likelihood interval for a one-coordinate scan.
type Interval struct {
	Level float64
	Lower float64
	Upper float64
}

// Result is the outcome of a scan, points are in grid order.
type Result struct {
	Coordinates []Coordinate
	Points      []Point

	// Smoothed log-likelihood per point for one-coordinate scans (NaN at
	// failed points), nil otherwise
	Smoothed []float64

	// Index into Points of the estimate, -1 when every point failed
	BestIndex int
	// Coordinate values of the estimate, nil when every point failed
	Best []float64
	// Log-likelihood at the estimate (smoothed for one-coordinate scans)
	BestLogLik float64

	// Profile-likelihood interval, one-coordinate scans only
	Interval *Interval
}

// Feasible returns the number of points that did not fail.
func (r *Result) Feasible() int {
	n := 0
	for _, p := range r.Points {
		if !p.Failed {
			n++
		}
	}
	return n
}

// job is one grid point with its parameters and seeds already resolved.
type job struct {
	index  int
	params model.Params
	u0     model.State
	seeds  []int64
}

// Run evaluates the bootstrap filter at every grid point and locates the
// maximum-likelihood estimate.
//
// Grid points run on a worker pool; each worker writes its own slot so the
// returned points are in grid order whatever the completion order. A point
// whose filter collapses is kept as Failed and excluded from smoothing; it
// never aborts the scan. For one coordinate the log-likelihoods of feasible
// points are smoothed and the estimate is the grid value at the maximum of
// the smoothed curve. For several coordinates the estimate is the raw argmax.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	jobs, err := cfg.plan()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	numWorkers := cfg.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	points := make([]Point, len(jobs))

	jobCh := make(chan job)
	doneCh := make(chan int, len(jobs))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	wg.Add(numWorkers)

	worker := func() {
		defer wg.Done()
		for jb := range jobCh {
			pt, errPt := cfg.evaluate(jb)
			if errPt != nil {
				errOnce.Do(func() { firstErr = errPt })
			}
			// distinct slot per grid point
			points[jb.index] = pt
			doneCh <- jb.index
		}
	}

	for w := 0; w < numWorkers; w++ {
		go worker()
	}

	// Feed jobs until done or cancelled
	go func() {
		defer close(jobCh)
		for _, jb := range jobs {
			select {
			case jobCh <- jb:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Workers close doneCh once the last point is written
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	done := 0
	for idx := range doneCh {
		done++
		pt := points[idx]
		logger.Debug("grid point finished",
			"index", idx, "values", pt.Values, "loglik", pt.LogLik, "failed", pt.Failed)
		if cfg.Progress != nil {
			cfg.Progress(done, len(jobs))
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Coordinates: append([]Coordinate(nil), cfg.Coordinates...),
		Points:      points,
		BestIndex:   -1,
		BestLogLik:  math.Inf(-1),
	}

	if len(cfg.Coordinates) == 1 {
		if err := cfg.smooth(res); err != nil {
			return nil, err
		}
	} else {
		rawArgmax(res)
	}

	logger.Debug("scan finished",
		"points", len(points), "feasible", res.Feasible(), "best", res.Best)
	return res, nil
}

// plan validates the configuration and resolves every grid point up front,
// so an invalid candidate rejects the scan before any simulation starts.
func (cfg *Config) plan() ([]job, error) {
	if len(cfg.Coordinates) == 0 {
		return nil, fmt.Errorf("%w: no coordinates to vary", ErrInvalidScan)
	}
	seen := make(map[Coordinate]bool, len(cfg.Coordinates))
	for _, c := range cfg.Coordinates {
		if _, err := ParseCoordinate(string(c)); err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, fmt.Errorf("%w: coordinate %q listed twice", ErrInvalidScan, c)
		}
		seen[c] = true
	}
	if len(cfg.Grid) == 0 {
		return nil, fmt.Errorf("%w: empty grid", ErrInvalidScan)
	}
	if len(cfg.Observed) == 0 {
		return nil, fmt.Errorf("%w: observed series is empty", ErrInvalidScan)
	}
	if cfg.NParticles <= 0 {
		return nil, fmt.Errorf("%w: particle count must be > 0, got %d", ErrInvalidScan, cfg.NParticles)
	}
	if cfg.Replicates < 0 {
		return nil, fmt.Errorf("%w: replicates must be >= 0, got %d", ErrInvalidScan, cfg.Replicates)
	}
	if cfg.Workers < 0 || cfg.FilterWorkers < 0 || cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: worker counts and chunk size must be >= 0", ErrInvalidScan)
	}
	if cfg.Level < 0 || cfg.Level >= 1 {
		return nil, fmt.Errorf("%w: interval level must be in (0, 1), got %v", ErrInvalidScan, cfg.Level)
	}
	if cfg.SeedPolicy != SeedShared && cfg.SeedPolicy != SeedIndependent {
		return nil, fmt.Errorf("%w: unknown seed policy %d", ErrInvalidScan, cfg.SeedPolicy)
	}

	reps := cfg.Replicates
	if reps == 0 {
		reps = 1
	}
	seeds := cfg.seeds(len(cfg.Grid), reps)

	jobs := make([]job, len(cfg.Grid))
	for i, row := range cfg.Grid {
		if len(row) != len(cfg.Coordinates) {
			return nil, fmt.Errorf("%w: grid point %d has %d values, want %d",
				ErrInvalidScan, i, len(row), len(cfg.Coordinates))
		}
		p := cfg.Base
		u0 := cfg.Initial
		for k, c := range cfg.Coordinates {
			if err := c.apply(&p, &u0, row[k]); err != nil {
				return nil, fmt.Errorf("%w: grid point %d: %v", ErrInvalidScan, i, err)
			}
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: grid point %d: %w", ErrInvalidScan, i, err)
		}
		if err := model.ValidateState(u0, p.N); err != nil {
			return nil, fmt.Errorf("%w: grid point %d: %w", ErrInvalidScan, i, err)
		}
		jobs[i] = job{index: i, params: p, u0: u0, seeds: seeds[i]}
	}
	return jobs, nil
}

// seeds returns seeds[point][replicate] for the configured policy.
func (cfg *Config) seeds(points, reps int) [][]int64 {
	out := make([][]int64, points)

	if cfg.SeedPolicy == SeedIndependent {
		// master stream, drawn in grid order so the scan stays reproducible
		masterRng := rand.New(model.NewSource(cfg.Seed, model.SeedStream))
		for i := range out {
			out[i] = make([]int64, reps)
			for r := range out[i] {
				out[i][r] = masterRng.Int64()
			}
		}
		return out
	}

	shared := make([]int64, reps)
	for r := range shared {
		shared[r] = cfg.Seed + int64(r)
	}
	for i := range out {
		out[i] = shared
	}
	return out
}

// evaluate runs every replicate of one grid point and combines them.
func (cfg *Config) evaluate(jb job) (Point, error) {
	pt := Point{
		Index:      jb.index,
		Values:     append([]float64(nil), cfg.Grid[jb.index]...),
		Replicates: make([]*filter.Result, len(jb.seeds)),
	}

	filterWorkers := cfg.FilterWorkers
	if filterWorkers == 0 {
		filterWorkers = 1
	}

	for r, seed := range jb.seeds {
		res, err := filter.Run(jb.params, jb.u0, cfg.Observed, filter.Options{
			NParticles: cfg.NParticles,
			Seed:       seed,
			Workers:    filterWorkers,
			ChunkSize:  cfg.ChunkSize,
			Observer:   cfg.Observer,
			Logger:     cfg.Logger,
		})
		if err != nil {
			return pt, fmt.Errorf("grid point %d replicate %d: %w", jb.index, r, err)
		}
		pt.Replicates[r] = res
	}

	pt.LogLik, pt.Failed = combine(pt.Replicates)
	pt.MeanLogLik, pt.SDLogLik = spread(pt.Replicates)
	return pt, nil
}

// combine returns log(mean likelihood) over the replicates; a collapsed
// replicate contributes zero likelihood.
func combine(reps []*filter.Result) (float64, bool) {
	logs := make([]float64, 0, len(reps))
	for _, r := range reps {
		if !r.Failed {
			logs = append(logs, r.LogLik)
		}
	}
	if len(logs) == 0 {
		return math.Inf(-1), true
	}
	return floats.LogSumExp(logs) - math.Log(float64(len(reps))), false
}

// spread summarises the finite replicate log-likelihoods.
func spread(reps []*filter.Result) (float64, float64) {
	var data stats.Float64Data
	for _, r := range reps {
		if !r.Failed {
			data = append(data, r.LogLik)
		}
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return math.NaN(), math.NaN()
	}
	if len(data) < 2 {
		return mean, math.NaN()
	}
	sd, err := stats.StandardDeviationSample(data)
	if err != nil {
		return mean, math.NaN()
	}
	return mean, sd
}

// smooth fits the smoother through the feasible points of a one-coordinate
// scan, then sets the estimate and the profile interval.
func (cfg *Config) smooth(res *Result) error {
	res.Smoothed = make([]float64, len(res.Points))
	for i := range res.Smoothed {
		res.Smoothed[i] = math.NaN()
	}

	// feasible points ordered by coordinate value
	var order []int
	for i, p := range res.Points {
		if !p.Failed {
			order = append(order, i)
		}
	}
	if len(order) == 0 {
		return nil
	}
	sort.SliceStable(order, func(a, b int) bool {
		return res.Points[order[a]].Values[0] < res.Points[order[b]].Values[0]
	})

	x := make([]float64, len(order))
	y := make([]float64, len(order))
	for k, i := range order {
		x[k] = res.Points[i].Values[0]
		y[k] = res.Points[i].LogLik
	}

	smoother := cfg.Smoother
	if smoother == nil {
		smoother = DefaultLOESS()
	}
	fitted, err := smoother.Smooth(x, y)
	if err != nil {
		return fmt.Errorf("smooth log-likelihood curve: %w", err)
	}
	if len(fitted) != len(x) {
		return fmt.Errorf("smoother returned %d values for %d points", len(fitted), len(x))
	}

	for k, i := range order {
		res.Smoothed[i] = fitted[k]
	}

	best := floats.MaxIdx(fitted)
	res.BestIndex = order[best]
	res.Best = []float64{x[best]}
	res.BestLogLik = fitted[best]

	level := cfg.Level
	if level == 0 {
		level = DefaultLevel
	}
	lo, hi := profileInterval(x, fitted, best, level)
	res.Interval = &Interval{Level: level, Lower: lo, Upper: hi}
	return nil
}

// profileInterval walks outwards from the maximum while the curve stays
// within chi2_1(level)/2 of it. x must be sorted ascending.
func profileInterval(x, curve []float64, best int, level float64) (float64, float64) {
	drop := distuv.ChiSquared{K: 1}.Quantile(level) / 2
	threshold := curve[best] - drop

	lo := best
	for lo > 0 && curve[lo-1] >= threshold {
		lo--
	}
	hi := best
	for hi < len(curve)-1 && curve[hi+1] >= threshold {
		hi++
	}
	return x[lo], x[hi]
}

// rawArgmax picks the feasible point with the largest log-likelihood.
func rawArgmax(res *Result) {
	for i, p := range res.Points {
		if p.Failed {
			continue
		}
		if res.BestIndex < 0 || p.LogLik > res.BestLogLik {
			res.BestIndex = i
			res.BestLogLik = p.LogLik
		}
	}
	if res.BestIndex >= 0 {
		res.Best = append([]float64(nil), res.Points[res.BestIndex].Values...)
	}
}

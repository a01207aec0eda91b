// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"SIR_Particle_Filter_Project/internal/model"
)

// ErrInvalidOptions is wrapped by every filter input validation failure.
var ErrInvalidOptions = errors.New("invalid filter options")

// Options controls one bootstrap filter run.
type Options struct {
	// Number of particles, must be > 0 (10000 or more recommended)
	NParticles int

	// RNG seed; equal seeds and inputs give bit-identical results
	Seed int64

	// Goroutines used to advance the particles, 0 = runtime.NumCPU()
	Workers int

	// Particles per random stream, 0 = DefaultChunkSize.
	// Changing it changes the random draws, changing Workers does not.
	ChunkSize int

	// Optional hook notified after each step and at the end of the run
	Observer Observer

	// Optional logger, nil discards
	Logger *slog.Logger
}

// Observer receives progress from a running filter.
type Observer interface {
	// ObserveStep is called after weighting step t (1-based).
	ObserveStep(step, survivors, particles int)
	// ObserveResult is called once when the run ends.
	ObserveResult(res *Result)
}

// Result is the outcome of one filter run. It carries its own per-step trace,
// there is no package-level accumulator.
type Result struct {
	// Sum of per-step log partial likelihoods, -Inf when Failed
	LogLik float64

	// True when every particle missed an observation
	Failed bool
	// 1-based step at which the filter collapsed, 0 when not Failed
	FailedStep int

	// StepLogLik[t-1] = log(mean weight) at step t (-Inf at the failing step)
	StepLogLik []float64
	// Survivors[t-1] = number of particles that matched observation t
	Survivors []int

	NParticles int
	Elapsed    time.Duration
}

// Likelihood returns exp(LogLik), 0 for a failed run.
func (r *Result) Likelihood() float64 {
	return math.Exp(r.LogLik)
}

// Run estimates the log-likelihood of the observed new-case series under the
// stochastic SIR model with parameters p, starting every particle at u0.
//
// At every reporting step all particles are advanced, a particle gets weight 1
// if its new-case count equals the observation and 0 otherwise, the mean weight
// is the step's likelihood estimate, and the ensemble is resampled from the
// matching particles. If no particle matches, the run stops and the result is
// marked Failed with LogLik = -Inf. A collapse is an answer, not an error:
// errors are only returned for invalid inputs, before any simulation.
func Run(p model.Params, u0 model.State, observed []int, opts Options) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := model.ValidateState(u0, p.N); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(observed) == 0 {
		return nil, fmt.Errorf("%w: observed series is empty", ErrInvalidOptions)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	start := time.Now()
	n := opts.NParticles
	T := len(observed)

	ens := NewEnsemble(n, u0, opts.Seed, opts.ChunkSize, opts.Workers)
	rng := rand.New(model.NewSource(opts.Seed, model.ResampleStream))

	weights := make([]float64, n)
	cum := make([]float64, n)
	idx := make([]int, n)

	res := &Result{
		StepLogLik: make([]float64, 0, T),
		Survivors:  make([]int, 0, T),
		NParticles: n,
	}

	logLik := 0.0
	for t, y := range observed {
		step := t + 1

		ens.Advance(p)

		survivors := 0
		for i, s := range ens.States() {
			if s.C == y {
				weights[i] = 1
				survivors++
			} else {
				weights[i] = 0
			}
		}
		res.Survivors = append(res.Survivors, survivors)
		if opts.Observer != nil {
			opts.Observer.ObserveStep(step, survivors, n)
		}

		if survivors == 0 {
			res.StepLogLik = append(res.StepLogLik, math.Inf(-1))
			res.Failed = true
			res.FailedStep = step
			logLik = math.Inf(-1)
			logger.Debug("particle filter collapsed",
				"step", step, "observed", y, "beta", p.Beta, "gamma", p.Gamma)
			break
		}

		partial := math.Log(float64(survivors) / float64(n))
		res.StepLogLik = append(res.StepLogLik, partial)
		logLik += partial

		// the last step has nothing to propagate into
		if step == T {
			break
		}
		if err := resampleInto(idx, cum, weights, rng); err != nil {
			// unreachable: survivors > 0 guarantees a positive weight
			return nil, fmt.Errorf("resample at step %d: %w", step, err)
		}
		ens.Reindex(idx)
	}

	res.LogLik = logLik
	res.Elapsed = time.Since(start)

	logger.Debug("particle filter finished",
		"loglik", res.LogLik, "failed", res.Failed, "particles", n,
		"steps", T, "elapsed", res.Elapsed)
	if opts.Observer != nil {
		opts.Observer.ObserveResult(res)
	}
	return res, nil
}

func (o Options) validate() error {
	if o.NParticles <= 0 {
		return fmt.Errorf("%w: particle count must be > 0, got %d", ErrInvalidOptions, o.NParticles)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidOptions, o.Workers)
	}
	if o.ChunkSize < 0 {
		return fmt.Errorf("%w: chunk size must be >= 0, got %d", ErrInvalidOptions, o.ChunkSize)
	}
	return nil
}

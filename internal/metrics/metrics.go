// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"SIR_Particle_Filter_Project/internal/filter"
)

const namespace = "sirpf"

// Outcome label values
const (
	OutcomeOK        = "ok"
	OutcomeCollapsed = "collapsed"
)

// Recorder exports filter and scan activity as Prometheus metrics.
// It implements filter.Observer and is safe for concurrent use.
type Recorder struct {
	runs             *prometheus.CounterVec
	steps            prometheus.Counter
	survivorFraction prometheus.Histogram
	runDuration      prometheus.Histogram
	scanDone         prometheus.Gauge
	scanTotal        prometheus.Gauge
}

var _ filter.Observer = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_runs_total",
				Help:      "Completed particle filter runs by outcome",
			},
			[]string{"outcome"},
		),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_steps_total",
			Help:      "Reporting steps weighted across all filter runs",
		}),
		survivorFraction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "filter_survivor_fraction",
			Help:      "Fraction of particles matching the observation at a step",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 11),
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "filter_run_duration_seconds",
			Help:      "Wall time of one particle filter run",
			Buckets:   prometheus.DefBuckets,
		}),
		scanDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_points_done",
			Help:      "Grid points evaluated in the current scan",
		}),
		scanTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_points_total",
			Help:      "Grid points in the current scan",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.runs, r.steps, r.survivorFraction, r.runDuration, r.scanDone, r.scanTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// expose both outcomes from the start
	r.runs.WithLabelValues(OutcomeOK)
	r.runs.WithLabelValues(OutcomeCollapsed)
	return r, nil
}

// ObserveStep implements filter.Observer.
func (r *Recorder) ObserveStep(step, survivors, particles int) {
	r.steps.Inc()
	if particles > 0 {
		r.survivorFraction.Observe(float64(survivors) / float64(particles))
	}
}

// ObserveResult implements filter.Observer.
func (r *Recorder) ObserveResult(res *filter.Result) {
	outcome := OutcomeOK
	if res.Failed {
		outcome = OutcomeCollapsed
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(res.Elapsed.Seconds())
}

// ScanProgress matches scan.Config.Progress.
func (r *Recorder) ScanProgress(done, total int) {
	r.scanDone.Set(float64(done))
	r.scanTotal.Set(float64(total))
}

// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v2"

	"SIR_Particle_Filter_Project/internal/config"
	"SIR_Particle_Filter_Project/internal/dataio"
	"SIR_Particle_Filter_Project/internal/filter"
	"SIR_Particle_Filter_Project/internal/logging"
	"SIR_Particle_Filter_Project/internal/metrics"
	"SIR_Particle_Filter_Project/internal/model"
	"SIR_Particle_Filter_Project/internal/scan"
)

// sirfilter estimates the likelihood of an observed new-case series under a
// stochastic SIR model with a bootstrap particle filter.
//
//	sirfilter simulate  generate a synthetic outbreak and its case counts
//	sirfilter filter    run the particle filter once at the configured parameters
//	sirfilter scan      evaluate the filter over a parameter grid and report the estimate
//
// Every subcommand reads the same YAML run file (-config); without one the
// reference experiment from config.Default is used.

const usage = `Usage: sirfilter <simulate|filter|scan> [flags]

Run "sirfilter <command> -h" for the flags of a command.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath  string
	observed    string
	outDir      string
	nparticles  int
	seed        int64
	workers     int
	logLevel    string
	metricsAddr string
	quiet       bool

	// names of the flags given on the command line
	set map[string]bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}
	cmd := args[0]

	opts, err := parseOptions(cmd, args[1:], stderr)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(stderr, level, opts.quiet)

	// 1. Load the run configuration
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	// 2. Optional metrics endpoint
	rec, shutdown, err := startMetrics(opts.metricsAddr, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	switch cmd {
	case "simulate":
		return runSimulate(cfg, stdout, logger)
	case "filter":
		return runFilter(cfg, rec, stdout, logger)
	case "scan":
		return runScan(ctx, cfg, rec, opts.quiet, stdout, stderr, logger)
	}
	fmt.Fprint(stderr, usage)
	return fmt.Errorf("unknown command %q (options: simulate, filter, scan)", cmd)
}

// parseOptions parses the flags of one subcommand and records which were given.
func parseOptions(cmd string, args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "YAML run file (defaults to the built-in experiment)")
	fs.StringVar(&opts.observed, "observed", "", "CSV with a cases column, overrides data.observed")
	fs.StringVar(&opts.outDir, "out", "", "directory prefix for the output CSV files")
	fs.IntVar(&opts.nparticles, "nparticles", 0, "particle count, overrides filter.nparticles")
	fs.Int64Var(&opts.seed, "seed", 0, "filter seed, overrides filter.seed")
	fs.IntVar(&opts.workers, "workers", 0, "scan workers, overrides scan.workers (0 = all CPUs)")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.BoolVar(&opts.quiet, "quiet", false, "no progress bar and no colour")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// flags given on the command line override the file, zero values included
	if opts.set["observed"] {
		cfg.Data.Observed = opts.observed
	}
	if opts.set["nparticles"] {
		cfg.Filter.NParticles = opts.nparticles
	}
	if opts.set["seed"] {
		cfg.Filter.Seed = opts.seed
	}
	if opts.set["workers"] {
		cfg.Scan.Workers = opts.workers
	}
	if opts.set["out"] {
		cfg.Output.Observed = outPath(opts.outDir, cfg.Output.Observed, "observed.csv")
		cfg.Output.Trajectory = outPath(opts.outDir, cfg.Output.Trajectory, "trajectory.csv")
		cfg.Output.Scan = outPath(opts.outDir, cfg.Output.Scan, "scan.csv")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func outPath(dir, name, fallback string) string {
	if name == "" {
		name = fallback
	}
	return filepath.Join(dir, name)
}

// startMetrics serves a fresh registry on addr; an empty addr disables metrics.
func startMetrics(addr string, logger *slog.Logger) (*metrics.Recorder, func(), error) {
	if addr == "" {
		return nil, func() {}, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr, "path", "/metrics")

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return rec, shutdown, nil
}

// observedSeries loads the observed file or simulates one from the model.
func observedSeries(cfg *config.Config, logger *slog.Logger) ([]int, error) {
	if cfg.Data.Observed != "" {
		obs, err := dataio.LoadObservedCSV(cfg.Data.Observed)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded observed series", "path", cfg.Data.Observed, "steps", len(obs))
		return obs, nil
	}

	tr, err := model.Simulate(cfg.Params(), cfg.State(), cfg.Steps, cfg.Data.Seed)
	if err != nil {
		return nil, err
	}
	logger.Info("simulated observed series",
		"beta", cfg.Model.Beta, "gamma", cfg.Model.Gamma, "steps", cfg.Steps, "seed", cfg.Data.Seed)
	return tr.Observed(), nil
}

func runSimulate(cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	// 3. Simulate the outbreak
	tr, err := model.Simulate(cfg.Params(), cfg.State(), cfg.Steps, cfg.Data.Seed)
	if err != nil {
		return err
	}
	dataio.PrintTrajectory(stdout, tr, cfg.Model.N)

	// 4. Output series and trajectory to CSV
	if path := cfg.Output.Observed; path != "" {
		if err := dataio.WriteObservedCSV(path, tr.Observed()); err != nil {
			return err
		}
		logger.Info("observed series written", "path", path)
	}
	if path := cfg.Output.Trajectory; path != "" {
		if err := dataio.WriteTrajectoryCSV(path, tr, cfg.Model.N); err != nil {
			return err
		}
		logger.Info("trajectory written", "path", path)
	}
	return nil
}

func runFilter(cfg *config.Config, rec *metrics.Recorder, stdout io.Writer, logger *slog.Logger) error {
	// 3. Observed series
	obs, err := observedSeries(cfg, logger)
	if err != nil {
		return err
	}

	// 4. One filter run at the configured parameters
	opts := cfg.FilterOptions()
	opts.Logger = logger
	if rec != nil {
		opts.Observer = rec
	}
	res, err := filter.Run(cfg.Params(), cfg.State(), obs, opts)
	if err != nil {
		return err
	}

	// 5. Print result
	dataio.PrintFilterResult(stdout, cfg.Params(), res)
	return nil
}

func runScan(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, quiet bool,
	stdout, stderr io.Writer, logger *slog.Logger) error {
	// 3. Observed series
	obs, err := observedSeries(cfg, logger)
	if err != nil {
		return err
	}

	// 4. Set up the scan
	sc, err := cfg.ScanConfig(obs)
	if err != nil {
		return err
	}
	sc.Logger = logger
	if rec != nil {
		sc.Observer = rec
	}

	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(len(sc.Grid),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription(fmt.Sprintf("scanning %s", sc.Coordinates[0])),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
		)
	}
	sc.Progress = func(done, total int) {
		if bar != nil {
			_ = bar.Set(done)
		}
		if rec != nil {
			rec.ScanProgress(done, total)
		}
	}

	logger.Info("starting scan",
		"coordinate", sc.Coordinates[0], "points", len(sc.Grid), "particles", sc.NParticles,
		"replicates", max(sc.Replicates, 1), "seedPolicy", sc.SeedPolicy)

	// 5. Run the scan
	start := time.Now()
	res, err := scan.Run(ctx, sc)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(stderr)
	}
	if err != nil {
		return err
	}
	logger.Info("scan finished", "feasible", res.Feasible(), "points", len(res.Points),
		"elapsed", time.Since(start).Round(time.Millisecond))

	// 6. Print summary
	dataio.PrintScanSummary(stdout, res)

	// 7. Output scan table to CSV
	if path := cfg.Output.Scan; path != "" {
		if err := dataio.WriteScanCSV(path, res); err != nil {
			return err
		}
		logger.Info("scan results written", "path", path)
	}
	return nil
}

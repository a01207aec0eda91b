// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"SIR_Particle_Filter_Project/internal/filter"
	"SIR_Particle_Filter_Project/internal/model"
	"SIR_Particle_Filter_Project/internal/scan"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// Config is a complete run description, usually read from a YAML file.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Initial InitialConfig `yaml:"initial"`
	// Reporting intervals to simulate when no observed file is given
	Steps  int          `yaml:"steps"`
	Data   DataConfig   `yaml:"data"`
	Filter FilterConfig `yaml:"filter"`
	Scan   ScanConfig   `yaml:"scan"`
	Output OutputConfig `yaml:"output"`
}

// ModelConfig holds the SIR parameters.
type ModelConfig struct {
	Beta  float64 `yaml:"beta"`
	Gamma float64 `yaml:"gamma"`
	N     int     `yaml:"n"`
	// Length of a reporting interval, 0 means model.DefaultDtReport
	DtReport float64 `yaml:"dtReport,omitempty"`
	// Substeps per reporting interval, 0 means model.DefaultNSub
	NSub int `yaml:"nSub,omitempty"`
}

// InitialConfig is the state at time 0; R = N - S - I.
type InitialConfig struct {
	S int `yaml:"s"`
	I int `yaml:"i"`
}

// DataConfig selects the observed series.
type DataConfig struct {
	// CSV with a cases column; when empty the series is simulated from Model
	Observed string `yaml:"observed,omitempty"`
	// Seed for the simulated series
	Seed int64 `yaml:"seed"`
}

// FilterConfig configures each particle filter run.
type FilterConfig struct {
	NParticles int   `yaml:"nparticles"`
	Seed       int64 `yaml:"seed"`
	// Particle workers per run, 0 = runtime.NumCPU() for a single run and 1 inside a scan
	Workers int `yaml:"workers,omitempty"`
	// Particles per random stream, 0 = filter.DefaultChunkSize
	ChunkSize int `yaml:"chunkSize,omitempty"`
}

// ScanConfig configures a one-coordinate likelihood scan.
type ScanConfig struct {
	// beta, gamma or i0
	Coordinate string `yaml:"coordinate"`
	// Inclusive range, ignored when Values is set
	Lo   float64 `yaml:"lo"`
	Hi   float64 `yaml:"hi"`
	Step float64 `yaml:"step"`
	// Explicit grid values
	Values []float64 `yaml:"values,omitempty"`

	Replicates int `yaml:"replicates,omitempty"`
	// shared or independent
	SeedPolicy string `yaml:"seedPolicy,omitempty"`
	// Profile interval coverage, 0 = scan.DefaultLevel
	Level float64 `yaml:"level,omitempty"`
	// Grid points evaluated concurrently, 0 = runtime.NumCPU()
	Workers int `yaml:"workers,omitempty"`
}

// OutputConfig names the CSV files to write; empty paths are skipped.
type OutputConfig struct {
	Observed   string `yaml:"observed,omitempty"`
	Trajectory string `yaml:"trajectory,omitempty"`
	Scan       string `yaml:"scan,omitempty"`
}

// Default returns the reference experiment: an outbreak in a population of
// 1000 observed over 40 intervals and a beta scan around the true value.
func Default() *Config {
	return &Config{
		Model:   ModelConfig{Beta: 0.5, Gamma: 0.25, N: 1000},
		Initial: InitialConfig{S: 990, I: 10},
		Steps:   40,
		Data:    DataConfig{Seed: 1234},
		Filter:  FilterConfig{NParticles: 10000, Seed: 1234},
		Scan: ScanConfig{
			Coordinate: string(scan.CoordBeta),
			Lo:         0.35,
			Hi:         0.70,
			Step:       0.005,
			SeedPolicy: scan.SeedShared.String(),
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults; unknown keys are rejected.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	p := c.Params()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: model: %w", ErrInvalidConfig, err)
	}
	if err := model.ValidateState(c.State(), p.N); err != nil {
		return fmt.Errorf("%w: initial: %w", ErrInvalidConfig, err)
	}
	if c.Data.Observed == "" && c.Steps <= 0 {
		return fmt.Errorf("%w: steps must be > 0 when no observed file is given, got %d", ErrInvalidConfig, c.Steps)
	}
	if c.Filter.NParticles <= 0 {
		return fmt.Errorf("%w: filter.nparticles must be > 0, got %d", ErrInvalidConfig, c.Filter.NParticles)
	}
	if c.Filter.Workers < 0 || c.Filter.ChunkSize < 0 {
		return fmt.Errorf("%w: filter.workers and filter.chunkSize must be >= 0", ErrInvalidConfig)
	}
	if _, err := scan.ParseCoordinate(c.Scan.Coordinate); err != nil {
		return fmt.Errorf("%w: scan: %w", ErrInvalidConfig, err)
	}
	if _, err := scan.ParseSeedPolicy(c.Scan.SeedPolicy); err != nil {
		return fmt.Errorf("%w: scan: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Grid(); err != nil {
		return fmt.Errorf("%w: scan: %w", ErrInvalidConfig, err)
	}
	if c.Scan.Replicates < 0 {
		return fmt.Errorf("%w: scan.replicates must be >= 0, got %d", ErrInvalidConfig, c.Scan.Replicates)
	}
	if c.Scan.Level < 0 || c.Scan.Level >= 1 {
		return fmt.Errorf("%w: scan.level must be in (0, 1), got %v", ErrInvalidConfig, c.Scan.Level)
	}
	if c.Scan.Workers < 0 {
		return fmt.Errorf("%w: scan.workers must be >= 0, got %d", ErrInvalidConfig, c.Scan.Workers)
	}
	return nil
}

// Params returns the model parameters with defaults filled in.
func (c *Config) Params() model.Params {
	return model.Params{
		Beta:     c.Model.Beta,
		Gamma:    c.Model.Gamma,
		N:        c.Model.N,
		DtReport: c.Model.DtReport,
		NSub:     c.Model.NSub,
	}.WithDefaults()
}

// State returns the initial state.
func (c *Config) State() model.State {
	return model.State{S: c.Initial.S, I: c.Initial.I}
}

// Grid returns the scan values, explicit Values taking precedence over the range.
func (c *Config) Grid() ([]float64, error) {
	if len(c.Scan.Values) > 0 {
		return append([]float64(nil), c.Scan.Values...), nil
	}
	return scan.Range(c.Scan.Lo, c.Scan.Hi, c.Scan.Step)
}

// FilterOptions returns the options for a single filter run.
func (c *Config) FilterOptions() filter.Options {
	return filter.Options{
		NParticles: c.Filter.NParticles,
		Seed:       c.Filter.Seed,
		Workers:    c.Filter.Workers,
		ChunkSize:  c.Filter.ChunkSize,
	}
}

// ScanConfig builds the scan over observed; hooks are left for the caller.
func (c *Config) ScanConfig(observed []int) (scan.Config, error) {
	coord, err := scan.ParseCoordinate(c.Scan.Coordinate)
	if err != nil {
		return scan.Config{}, err
	}
	policy, err := scan.ParseSeedPolicy(c.Scan.SeedPolicy)
	if err != nil {
		return scan.Config{}, err
	}
	values, err := c.Grid()
	if err != nil {
		return scan.Config{}, err
	}
	return scan.Config{
		Base:          c.Params(),
		Initial:       c.State(),
		Coordinates:   []scan.Coordinate{coord},
		Grid:          scan.Grid1D(values),
		Observed:      observed,
		NParticles:    c.Filter.NParticles,
		Seed:          c.Filter.Seed,
		SeedPolicy:    policy,
		Replicates:    c.Scan.Replicates,
		Workers:       c.Scan.Workers,
		FilterWorkers: c.Filter.Workers,
		ChunkSize:     c.Filter.ChunkSize,
		Level:         c.Scan.Level,
	}, nil
}

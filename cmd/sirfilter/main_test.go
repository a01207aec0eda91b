// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SIR_Particle_Filter_Project/internal/config"
	"SIR_Particle_Filter_Project/internal/dataio"
)

const smallRun = `
model:
  beta: 0.5
  gamma: 0.25
  n: 200
initial:
  s: 190
  i: 10
steps: 10
data:
  seed: 8
filter:
  nparticles: 1000
  seed: 3
scan:
  coordinate: beta
  values: [0.3, 0.4, 0.5, 0.6, 0.7]
  workers: 2
`

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallRun), 0o644))
	return path
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	ctx := context.Background()

	// simulate writes the series the other commands read back
	var stdout, stderr bytes.Buffer
	err := run(ctx, []string{"simulate", "-config", cfgPath, "-out", dir, "-quiet"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "Simulated Trajectory")

	observedPath := filepath.Join(dir, "observed.csv")
	obs, err := dataio.LoadObservedCSV(observedPath)
	require.NoError(t, err)
	assert.Len(t, obs, 10)
	assert.FileExists(t, filepath.Join(dir, "trajectory.csv"))

	stdout.Reset()
	err = run(ctx, []string{"filter", "-config", cfgPath, "-observed", observedPath, "-quiet"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "Particles:        1000")

	stdout.Reset()
	err = run(ctx, []string{"scan", "-config", cfgPath, "-observed", observedPath, "-out", dir, "-quiet"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "Grid points: 5")

	raw, err := os.ReadFile(filepath.Join(dir, "scan.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "beta,loglik,failed"))
}

func TestRunRejectsBadInvocations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"fit", "-config", cfgPath}},
		{"unknown flag", []string{"scan", "-bogus"}},
		{"bad log level", []string{"scan", "-log-level", "loud"}},
		{"missing config", []string{"scan", "-config", filepath.Join(dir, "nope.yaml")}},
		{"negative particles", []string{"filter", "-config", cfgPath, "-nparticles", "-5"}},
		{"missing observed file", []string{"filter", "-config", cfgPath, "-observed", filepath.Join(dir, "nope.csv"), "-quiet"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			require.Error(t, run(ctx, tt.args, &stdout, &stderr))
		})
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	opts, err := parseOptions("scan", []string{
		"-config", cfgPath, "-nparticles", "250", "-seed", "99", "-workers", "0", "-out", dir,
	}, io.Discard)
	require.NoError(t, err)
	cfg, err := loadConfig(opts)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Filter.NParticles)
	assert.Equal(t, int64(99), cfg.Filter.Seed)
	assert.Equal(t, 0, cfg.Scan.Workers)
	assert.Equal(t, filepath.Join(dir, "scan.csv"), cfg.Output.Scan)

	// flags left out keep the file values
	opts, err = parseOptions("scan", []string{"-config", cfgPath}, io.Discard)
	require.NoError(t, err)
	cfg, err = loadConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scan.Workers)
	assert.Equal(t, int64(3), cfg.Filter.Seed)
	assert.Equal(t, 1000, cfg.Filter.NParticles)
	assert.Empty(t, cfg.Output.Scan)
}

func TestZeroFlagValuesOverrideFile(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	opts, err := parseOptions("filter", []string{"-config", cfgPath, "-seed", "0"}, io.Discard)
	require.NoError(t, err)
	cfg, err := loadConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.Filter.Seed)

	// an explicit zero particle count reaches validation instead of being ignored
	opts, err = parseOptions("filter", []string{"-config", cfgPath, "-nparticles", "0"}, io.Discard)
	require.NoError(t, err)
	_, err = loadConfig(opts)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

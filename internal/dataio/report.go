// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package dataio

import (
	"fmt"
	"io"
	"math"
	"strings"

	"SIR_Particle_Filter_Project/internal/filter"
	"SIR_Particle_Filter_Project/internal/model"
	"SIR_Particle_Filter_Project/internal/scan"
)

// PrintTrajectory prints a simulated trajectory as a table.
func PrintTrajectory(w io.Writer, tr *model.Trajectory, n int) {
	fmt.Fprintln(w, "\n=== Simulated Trajectory ===")
	fmt.Fprintf(w, "%4s %8s %8s %8s %8s\n", "t", "S", "I", "R", "C")

	rows := append([]model.State{tr.Initial}, tr.States...)
	for t, s := range rows {
		fmt.Fprintf(w, "%4d %8d %8d %8d %8d\n", t, s.S, s.I, s.Recovered(n), s.C)
	}
}

// PrintFilterResult prints the outcome of one filter run.
func PrintFilterResult(w io.Writer, p model.Params, res *filter.Result) {
	fmt.Fprintln(w, "\n=== Particle Filter ===")
	fmt.Fprintf(w, "beta = %.4f, gamma = %.4f, N = %d\n", p.Beta, p.Gamma, p.N)
	fmt.Fprintf(w, "Particles:        %d\n", res.NParticles)
	fmt.Fprintf(w, "Steps filtered:   %d\n", len(res.StepLogLik))
	fmt.Fprintf(w, "Elapsed:          %s\n", res.Elapsed)

	if res.Failed {
		fmt.Fprintf(w, "Filter collapsed at step %d (no particle matched the observation)\n", res.FailedStep)
		fmt.Fprintln(w, "Log-likelihood:   -Inf")
		return
	}

	fmt.Fprintf(w, "Log-likelihood:   %.4f\n", res.LogLik)
	minSurv := res.NParticles
	for _, s := range res.Survivors {
		minSurv = min(minSurv, s)
	}
	fmt.Fprintf(w, "Fewest survivors: %d of %d\n", minSurv, res.NParticles)
}

// PrintScanSummary prints the scan table followed by the estimate.
func PrintScanSummary(w io.Writer, res *scan.Result) {
	fmt.Fprintln(w, "\n=== Likelihood Scan ===")

	names := make([]string, len(res.Coordinates))
	for i, c := range res.Coordinates {
		names[i] = string(c)
	}
	fmt.Fprintf(w, "Coordinates: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(w, "Grid points: %d (%d feasible)\n\n", len(res.Points), res.Feasible())

	// Print header
	for _, name := range names {
		fmt.Fprintf(w, "%10s", name)
	}
	fmt.Fprintf(w, " | %12s | %12s\n", "loglik", "smoothed")
	fmt.Fprintln(w, strings.Repeat("-", 10*len(names)+30))

	// Print rows
	for i, pt := range res.Points {
		for _, v := range pt.Values {
			fmt.Fprintf(w, "%10.4f", v)
		}
		smoothed := math.NaN()
		if res.Smoothed != nil {
			smoothed = res.Smoothed[i]
		}
		mark := ""
		if i == res.BestIndex {
			mark = "  <- max"
		}
		fmt.Fprintf(w, " | %12s | %12s%s\n", formatCell(pt.LogLik), formatCell(smoothed), mark)
	}
	fmt.Fprintln(w)

	if res.BestIndex < 0 {
		fmt.Fprintln(w, "Every grid point collapsed; no estimate")
		return
	}
	for k, name := range names {
		fmt.Fprintf(w, "Estimate %s = %.4f\n", name, res.Best[k])
	}
	fmt.Fprintf(w, "Log-likelihood at estimate: %.4f\n", res.BestLogLik)
	if res.Interval != nil {
		fmt.Fprintf(w, "%.0f%% profile interval: [%.4f, %.4f]\n",
			100*res.Interval.Level, res.Interval.Lower, res.Interval.Upper)
	}
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	if math.IsInf(v, -1) {
		return "-Inf"
	}
	return fmt.Sprintf("%.4f", v)
}

// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package dataio

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"SIR_Particle_Filter_Project/internal/model"
	"SIR_Particle_Filter_Project/internal/scan"
)

// LoadObservedCSV loads a new-case series from a CSV file.
// The file needs a header row; the counts are read from the column named
// "cases" or, when there is none, from the last column.
func LoadObservedCSV(path string) ([]int, error) {
	// 1. Open file
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	obs, err := ReadObserved(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return obs, nil
}

// ReadObserved parses a new-case series in the format of LoadObservedCSV.
func ReadObserved(in io.Reader) ([]int, error) {
	// 2. Make CSV reader
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	// 3. Read header row, pick the cases column
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header")
	}
	col := len(header) - 1
	for j, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "cases") {
			col = j
			break
		}
	}

	// 4. Read each data row
	var obs []int
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err) // +2 for header + 1-based
		}

		// Skip completely empty lines
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, len(header), len(record))
		}

		v, err := strconv.Atoi(strings.TrimSpace(record[col]))
		if err != nil {
			return nil, fmt.Errorf("parse count at row %d (%q): %w", row+2, record[col], err)
		}
		obs = append(obs, v)
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return obs, nil
}

// WriteObservedCSV writes a new-case series as t,cases with t starting at 1.
func WriteObservedCSV(path string, obs []int) error {
	return writeFile(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"t", "cases"}); err != nil {
			return err
		}
		for t, c := range obs {
			if err := w.Write([]string{strconv.Itoa(t + 1), strconv.Itoa(c)}); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTrajectoryCSV writes a simulated trajectory as t,S,I,R,C, including t = 0.
func WriteTrajectoryCSV(path string, tr *model.Trajectory, n int) error {
	return writeFile(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"t", "S", "I", "R", "C"}); err != nil {
			return err
		}
		rows := append([]model.State{tr.Initial}, tr.States...)
		for t, s := range rows {
			rec := []string{
				strconv.Itoa(t),
				strconv.Itoa(s.S),
				strconv.Itoa(s.I),
				strconv.Itoa(s.Recovered(n)),
				strconv.Itoa(s.C),
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteScanCSV writes one row per grid point.
// Columns: <coordinates...>, loglik, failed, replicates, mean_loglik, sd_loglik, smoothed
func WriteScanCSV(path string, res *scan.Result) error {
	return writeFile(path, func(w *csv.Writer) error {
		return WriteScan(w, res)
	})
}

// WriteScan writes the scan table to an open CSV writer.
func WriteScan(w *csv.Writer, res *scan.Result) error {
	header := make([]string, 0, len(res.Coordinates)+6)
	for _, c := range res.Coordinates {
		header = append(header, string(c))
	}
	header = append(header, "loglik", "failed", "replicates", "mean_loglik", "sd_loglik", "smoothed")
	if err := w.Write(header); err != nil {
		return err
	}

	for i, pt := range res.Points {
		rec := make([]string, 0, len(header))
		for _, v := range pt.Values {
			rec = append(rec, formatFloat(v))
		}
		smoothed := math.NaN()
		if res.Smoothed != nil {
			smoothed = res.Smoothed[i]
		}
		rec = append(rec,
			formatFloat(pt.LogLik),
			strconv.FormatBool(pt.Failed),
			strconv.Itoa(len(pt.Replicates)),
			formatFloat(pt.MeanLogLik),
			formatFloat(pt.SDLogLik),
			formatFloat(smoothed),
		)
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// writeFile creates path and hands a CSV writer to fill.
func writeFile(path string, fill func(w *csv.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	// Initialize a new CSV writer
	writer := csv.NewWriter(file)
	if err := fill(writer); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

// formatFloat writes -Inf and NaN the way R and pandas read them back.
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NA"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsInf(v, 1):
		return "Inf"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

package nre

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// KernelRatioEstimator is the built-in reference implementation of
// RatioEstimator: an importance-weighted kernel regression in the style
// of classical ABC. Each training record is weighted by a Gaussian kernel
// on its observation's distance to the reference observation (bandwidth =
// median distance), and the per-marginal log-ratio at a unit-cube
// location is the log of the kernel-smoothed mean weight there.
//
// It trains in closed form, is deterministic, and needs no external
// tooling, which makes it the default for the CLI and for smoke tests.
// Serious inference binds a neural estimator through the RatioEstimator
// interface instead.
type KernelRatioEstimator struct {
	Bandwidth float64 // smoothing width in unit-cube space (default 0.05)
}

// Train snapshots the dataset into a closed-form scorer.
func (k *KernelRatioEstimator) Train(ctx context.Context, ds *Dataset, marginals []string) (Scorer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ds.Len() < 2 {
		return nil, fmt.Errorf("kernel estimator needs at least 2 training records, got %d", ds.Len())
	}
	bw := k.Bandwidth
	if bw <= 0 {
		bw = 0.05
	}

	records := ds.Records()
	keys := observationKeys(records[0].Observation)
	marginalU := make(map[string][]float64, len(marginals))
	for _, m := range marginals {
		u := make([]float64, len(records))
		for i, rec := range records {
			u[i] = rec.Params.Cube[m]
		}
		marginalU[m] = u
	}
	obsRows := make([][]float64, len(records))
	for i, rec := range records {
		obsRows[i] = flattenObservation(rec.Observation, keys)
	}
	return &kernelScorer{bw: bw, obsKeys: keys, marginalU: marginalU, obsRows: obsRows}, nil
}

type kernelScorer struct {
	bw        float64
	obsKeys   []string
	marginalU map[string][]float64
	obsRows   [][]float64
}

// LogRatios scores unit-cube locations along one marginal against the
// reference observation. Pure: no state is mutated.
func (s *kernelScorer) LogRatios(obs map[string][]float64, marginal string, cubeU []float64) ([]float64, error) {
	trainU, ok := s.marginalU[marginal]
	if !ok {
		return nil, fmt.Errorf("scorer was not trained for marginal %q", marginal)
	}
	x0 := flattenObservation(obs, s.obsKeys)
	if len(x0) != len(s.obsRows[0]) {
		return nil, fmt.Errorf("observation shape mismatch: got %d values, trained on %d", len(x0), len(s.obsRows[0]))
	}

	// Observation-space weights: Gaussian kernel on RMS distance to the
	// reference, bandwidth = median distance across the training set.
	dists := make([]float64, len(s.obsRows))
	for i, row := range s.obsRows {
		sum := 0.0
		for j := range row {
			d := row[j] - x0[j]
			sum += d * d
		}
		dists[i] = math.Sqrt(sum / float64(len(row)))
	}
	sorted := make([]float64, len(dists))
	copy(sorted, dists)
	sort.Float64s(sorted)
	h := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if h == 0 {
		h = 1
	}
	logW := make([]float64, len(dists))
	for i, d := range dists {
		logW[i] = -0.5 * (d / h) * (d / h)
	}

	out := make([]float64, len(cubeU))
	for q, u := range cubeU {
		num := make([]float64, len(trainU))
		den := make([]float64, len(trainU))
		for i, ui := range trainU {
			z := (u - ui) / s.bw
			logK := -0.5 * z * z
			num[i] = logK + logW[i]
			den[i] = logK
		}
		out[q] = logSumExp(num) - logSumExp(den)
	}
	return out, nil
}

// observationKeys returns the sorted observable keys.
func observationKeys(obs map[string][]float64) []string {
	keys := make([]string, 0, len(obs))
	for k := range obs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// flattenObservation concatenates observable arrays in key order.
func flattenObservation(obs map[string][]float64, keys []string) []float64 {
	var row []float64
	for _, k := range keys {
		row = append(row, obs[k]...)
	}
	return row
}

// logSumExp computes log(sum(exp(v))) stably.
func logSumExp(v []float64) float64 {
	max := math.Inf(-1)
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	sum := 0.0
	for _, x := range v {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

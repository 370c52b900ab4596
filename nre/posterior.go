package nre

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// WeightedSamples is a set of prior draws with per-marginal posterior
// log-weights (the estimated log likelihood-ratio at each draw).
// LogWeights slices are index-aligned with Points.
type WeightedSamples struct {
	Points     []ParameterPoint
	LogWeights map[string][]float64
}

// SamplePosterior draws n points from the (possibly constrained) prior
// and scores them against the reference observation, one weight series
// per 1-D marginal. Observations should be restricted to the constrained
// region's support for the weights to be meaningful.
func SamplePosterior(n int, obs map[string][]float64, scorer Scorer, prior *Prior, rng *rand.Rand) (WeightedSamples, error) {
	points := prior.Sample(n, rng)
	weights := make(map[string][]float64, prior.Dim())
	for _, name := range prior.Names() {
		cubeU := make([]float64, len(points))
		for i, pt := range points {
			cubeU[i] = pt.Cube[name]
		}
		logr, err := scorer.LogRatios(obs, name, cubeU)
		if err != nil {
			return WeightedSamples{}, fmt.Errorf("scoring marginal %q: %w", name, err)
		}
		weights[name] = logr
	}
	return WeightedSamples{Points: points, LogWeights: weights}, nil
}

// RejectionSample draws exactly n posterior samples per 1-D marginal via
// rejection sampling on the weighted prior draws: each iteration draws
// excessFactor*n candidates and keeps each with probability
// weight/maxWeight. Marginals that have reached n samples are removed
// from the working set by recomputing remaining = remaining − satisfied
// between iterations; the set is never mutated while being iterated.
// Returns the kept natural-unit values per marginal.
func RejectionSample(n int, obs map[string][]float64, scorer Scorer, prior *Prior, rng *rand.Rand, excessFactor, maxIter int) (map[string][]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("rejection sampling needs n > 0, got %d", n)
	}
	if excessFactor <= 0 {
		excessFactor = 100
	}
	if maxIter <= 0 {
		maxIter = 1000
	}

	remaining := prior.Names()
	sort.Strings(remaining)
	collected := make(map[string][]float64, len(remaining))

	for iter := 0; iter < maxIter && len(remaining) > 0; iter++ {
		ws, err := SamplePosterior(excessFactor*n, obs, scorer, prior, rng)
		if err != nil {
			return nil, err
		}
		for _, name := range remaining {
			logw := ws.LogWeights[name]
			maxLog := math.Inf(-1)
			for _, w := range logw {
				if w > maxLog {
					maxLog = w
				}
			}
			for i, pt := range ws.Points {
				if math.Log(rng.Float64()) <= logw[i]-maxLog {
					collected[name] = append(collected[name], pt.Natural[name])
				}
			}
		}

		var satisfied []string
		for _, name := range remaining {
			if len(collected[name]) >= n {
				satisfied = append(satisfied, name)
			}
		}
		remaining = subtract(remaining, satisfied)
	}
	if len(remaining) > 0 {
		return nil, fmt.Errorf("rejection sampling did not reach %d samples for %v within %d iterations", n, remaining, maxIter)
	}

	out := make(map[string][]float64, len(collected))
	for name, vals := range collected {
		out[name] = vals[:n]
	}
	return out, nil
}

// subtract returns the elements of set not present in drop, preserving
// order. It always allocates a fresh slice.
func subtract(set, drop []string) []string {
	dropped := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropped[d] = true
	}
	out := make([]string, 0, len(set))
	for _, s := range set {
		if !dropped[s] {
			out = append(out, s)
		}
	}
	return out
}

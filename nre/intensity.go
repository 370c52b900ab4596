package nre

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Count policies for Intensity.Sample. The Poisson policy draws the raw
// point count from Poisson(N), which is the faithful inhomogeneous
// Poisson point process; the fixed policy uses exactly round(N) and is
// useful for reproducible budget accounting. The choice is an explicit
// configuration knob (Config.CountPolicy).
const (
	CountPoisson = "poisson"
	CountFixed   = "fixed"
)

// Intensity is an inhomogeneous Poisson point process over the unit
// hypercube: rate uniform inside a ComboMask and zero outside, with a
// target expected point count N.
type Intensity struct {
	expected float64
	mask     *ComboMask
	policy   string
}

// NewIntensity builds an intensity with expected count n over the region.
// An empty policy defaults to CountPoisson.
func NewIntensity(n float64, mask *ComboMask, policy string) *Intensity {
	if policy == "" {
		policy = CountPoisson
	}
	return &Intensity{expected: n, mask: mask, policy: policy}
}

// Expected returns the target expected point count N.
func (it *Intensity) Expected() float64 { return it.expected }

// Mask returns the region the process is supported on.
func (it *Intensity) Mask() *ComboMask { return it.mask }

// Count draws the raw point count for one realization: Poisson(N) under
// the Poisson policy, round(N) under the fixed policy.
func (it *Intensity) Count(src rand.Source) int {
	if it.policy == CountFixed {
		return int(math.Round(it.expected))
	}
	p := distuv.Poisson{Lambda: it.expected, Src: src}
	return int(p.Rand())
}

// Sample draws one realization of the process: a Count-sized set of
// i.i.d. uniform unit-cube points inside the mask.
func (it *Intensity) Sample(rng *rand.Rand, src rand.Source) []map[string]float64 {
	return it.mask.Sample(it.Count(src), rng)
}

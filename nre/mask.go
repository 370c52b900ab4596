package nre

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Interval is a closed interval [Lo, Hi] within the unit interval.
// Zero-length intervals (Lo == Hi) are valid.
type Interval struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Mask1d is an ordered, non-overlapping set of closed intervals within
// [0,1], representing the constrained sub-support of one parameter in
// unit-cube space. Intervals are kept sorted ascending and merged when
// they touch or overlap.
type Mask1d struct {
	intervals []Interval
}

// NewMask1d builds a Mask1d from arbitrary intervals: they are clamped to
// [0,1], sorted, and merged. Intervals entirely outside [0,1] or with
// Hi < Lo are dropped.
func NewMask1d(intervals []Interval) *Mask1d {
	clamped := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		lo := math.Max(0, iv.Lo)
		hi := math.Min(1, iv.Hi)
		if hi < lo {
			continue
		}
		clamped = append(clamped, Interval{Lo: lo, Hi: hi})
	}
	sort.Slice(clamped, func(i, j int) bool { return clamped[i].Lo < clamped[j].Lo })

	merged := make([]Interval, 0, len(clamped))
	for _, iv := range clamped {
		if n := len(merged); n > 0 && iv.Lo <= merged[n-1].Hi {
			if iv.Hi > merged[n-1].Hi {
				merged[n-1].Hi = iv.Hi
			}
			continue
		}
		merged = append(merged, iv)
	}
	return &Mask1d{intervals: merged}
}

// FullMask1d returns the mask covering all of [0,1].
func FullMask1d() *Mask1d {
	return &Mask1d{intervals: []Interval{{Lo: 0, Hi: 1}}}
}

// Mask1dFromThreshold builds the maximal set of intervals where
// score - max(score) >= log(threshold), given a 1-D set of unit-cube
// locations and associated log-ratio scores. The grid is sorted by
// location; a single pass opens an interval on an upward threshold
// crossing and closes it on a downward crossing. If no grid point clears
// the threshold the returned mask is empty (zero volume), a valid but
// degenerate state the caller must detect.
func Mask1dFromThreshold(gridU, score []float64, threshold float64) *Mask1d {
	if len(gridU) == 0 || len(gridU) != len(score) {
		return NewMask1d(nil)
	}
	type pt struct{ u, s float64 }
	pts := make([]pt, len(gridU))
	for i := range gridU {
		pts[i] = pt{u: gridU[i], s: score[i]}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].u < pts[j].u })

	maxScore := math.Inf(-1)
	for _, p := range pts {
		if p.s > maxScore {
			maxScore = p.s
		}
	}
	cut := maxScore + math.Log(threshold)

	var intervals []Interval
	open := false
	var lo float64
	for i, p := range pts {
		above := p.s >= cut
		switch {
		case above && !open:
			lo = p.u
			open = true
		case !above && open:
			intervals = append(intervals, Interval{Lo: lo, Hi: pts[i-1].u})
			open = false
		}
	}
	if open {
		intervals = append(intervals, Interval{Lo: lo, Hi: pts[len(pts)-1].u})
	}
	return NewMask1d(intervals)
}

// Intervals returns a copy of the mask's intervals.
func (m *Mask1d) Intervals() []Interval {
	out := make([]Interval, len(m.intervals))
	copy(out, m.intervals)
	return out
}

// TotalLength returns the summed interval length.
func (m *Mask1d) TotalLength() float64 {
	total := 0.0
	for _, iv := range m.intervals {
		total += iv.Hi - iv.Lo
	}
	return total
}

// Empty reports whether the mask has zero total length.
func (m *Mask1d) Empty() bool { return m.TotalLength() == 0 }

// Contains reports whether u lies inside any interval (closed endpoints).
func (m *Mask1d) Contains(u float64) bool {
	// intervals are sorted; find the first with Hi >= u
	i := sort.Search(len(m.intervals), func(i int) bool { return m.intervals[i].Hi >= u })
	return i < len(m.intervals) && m.intervals[i].Lo <= u
}

// Sample draws one point uniformly within the mask: pick an interval
// weighted by its length via inverse-CDF search, then draw uniformly
// inside it. Sampling an empty mask returns NaN.
func (m *Mask1d) Sample(rng *rand.Rand) float64 {
	total := m.TotalLength()
	if total == 0 {
		return math.NaN()
	}
	cdf := make([]float64, len(m.intervals))
	cum := 0.0
	for i, iv := range m.intervals {
		cum += (iv.Hi - iv.Lo) / total
		cdf[i] = cum
	}
	cdf[len(cdf)-1] = 1.0
	idx := sort.SearchFloat64s(cdf, rng.Float64())
	if idx >= len(m.intervals) {
		idx = len(m.intervals) - 1
	}
	iv := m.intervals[idx]
	return iv.Lo + rng.Float64()*(iv.Hi-iv.Lo)
}

// ComboMask is a factorized region of the unit hypercube: one Mask1d per
// parameter name. The joint region is the Cartesian product of the
// per-parameter masks.
type ComboMask struct {
	names []string
	masks map[string]*Mask1d
}

// NewComboMask builds a ComboMask over the named dimensions, in order.
// Every name must have a mask.
func NewComboMask(names []string, masks map[string]*Mask1d) *ComboMask {
	ordered := make([]string, len(names))
	copy(ordered, names)
	held := make(map[string]*Mask1d, len(masks))
	for _, name := range ordered {
		m := masks[name]
		if m == nil {
			m = FullMask1d()
		}
		held[name] = m
	}
	return &ComboMask{names: ordered, masks: held}
}

// FullComboMask returns the mask covering the whole unit hypercube.
func FullComboMask(names []string) *ComboMask {
	masks := make(map[string]*Mask1d, len(names))
	for _, name := range names {
		masks[name] = FullMask1d()
	}
	return NewComboMask(names, masks)
}

// Names returns the dimension names in order.
func (c *ComboMask) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Dim returns the mask for one dimension.
func (c *ComboMask) Dim(name string) *Mask1d { return c.masks[name] }

// Volume returns the product of the per-dimension total lengths.
func (c *ComboMask) Volume() float64 {
	v := 1.0
	for _, name := range c.names {
		v *= c.masks[name].TotalLength()
	}
	return v
}

// EmptyDims returns the names of dimensions whose 1-D mask has collapsed
// to zero length.
func (c *ComboMask) EmptyDims() []string {
	var out []string
	for _, name := range c.names {
		if c.masks[name].Empty() {
			out = append(out, name)
		}
	}
	return out
}

// Contains reports whether the unit-cube point lies inside the region:
// the conjunction of per-dimension membership.
func (c *ComboMask) Contains(cube map[string]float64) bool {
	for _, name := range c.names {
		if !c.masks[name].Contains(cube[name]) {
			return false
		}
	}
	return true
}

// Sample draws n points uniformly inside the product region. Sampling is
// exact (rejection-free) because the region factorizes per dimension.
func (c *ComboMask) Sample(n int, rng *rand.Rand) []map[string]float64 {
	points := make([]map[string]float64, 0, n)
	for i := 0; i < n; i++ {
		cube := make(map[string]float64, len(c.names))
		for _, name := range c.names {
			cube[name] = c.masks[name].Sample(rng)
		}
		points = append(points, cube)
	}
	return points
}

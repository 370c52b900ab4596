package nre

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// ParameterPoint is an ordered tuple of named scalar parameters expressed
// in two coordinate systems: natural units and unit-cube units (image of
// the natural value under the parameter's prior CDF). Immutable once
// created; constructors copy their inputs.
type ParameterPoint struct {
	Natural map[string]float64
	Cube    map[string]float64
}

func newParameterPoint(natural, cube map[string]float64) ParameterPoint {
	n := make(map[string]float64, len(natural))
	for k, v := range natural {
		n[k] = v
	}
	c := make(map[string]float64, len(cube))
	for k, v := range cube {
		c[k] = v
	}
	return ParameterPoint{Natural: n, Cube: c}
}

// dist1d is the subset of gonum/stat/distuv behavior the prior layer needs.
type dist1d interface {
	CDF(x float64) float64
	Quantile(p float64) float64
	LogProb(x float64) float64
}

// ParamDef declares one named prior in a factorized prior model.
// Recognized distributions and their args:
//
//	uniform   [min, max]
//	normal    [mean, stddev]
//	lognormal [mu, sigma]     (parameters of ln X)
type ParamDef struct {
	Name string    `yaml:"name" json:"name"`
	Dist string    `yaml:"dist" json:"dist"`
	Args []float64 `yaml:"args" json:"args"`
}

// Prior1d is a one-dimensional parameter prior. It provides sampling and
// the CDF/quantile pair that maps between natural and unit-cube units.
type Prior1d struct {
	def  ParamDef
	dist dist1d
}

// NewPrior1d builds a Prior1d from a definition. Unknown distribution
// names or malformed args yield a ConfigError.
func NewPrior1d(def ParamDef) (*Prior1d, error) {
	if len(def.Args) != 2 {
		return nil, &ConfigError{Field: "prior " + def.Name, Reason: fmt.Sprintf("wants 2 args, got %d", len(def.Args))}
	}
	a, b := def.Args[0], def.Args[1]
	var dist dist1d
	switch def.Dist {
	case "uniform":
		if b <= a {
			return nil, &ConfigError{Field: "prior " + def.Name, Reason: "uniform needs max > min"}
		}
		dist = distuv.Uniform{Min: a, Max: b}
	case "normal":
		if b <= 0 {
			return nil, &ConfigError{Field: "prior " + def.Name, Reason: "normal needs stddev > 0"}
		}
		dist = distuv.Normal{Mu: a, Sigma: b}
	case "lognormal":
		if b <= 0 {
			return nil, &ConfigError{Field: "prior " + def.Name, Reason: "lognormal needs sigma > 0"}
		}
		dist = distuv.LogNormal{Mu: a, Sigma: b}
	default:
		return nil, &ConfigError{Field: "prior " + def.Name, Reason: fmt.Sprintf("unknown distribution %q", def.Dist)}
	}
	return &Prior1d{def: def, dist: dist}, nil
}

// Sample draws one natural-unit value via inverse-CDF sampling.
func (p *Prior1d) Sample(rng *rand.Rand) float64 {
	return p.dist.Quantile(rng.Float64())
}

// ToCube maps a natural-unit value into [0,1] via the CDF.
func (p *Prior1d) ToCube(v float64) float64 { return p.dist.CDF(v) }

// FromCube maps a unit-cube value back to natural units via the quantile.
func (p *Prior1d) FromCube(u float64) float64 { return p.dist.Quantile(u) }

// LogProb returns the log prior density at a natural-unit value.
func (p *Prior1d) LogProb(v float64) float64 { return p.dist.LogProb(v) }

// Def returns the definition this prior was built from.
func (p *Prior1d) Def() ParamDef { return p.def }

// Prior is a completely factorized prior over named parameters, optionally
// bound to a ComboMask in unit-cube space. A bound prior samples uniformly
// inside the mask (mapped back to natural units) and reports the mask
// volume; an unbound prior has volume 1.
type Prior struct {
	names  []string
	priors map[string]*Prior1d
	mask   *ComboMask // nil when unbound
}

// NewPrior builds a factorized prior from ordered parameter definitions.
func NewPrior(defs []ParamDef) (*Prior, error) {
	if len(defs) == 0 {
		return nil, &ConfigError{Field: "priors", Reason: "must declare at least one parameter"}
	}
	names := make([]string, 0, len(defs))
	priors := make(map[string]*Prior1d, len(defs))
	for _, def := range defs {
		if _, dup := priors[def.Name]; dup {
			return nil, &ConfigError{Field: "priors", Reason: fmt.Sprintf("duplicate parameter %q", def.Name)}
		}
		p1, err := NewPrior1d(def)
		if err != nil {
			return nil, err
		}
		names = append(names, def.Name)
		priors[def.Name] = p1
	}
	return &Prior{names: names, priors: priors}, nil
}

// Names returns the parameter names in declaration order.
func (p *Prior) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Dim returns the parameter dimensionality.
func (p *Prior) Dim() int { return len(p.names) }

// Defs returns the ordered parameter definitions (for persistence).
func (p *Prior) Defs() []ParamDef {
	out := make([]ParamDef, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, p.priors[name].def)
	}
	return out
}

// Mask returns the bound region, or nil for the full unit cube.
func (p *Prior) Mask() *ComboMask { return p.mask }

// Bind returns a prior over the same distributions constrained to the
// given unit-cube region. Bind(nil) returns the unconstrained prior.
func (p *Prior) Bind(mask *ComboMask) *Prior {
	return &Prior{names: p.names, priors: p.priors, mask: mask}
}

// Volume returns the unit-cube volume of the bound region (1 if unbound).
func (p *Prior) Volume() float64 {
	if p.mask == nil {
		return 1.0
	}
	return p.mask.Volume()
}

// Sample draws n parameter points. Unbound priors sample each dimension
// from its own distribution; bound priors draw uniformly inside the mask
// and map through the inverse CDFs.
func (p *Prior) Sample(n int, rng *rand.Rand) []ParameterPoint {
	points := make([]ParameterPoint, 0, n)
	if p.mask == nil {
		for i := 0; i < n; i++ {
			natural := make(map[string]float64, len(p.names))
			cube := make(map[string]float64, len(p.names))
			for _, name := range p.names {
				v := p.priors[name].Sample(rng)
				natural[name] = v
				cube[name] = p.priors[name].ToCube(v)
			}
			points = append(points, ParameterPoint{Natural: natural, Cube: cube})
		}
		return points
	}
	for _, cube := range p.mask.Sample(n, rng) {
		points = append(points, p.PointFromCube(cube))
	}
	return points
}

// PointFromCube builds a full ParameterPoint from unit-cube coordinates.
func (p *Prior) PointFromCube(cube map[string]float64) ParameterPoint {
	natural := make(map[string]float64, len(p.names))
	for _, name := range p.names {
		natural[name] = p.priors[name].FromCube(cube[name])
	}
	return newParameterPoint(natural, cube)
}

// ToCube maps natural-unit values into the unit cube.
func (p *Prior) ToCube(natural map[string]float64) map[string]float64 {
	cube := make(map[string]float64, len(p.names))
	for _, name := range p.names {
		cube[name] = p.priors[name].ToCube(natural[name])
	}
	return cube
}

// LogProb returns the log density of the (possibly bound) prior at a
// point: -Inf outside the mask, otherwise the unmasked factorized log
// density renormalized by the mask volume.
func (p *Prior) LogProb(pt ParameterPoint) float64 {
	sum := 0.0
	for _, name := range p.names {
		sum += p.priors[name].LogProb(pt.Natural[name])
	}
	if p.mask == nil {
		return sum
	}
	if !p.mask.Contains(pt.Cube) {
		return math.Inf(-1)
	}
	return sum - math.Log(p.mask.Volume())
}

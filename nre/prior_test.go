package nre

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nre-sim/nre-sim/nre/internal/testutil"
)

func uniformDefs() []ParamDef {
	return []ParamDef{
		{Name: "a", Dist: "uniform", Args: []float64{0, 10}},
		{Name: "b", Dist: "uniform", Args: []float64{-1, 1}},
	}
}

func TestNewPrior1d_RejectsMalformedDefs(t *testing.T) {
	cases := []ParamDef{
		{Name: "x", Dist: "uniform", Args: []float64{1}},
		{Name: "x", Dist: "uniform", Args: []float64{2, 1}},
		{Name: "x", Dist: "normal", Args: []float64{0, 0}},
		{Name: "x", Dist: "lognormal", Args: []float64{0, -1}},
		{Name: "x", Dist: "cauchy", Args: []float64{0, 1}},
	}
	for _, def := range cases {
		_, err := NewPrior1d(def)
		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr, "def %+v must be rejected", def)
	}
}

func TestPrior1d_CubeRoundTrip(t *testing.T) {
	for _, def := range []ParamDef{
		{Name: "u", Dist: "uniform", Args: []float64{2, 6}},
		{Name: "n", Dist: "normal", Args: []float64{1, 0.5}},
		{Name: "l", Dist: "lognormal", Args: []float64{0, 1}},
	} {
		p, err := NewPrior1d(def)
		require.NoError(t, err)
		for _, u := range []float64{0.05, 0.3, 0.5, 0.9} {
			v := p.FromCube(u)
			testutil.AssertFloat64Equal(t, def.Name, u, p.ToCube(v), 1e-9)
		}
	}
}

func TestPrior1d_UniformCubeIsAffine(t *testing.T) {
	p, err := NewPrior1d(ParamDef{Name: "a", Dist: "uniform", Args: []float64{2, 6}})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, p.FromCube(0.5), 1e-12)
	assert.InDelta(t, 0.25, p.ToCube(3.0), 1e-12)
}

func TestNewPrior_RejectsEmptyAndDuplicates(t *testing.T) {
	_, err := NewPrior(nil)
	assert.Error(t, err)

	_, err = NewPrior([]ParamDef{
		{Name: "a", Dist: "uniform", Args: []float64{0, 1}},
		{Name: "a", Dist: "uniform", Args: []float64{0, 2}},
	})
	assert.Error(t, err)
}

func TestPrior_SampleUnbound(t *testing.T) {
	prior, err := NewPrior(uniformDefs())
	require.NoError(t, err)

	points := prior.Sample(200, testRNG())
	require.Len(t, points, 200)
	for _, pt := range points {
		assert.GreaterOrEqual(t, pt.Natural["a"], 0.0)
		assert.LessOrEqual(t, pt.Natural["a"], 10.0)
		assert.GreaterOrEqual(t, pt.Natural["b"], -1.0)
		assert.LessOrEqual(t, pt.Natural["b"], 1.0)
		// cube coordinates agree with the CDF of the natural value
		testutil.AssertFloat64Equal(t, "cube a", pt.Natural["a"]/10.0, pt.Cube["a"], 1e-9)
	}
}

func TestPrior_SampleBoundStaysInRegion(t *testing.T) {
	prior, err := NewPrior(uniformDefs())
	require.NoError(t, err)

	mask := NewComboMask(prior.Names(), map[string]*Mask1d{
		"a": NewMask1d([]Interval{{Lo: 0.2, Hi: 0.4}}),
		"b": NewMask1d([]Interval{{Lo: 0.5, Hi: 1}}),
	})
	bound := prior.Bind(mask)
	assert.InDelta(t, 0.2*0.5, bound.Volume(), 1e-12)

	for _, pt := range bound.Sample(200, testRNG()) {
		assert.True(t, mask.Contains(pt.Cube))
		// natural values follow from the cube coordinates
		assert.GreaterOrEqual(t, pt.Natural["a"], 2.0)
		assert.LessOrEqual(t, pt.Natural["a"], 4.0)
		assert.GreaterOrEqual(t, pt.Natural["b"], 0.0)
	}
}

func TestPrior_BindDoesNotMutateOriginal(t *testing.T) {
	prior, err := NewPrior(uniformDefs())
	require.NoError(t, err)

	mask := NewComboMask(prior.Names(), map[string]*Mask1d{
		"a": NewMask1d([]Interval{{Lo: 0, Hi: 0.1}}),
	})
	bound := prior.Bind(mask)
	assert.Nil(t, prior.Mask())
	assert.NotNil(t, bound.Mask())
	assert.InDelta(t, 1.0, prior.Volume(), 1e-12)
}

func TestPrior_LogProb(t *testing.T) {
	prior, err := NewPrior([]ParamDef{{Name: "a", Dist: "uniform", Args: []float64{0, 10}}})
	require.NoError(t, err)

	pt := prior.PointFromCube(map[string]float64{"a": 0.3})
	// unbound: density of uniform(0,10) is 1/10
	testutil.AssertFloat64Equal(t, "unbound", math.Log(0.1), prior.LogProb(pt), 1e-9)

	mask := NewComboMask(prior.Names(), map[string]*Mask1d{
		"a": NewMask1d([]Interval{{Lo: 0.25, Hi: 0.75}}),
	})
	bound := prior.Bind(mask)

	// inside the region the density gains a factor 1/volume
	testutil.AssertFloat64Equal(t, "bound inside", math.Log(0.1)-math.Log(0.5), bound.LogProb(pt), 1e-9)

	outside := prior.PointFromCube(map[string]float64{"a": 0.1})
	assert.True(t, math.IsInf(bound.LogProb(outside), -1))
}

func TestPrior_DefsPreserveOrder(t *testing.T) {
	prior, err := NewPrior(uniformDefs())
	require.NoError(t, err)
	defs := prior.Defs()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "b", defs[1].Name)
}

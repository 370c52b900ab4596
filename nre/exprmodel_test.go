package nre

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nre-sim/nre-sim/nre/internal/testutil"
)

func TestNewExprModel_ScalarAndListObservables(t *testing.T) {
	model, err := NewExprModel(map[string]string{
		"line": "[m*0.5 + c, m*1.5 + c]",
		"peak": "m * m",
	})
	require.NoError(t, err)

	obs, err := model(map[string]float64{"m": 2, "c": 1})
	require.NoError(t, err)
	testutil.AssertFloatSliceClose(t, "line", []float64{2, 4}, obs["line"], 1e-12)
	testutil.AssertFloatSliceClose(t, "peak", []float64{4}, obs["peak"], 1e-12)
}

func TestNewExprModel_CompileErrors(t *testing.T) {
	_, err := NewExprModel(nil)
	assert.Error(t, err)

	_, err = NewExprModel(map[string]string{"y": ""})
	assert.ErrorContains(t, err, "empty expression")

	_, err = NewExprModel(map[string]string{"y": "m +* c"})
	assert.ErrorContains(t, err, "compiling")
}

func TestNewExprModel_RuntimeErrorSurfaces(t *testing.T) {
	model, err := NewExprModel(map[string]string{"y": "unknown_param + 1"})
	require.NoError(t, err)
	_, err = model(map[string]float64{"m": 1})
	assert.Error(t, err)
}

func TestNewExprModel_RejectsNonNumericResults(t *testing.T) {
	model, err := NewExprModel(map[string]string{"y": `"text"`})
	require.NoError(t, err)
	_, err = model(map[string]float64{"m": 1})
	assert.ErrorContains(t, err, "not a number")

	model, err = NewExprModel(map[string]string{"y": `[1.0, "two"]`})
	require.NoError(t, err)
	_, err = model(map[string]float64{"m": 1})
	assert.ErrorContains(t, err, "not numeric")
}

func TestNewExprModel_IntegerResultsAreCoerced(t *testing.T) {
	model, err := NewExprModel(map[string]string{"y": "1 + 2"})
	require.NoError(t, err)
	obs, err := model(nil)
	require.NoError(t, err)
	testutil.AssertFloatSliceClose(t, "y", []float64{3}, obs["y"], 0)
}

func TestNewExprModel_SatisfiesSimulatorContract(t *testing.T) {
	// GIVEN an analytic model wrapped as a simulator
	model, err := NewExprModel(map[string]string{"y": "[a, a*a]"})
	require.NoError(t, err)
	prior, err := NewPrior([]ParamDef{{Name: "a", Dist: "uniform", Args: []float64{0, 1}}})
	require.NoError(t, err)

	shapes, err := ShapesFromModel(model, prior, testRNG())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"y": 2}, shapes)
}

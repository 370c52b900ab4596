package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nre-sim/nre-sim/nre"
)

func writeSpec(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "problem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalSpec = `
seed: 7
priors:
  - name: m
    dist: uniform
    args: [-2, 2]
  - name: c
    dist: normal
    args: [0, 1]
observation:
  y: [0.1, 0.9]
model:
  expressions:
    y: "[m*0.25 + c, m*0.75 + c]"
`

func TestLoadProblemSpec_Minimal(t *testing.T) {
	spec, err := LoadProblemSpec(writeSpec(t, minimalSpec))
	require.NoError(t, err)

	assert.Equal(t, int64(7), spec.Seed)
	require.Len(t, spec.Priors, 2)
	assert.Equal(t, "m", spec.Priors[0].Name)
	assert.Equal(t, []float64{0.1, 0.9}, spec.Observation["y"])

	// unset config fields keep their defaults
	assert.Equal(t, nre.DefaultConfig(), spec.Config)
}

func TestLoadProblemSpec_ConfigOverridesMergeWithDefaults(t *testing.T) {
	spec, err := LoadProblemSpec(writeSpec(t, minimalSpec+`
config:
  ninit: 500
  count_policy: fixed
`))
	require.NoError(t, err)
	assert.Equal(t, 500, spec.Config.Ninit)
	assert.Equal(t, nre.CountFixed, spec.Config.CountPolicy)
	// untouched fields still carry defaults
	assert.Equal(t, nre.DefaultConfig().Nmax, spec.Config.Nmax)
	assert.Equal(t, nre.DefaultConfig().Threshold, spec.Config.Threshold)
}

func TestLoadProblemSpec_RejectsUnknownFields(t *testing.T) {
	_, err := LoadProblemSpec(writeSpec(t, minimalSpec+`
simulator_binary: /usr/bin/sim
`))
	assert.ErrorContains(t, err, "parsing problem spec")
}

func TestLoadProblemSpec_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no priors",
			body: "observation:\n  y: [1]\n",
			want: "prior",
		},
		{
			name: "no observation",
			body: "priors:\n  - name: a\n    dist: uniform\n    args: [0, 1]\n",
			want: "observation",
		},
		{
			name: "empty observation array",
			body: "priors:\n  - name: a\n    dist: uniform\n    args: [0, 1]\nobservation:\n  y: []\n",
			want: "empty",
		},
		{
			name: "non-finite observation",
			body: "priors:\n  - name: a\n    dist: uniform\n    args: [0, 1]\nobservation:\n  y: [.nan]\n",
			want: "non-finite",
		},
		{
			name: "expressions and command together",
			body: minimalSpec + "  command: ./sim\n",
			want: "mutually exclusive",
		},
		{
			name: "invalid config value",
			body: minimalSpec + "config:\n  density_factor: 0.5\n",
			want: "density_factor",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadProblemSpec(writeSpec(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestProblemSpec_BuildModel(t *testing.T) {
	spec, err := LoadProblemSpec(writeSpec(t, minimalSpec))
	require.NoError(t, err)

	model, err := spec.BuildModel()
	require.NoError(t, err)
	require.NotNil(t, model)
	obs, err := model(map[string]float64{"m": 2, "c": 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, obs["y"][0], 1e-12)
	assert.InDelta(t, 1.5, obs["y"][1], 1e-12)
}

func TestProblemSpec_BuildModelNoneBound(t *testing.T) {
	spec := &ProblemSpec{}
	model, err := spec.BuildModel()
	require.NoError(t, err)
	assert.Nil(t, model)
}

func TestProblemSpec_BuildModelCommand(t *testing.T) {
	spec := &ProblemSpec{Model: ModelSpec{Command: "sh", Args: []string{"-c", "echo '{}'"}}}
	model, err := spec.BuildModel()
	require.NoError(t, err)
	assert.NotNil(t, model)
}

func TestLoadProblemSpec_MissingFile(t *testing.T) {
	_, err := LoadProblemSpec(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "reading problem spec")
}

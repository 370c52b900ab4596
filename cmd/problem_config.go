package cmd

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nre-sim/nre-sim/nre"
)

// ModelSpec selects the simulator model: either inline expr-lang
// expressions (one per observable) or an external command. Exactly one
// may be set; neither means no model is bound and the run pauses as soon
// as simulations are required.
type ModelSpec struct {
	Expressions map[string]string `yaml:"expressions,omitempty"`
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
}

// EstimatorSpec configures the built-in kernel ratio estimator.
type EstimatorSpec struct {
	Bandwidth float64 `yaml:"bandwidth,omitempty"`
}

// ProblemSpec is the top-level inference problem configuration.
// Loaded from YAML via LoadProblemSpec(path).
type ProblemSpec struct {
	Seed        int64                `yaml:"seed"`
	Priors      []nre.ParamDef       `yaml:"priors"`
	Observation map[string][]float64 `yaml:"observation"`
	Model       ModelSpec            `yaml:"model,omitempty"`
	Estimator   EstimatorSpec        `yaml:"estimator,omitempty"`
	Config      nre.Config           `yaml:"config,omitempty"`
}

// LoadProblemSpec reads and validates a problem spec. Fields absent from
// the file keep their defaults; unknown fields are rejected.
func LoadProblemSpec(path string) (*ProblemSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading problem spec: %w", err)
	}
	spec := &ProblemSpec{Config: nre.DefaultConfig()}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(spec); err != nil {
		return nil, fmt.Errorf("parsing problem spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks the spec before anything is simulated.
func (s *ProblemSpec) Validate() error {
	if len(s.Priors) == 0 {
		return fmt.Errorf("problem spec: at least one prior is required")
	}
	if len(s.Observation) == 0 {
		return fmt.Errorf("problem spec: a reference observation is required")
	}
	for key, arr := range s.Observation {
		if len(arr) == 0 {
			return fmt.Errorf("problem spec: observation %q is empty", key)
		}
		for _, v := range arr {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("problem spec: observation %q contains a non-finite value", key)
			}
		}
	}
	if len(s.Model.Expressions) > 0 && s.Model.Command != "" {
		return fmt.Errorf("problem spec: model expressions and command are mutually exclusive")
	}
	return s.Config.Validate()
}

// BuildModel constructs the configured model, or nil when the spec binds
// none.
func (s *ProblemSpec) BuildModel() (nre.Model, error) {
	switch {
	case len(s.Model.Expressions) > 0:
		return nre.NewExprModel(s.Model.Expressions)
	case s.Model.Command != "":
		return nre.NewCommandModel(s.Model.Command, s.Model.Args...), nil
	default:
		return nil, nil
	}
}

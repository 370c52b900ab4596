package nre

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// NewExprModel builds a Model from one expression per observable key,
// compiled with expr-lang. Each expression is evaluated against an
// environment holding the natural-unit parameter values by name, and must
// yield a number or a list of numbers. Programs are compiled once, at
// construction.
//
// Example: {"y": "[m*0.5 + c, m*1.5 + c]"} with parameters m and c.
func NewExprModel(expressions map[string]string) (Model, error) {
	if len(expressions) == 0 {
		return nil, fmt.Errorf("expr model: at least one observable expression is required")
	}
	programs := make(map[string]*exprvm.Program, len(expressions))
	for key, src := range expressions {
		if src == "" {
			return nil, fmt.Errorf("expr model: observable %q has an empty expression", key)
		}
		program, err := exprlang.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("expr model: compiling observable %q: %w", key, err)
		}
		programs[key] = program
	}

	return func(params map[string]float64) (map[string][]float64, error) {
		env := make(map[string]any, len(params))
		for k, v := range params {
			env[k] = v
		}
		obs := make(map[string][]float64, len(programs))
		for key, program := range programs {
			result, err := exprlang.Run(program, env)
			if err != nil {
				return nil, fmt.Errorf("observable %q: %w", key, err)
			}
			arr, err := toFloatSlice(result)
			if err != nil {
				return nil, fmt.Errorf("observable %q: %w", key, err)
			}
			obs[key] = arr
		}
		return obs, nil
	}, nil
}

// toFloatSlice coerces an expression result into an observable array.
func toFloatSlice(v any) ([]float64, error) {
	switch x := v.(type) {
	case float64:
		return []float64{x}, nil
	case int:
		return []float64{float64(x)}, nil
	case []float64:
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	case []any:
		out := make([]float64, 0, len(x))
		for _, e := range x {
			switch n := e.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			default:
				return nil, fmt.Errorf("list element %v (%T) is not numeric", e, e)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("result %v (%T) is not a number or list of numbers", v, v)
	}
}

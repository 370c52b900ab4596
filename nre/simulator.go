package nre

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/sirupsen/logrus"
)

// Model is the external simulator function: natural-unit parameters in,
// named observable arrays out. Models must be re-invocable and free of
// shared mutable state; a returned error marks the point FAILED.
type Model func(params map[string]float64) (map[string][]float64, error)

// Outcome is the result of simulating one parameter point.
type Outcome struct {
	Observation map[string][]float64
	OK          bool   // observation is valid (Done implied)
	Done        bool   // the point's chunk actually ran
	Reason      string // failure classification, for logging
}

// SimulatorConfig groups batch-dispatch parameters.
type SimulatorConfig struct {
	Workers         int  // concurrent chunk workers (default 4)
	ChunkSize       int  // points per dispatch chunk (default 16)
	FailOnNonFinite bool // classify NaN/Inf observables as FAILED
}

func (c SimulatorConfig) withDefaults() SimulatorConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 16
	}
	return c
}

// Simulator runs a Model over batches of parameter points. The batch is
// partitioned into independently dispatchable chunks executed by a worker
// pool; each point's result is classified individually, so a single
// point's failure never aborts the batch.
type Simulator struct {
	model  Model
	shapes map[string]int // observable key → array length
	cfg    SimulatorConfig
}

// NewSimulator wraps a model with known observable shapes.
func NewSimulator(model Model, shapes map[string]int, cfg SimulatorConfig) (*Simulator, error) {
	if model == nil {
		return nil, fmt.Errorf("simulator: model must not be nil")
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("simulator: at least one observable shape is required")
	}
	return &Simulator{model: model, shapes: shapes, cfg: cfg.withDefaults()}, nil
}

// ShapesFromModel probes the model once on a prior draw to infer the
// observable keys and array lengths, the way a simulator is conventionally
// registered from a bare model function.
func ShapesFromModel(model Model, prior *Prior, rng *rand.Rand) (map[string]int, error) {
	pt := prior.Sample(1, rng)[0]
	obs, err := invokeModel(model, pt.Natural)
	if err != nil {
		return nil, fmt.Errorf("probing model for observable shapes: %w", err)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("probing model for observable shapes: model returned no observables")
	}
	shapes := make(map[string]int, len(obs))
	for key, arr := range obs {
		shapes[key] = len(arr)
	}
	return shapes, nil
}

// Shapes returns the observable key → length mapping.
func (s *Simulator) Shapes() map[string]int {
	out := make(map[string]int, len(s.shapes))
	for k, v := range s.shapes {
		out[k] = v
	}
	return out
}

// Run simulates a batch of points. The returned slice is index-aligned
// with the input; chunks that never ran because the context was cancelled
// have Done == false, and the context error is returned alongside the
// partial outcomes. No ordering is guaranteed across chunks; results are
// recombined by index, not completion order.
func (s *Simulator) Run(ctx context.Context, points []ParameterPoint) ([]Outcome, error) {
	outcomes := make([]Outcome, len(points))
	if len(points) == 0 {
		return outcomes, nil
	}

	type chunk struct{ lo, hi int }
	jobs := make(chan chunk)
	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				for i := c.lo; i < c.hi; i++ {
					outcomes[i] = s.simulateOne(points[i])
				}
			}
		}()
	}

dispatch:
	for lo := 0; lo < len(points); lo += s.cfg.ChunkSize {
		hi := lo + s.cfg.ChunkSize
		if hi > len(points) {
			hi = len(points)
		}
		select {
		case jobs <- chunk{lo: lo, hi: hi}:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("simulation batch interrupted: %w", err)
	}
	return outcomes, nil
}

// simulateOne invokes the model on one point and classifies the result.
func (s *Simulator) simulateOne(pt ParameterPoint) Outcome {
	raw, err := invokeModel(s.model, pt.Natural)
	if err != nil {
		return s.failed(pt, fmt.Sprintf("model error: %v", err))
	}
	if raw == nil {
		return s.failed(pt, "model returned no observation")
	}
	obs := make(map[string][]float64, len(s.shapes))
	for key, want := range s.shapes {
		arr, ok := raw[key]
		if !ok {
			return s.failed(pt, fmt.Sprintf("missing observable %q", key))
		}
		if len(arr) != want {
			return s.failed(pt, fmt.Sprintf("observable %q has length %d, want %d", key, len(arr), want))
		}
		if s.cfg.FailOnNonFinite {
			for _, v := range arr {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return s.failed(pt, fmt.Sprintf("observable %q contains a non-finite value", key))
				}
			}
		}
		kept := make([]float64, len(arr))
		copy(kept, arr)
		obs[key] = kept
	}
	return Outcome{Observation: obs, OK: true, Done: true}
}

func (s *Simulator) failed(pt ParameterPoint, reason string) Outcome {
	logrus.Debugf("simulation failed (%s) at params=%v", reason, pt.Natural)
	return Outcome{Done: true, Reason: reason}
}

// invokeModel calls the model, converting a panic into an error so one
// misbehaving point cannot take down the whole batch.
func invokeModel(model Model, params map[string]float64) (obs map[string][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			obs, err = nil, fmt.Errorf("model panicked: %v", r)
		}
	}()
	return model(params)
}

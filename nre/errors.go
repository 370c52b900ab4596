package nre

import "fmt"

// MissingModelError indicates that the store holds pending records but no
// simulator model is bound. The run is paused, not failed: binding a model
// and re-invoking the scheduler resumes the same round, reusing every
// record grown so far.
type MissingModelError struct {
	Round   int // round that requested the simulations
	Pending int // number of records awaiting simulation
}

func (e *MissingModelError) Error() string {
	return fmt.Sprintf("round %d: %d records pending simulation but no model is bound", e.Round, e.Pending)
}

// TrainingError wraps a ratio-estimator training failure. It is fatal for
// the current round: the round is not recorded, but the store retains all
// simulated points for reuse on retry.
type TrainingError struct {
	Round   int
	Volume  float64 // volume of the region trained on
	Samples int     // training sample count
	Err     error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("round %d: ratio estimator training failed (volume=%.4g, samples=%d): %v",
		e.Round, e.Volume, e.Samples, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// DegenerateRegionError indicates that mask construction produced a region
// of zero volume: no grid point cleared the score threshold in at least
// one dimension. This is surfaced as an error, never as convergence.
type DegenerateRegionError struct {
	Round  int
	Params []string // dimensions whose 1-D mask collapsed
}

func (e *DegenerateRegionError) Error() string {
	return fmt.Sprintf("round %d: constrained region collapsed to zero volume in %v", e.Round, e.Params)
}

// ConfigError reports an invalid configuration value. It is returned
// before any simulation is launched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

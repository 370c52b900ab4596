package nre

import "fmt"

// Config groups the scheduler's recognized options. Zero values are not
// meaningful; start from DefaultConfig and override.
type Config struct {
	Ninit           int     `yaml:"ninit"`              // initial sample target (round 1)
	Nmax            int     `yaml:"nmax"`               // per-round sample cap
	DensityFactor   float64 `yaml:"density_factor"`     // per-round sample density growth (must be > 1)
	VolumeConvTh    float64 `yaml:"volume_conv_th"`     // convergence threshold on log-volume shrink (must be > 0)
	MaxRounds       int     `yaml:"max_rounds"`         // rounds per Run invocation (pause, not failure, when reached)
	Threshold       float64 `yaml:"threshold"`          // mask cutoff on the ratio scale, in (0, 1]
	FailOnNonFinite bool    `yaml:"fail_on_non_finite"` // classify NaN/Inf observables as FAILED
	CountPolicy     string  `yaml:"count_policy"`       // "poisson" (faithful point process) or "fixed" (deterministic budget)
	GridPoints      int     `yaml:"grid_points"`        // per-dimension scoring grid size for mask construction
	Workers         int     `yaml:"workers"`            // fan-out width for simulate and grid scoring
	ChunkSize       int     `yaml:"chunk_size"`         // points per dispatch chunk
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Ninit:           3000,
		Nmax:            100000,
		DensityFactor:   2.0,
		VolumeConvTh:    0.1,
		MaxRounds:       10,
		Threshold:       1e-4,
		FailOnNonFinite: true,
		CountPolicy:     CountPoisson,
		GridPoints:      1000,
		Workers:         4,
		ChunkSize:       16,
	}
}

// Validate fails fast on invalid options, before any simulation runs.
func (c Config) Validate() error {
	if c.Ninit <= 0 {
		return &ConfigError{Field: "ninit", Reason: "must be positive"}
	}
	if c.Nmax < c.Ninit {
		return &ConfigError{Field: "nmax", Reason: fmt.Sprintf("must be >= ninit (%d)", c.Ninit)}
	}
	if c.DensityFactor <= 1 {
		return &ConfigError{Field: "density_factor", Reason: "must be > 1"}
	}
	if c.VolumeConvTh <= 0 {
		return &ConfigError{Field: "volume_conv_th", Reason: "must be > 0"}
	}
	if c.MaxRounds <= 0 {
		return &ConfigError{Field: "max_rounds", Reason: "must be positive"}
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return &ConfigError{Field: "threshold", Reason: "must be in (0, 1]"}
	}
	if c.CountPolicy != CountPoisson && c.CountPolicy != CountFixed {
		return &ConfigError{Field: "count_policy", Reason: fmt.Sprintf("must be %q or %q", CountPoisson, CountFixed)}
	}
	if c.GridPoints < 2 {
		return &ConfigError{Field: "grid_points", Reason: "must be at least 2"}
	}
	if c.Workers <= 0 {
		return &ConfigError{Field: "workers", Reason: "must be positive"}
	}
	if c.ChunkSize <= 0 {
		return &ConfigError{Field: "chunk_size", Reason: "must be positive"}
	}
	return nil
}

package nre

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// Round records one completed nested round: the region it trained inside,
// the sample target it used, and the tighter region it produced. Volumes
// and N are retained forever (the density schedule needs them); the
// scorer is a heavy artifact dropped by history compaction once the round
// is no longer one of the most recent two.
type Round struct {
	TrainRegion *ComboMask // region the round trained on (nil = full unit cube)
	TrainVolume float64
	N           int        // sample target used for training
	NextRegion  *ComboMask // tighter region built from the trained scorer
	NextVolume  float64
	Scorer      Scorer // nil once compacted
}

// SchedulerState is the explicit, caller-held state of a nested run: the
// round history and the converged flag. Each Run call takes a state value
// and returns the advanced one; nothing is kept in ambient globals.
type SchedulerState struct {
	Rounds    []Round
	Converged bool
}

// R returns the number of completed rounds.
func (st SchedulerState) R() int { return len(st.Rounds) }

// LastScorer returns the most recent round's scorer, or nil before the
// first completed round.
func (st SchedulerState) LastScorer() Scorer {
	if len(st.Rounds) == 0 {
		return nil
	}
	return st.Rounds[len(st.Rounds)-1].Scorer
}

// CurrentRegion returns the most recent constrained region, or nil (full
// unit cube) before the first completed round.
func (st SchedulerState) CurrentRegion() *ComboMask {
	if len(st.Rounds) == 0 {
		return nil
	}
	return st.Rounds[len(st.Rounds)-1].NextRegion
}

// NestedRounds drives repeated rounds of cache growth, simulation, ratio
// estimator training, region re-masking and convergence testing. It is
// the single writer of its store; all fan-out (simulate, grid scoring)
// happens inside a round against a fixed store size.
type NestedRounds struct {
	prior   *Prior
	obs     map[string][]float64
	store   *Store
	est     RatioEstimator
	cfg     Config
	rng     *PartitionedRNG
	sim     *Simulator // nil until a model is bound
	metrics *Collector // optional
}

// NewNestedRounds assembles a scheduler. The observation must be finite
// everywhere; configuration is validated before anything else happens.
// No simulator is bound yet; bind one with BindSimulator, or run against
// a store that is already fully simulated.
func NewNestedRounds(prior *Prior, obs map[string][]float64, store *Store, est RatioEstimator, cfg Config, rng *PartitionedRNG) (*NestedRounds, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if est == nil {
		return nil, &ConfigError{Field: "estimator", Reason: "must not be nil"}
	}
	for key, arr := range obs {
		for _, v := range arr {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &ConfigError{Field: "observation", Reason: fmt.Sprintf("%q contains a non-finite value", key)}
			}
		}
	}
	return &NestedRounds{prior: prior, obs: obs, store: store, est: est, cfg: cfg, rng: rng}, nil
}

// BindSimulator attaches (or replaces) the simulator used to fill pending
// records. Binding after a MissingModelError pause and re-running resumes
// the interrupted round.
func (nr *NestedRounds) BindSimulator(sim *Simulator) { nr.sim = sim }

// BindMetrics attaches an optional metrics collector.
func (nr *NestedRounds) BindMetrics(m *Collector) { nr.metrics = m }

// Store returns the scheduler-owned simulation store.
func (nr *NestedRounds) Store() *Store { return nr.store }

// Run advances the nested loop by up to cfg.MaxRounds rounds, returning
// the updated state. It stops early on convergence (state.Converged set)
// or on error. Reaching MaxRounds without convergence is a pause, not an
// error: calling Run again with the returned state resumes.
func (nr *NestedRounds) Run(ctx context.Context, state SchedulerState) (SchedulerState, error) {
	for r := 0; r < nr.cfg.MaxRounds && !state.Converged; r++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		next, err := nr.runRound(ctx, state)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}

// runRound executes one grow → simulate → train → re-mask round and
// appends its record to the state.
func (nr *NestedRounds) runRound(ctx context.Context, state SchedulerState) (SchedulerState, error) {
	round := state.R() + 1
	region, target := nr.schedule(state)
	mask := region
	if mask == nil {
		mask = FullComboMask(nr.prior.Names())
	}
	trainVolume := mask.Volume()
	logrus.Infof("round %d: region volume=%.4g, sample target N=%d", round, trainVolume, target)

	intensity := NewIntensity(float64(target), mask, nr.cfg.CountPolicy)
	grown := nr.store.Grow(intensity, nr.rng.ForSubsystem(SubsystemIntensity), nr.rng.ForSource(SubsystemIntensity))
	logrus.Debugf("round %d: store holds %d admissible points after growth (size %d)", round, len(grown), nr.store.Len())
	nr.metrics.SetStoreRecords(nr.store.Len())

	if nr.store.RequiresSim() {
		if nr.sim == nil {
			return state, &MissingModelError{Round: round, Pending: len(nr.store.PendingIDs())}
		}
		before := nr.countByStatus()
		if err := nr.store.Simulate(ctx, nr.sim); err != nil {
			return state, err
		}
		after := nr.countByStatus()
		finished := after[StatusFinished] - before[StatusFinished]
		failed := after[StatusFailed] - before[StatusFailed]
		nr.metrics.AddSimulations("finished", finished)
		nr.metrics.AddSimulations("failed", failed)
		if failed > 0 {
			logrus.Warnf("round %d: %d of %d simulations failed", round, failed, finished+failed)
		}
	}

	ids, err := nr.store.Sample(intensity, target, nr.rng.ForSubsystem(SubsystemStore))
	if err != nil {
		return state, fmt.Errorf("round %d: %w", round, err)
	}
	ds, err := DatasetFrom(nr.store, ids)
	if err != nil {
		return state, fmt.Errorf("round %d: %w", round, err)
	}

	trained, err := nr.est.Train(ctx, ds, nr.prior.Names())
	if err != nil {
		return state, &TrainingError{Round: round, Volume: trainVolume, Samples: target, Err: err}
	}
	scorer := NewCachedScorer(trained)

	next, err := nr.remask(round, mask, scorer)
	if err != nil {
		return state, err
	}
	nextVolume := next.Volume()
	if nextVolume > trainVolume*(1+1e-9) {
		logrus.Warnf("round %d: constrained region grew (%.4g -> %.4g); check configuration", round, trainVolume, nextVolume)
	}

	state.Rounds = append(state.Rounds, Round{
		TrainRegion: region,
		TrainVolume: trainVolume,
		N:           target,
		NextRegion:  next,
		NextVolume:  nextVolume,
		Scorer:      scorer,
	})
	compactHistory(state.Rounds)
	nr.metrics.IncRound()
	nr.metrics.SetRegionVolume(nextVolume)

	logrus.Infof("round %d: volume %.4g -> %.4g (log shrink %.4g)", round, trainVolume, nextVolume, math.Log(trainVolume)-math.Log(nextVolume))
	if volumeConverged(trainVolume, nextVolume, nr.cfg.VolumeConvTh) {
		logrus.Info("volume converged")
		state.Converged = true
	}
	return state, nil
}

// volumeConverged reports whether the log-volume shrink between two
// consecutive regions fell below the threshold.
func volumeConverged(trainVolume, nextVolume, threshold float64) bool {
	return math.Log(trainVolume)-math.Log(nextVolume) < threshold
}

// schedule derives the region and sample target for the next round. The
// first round uses the full unit cube and Ninit; later rounds keep the
// sample density non-decreasing as the volume shrinks:
//
//	N_r = clamp(densityFactor * N_{r-1} / v_{r-1}^(1/D) * v_r^(1/D), N_{r-1}, Nmax)
func (nr *NestedRounds) schedule(state SchedulerState) (*ComboMask, int) {
	if state.R() == 0 {
		return nil, nr.cfg.Ninit
	}
	last := state.Rounds[state.R()-1]
	d := float64(nr.prior.Dim())
	densityPrev := float64(last.N) / math.Pow(last.TrainVolume, 1/d)
	n := nr.cfg.DensityFactor * densityPrev * math.Pow(last.NextVolume, 1/d)
	n = math.Max(n, float64(last.N))
	n = math.Min(n, float64(nr.cfg.Nmax))
	return last.NextRegion, int(math.Round(n))
}

// remask builds the next, tighter region: per parameter, score a grid of
// locations drawn inside the current region and keep the intervals where
// the log-ratio clears the threshold relative to the grid maximum.
func (nr *NestedRounds) remask(round int, mask *ComboMask, scorer Scorer) (*ComboMask, error) {
	names := nr.prior.Names()
	masks := make(map[string]*Mask1d, len(names))
	gridRNG := nr.rng.ForSubsystem(SubsystemIntensity)
	for _, name := range names {
		grid := make([]float64, 0, nr.cfg.GridPoints)
		dim := mask.Dim(name)
		for i := 0; i < nr.cfg.GridPoints; i++ {
			grid = append(grid, dim.Sample(gridRNG))
		}
		sort.Float64s(grid)
		scores, err := parallelLogRatios(scorer, nr.obs, name, grid, nr.cfg.Workers, scoreChunkSize)
		if err != nil {
			return nil, &TrainingError{Round: round, Volume: mask.Volume(), Samples: len(grid), Err: err}
		}
		masks[name] = Mask1dFromThreshold(grid, scores, nr.cfg.Threshold)
	}
	next := NewComboMask(names, masks)
	if empty := next.EmptyDims(); len(empty) > 0 {
		return nil, &DegenerateRegionError{Round: round, Params: empty}
	}
	return next, nil
}

// scoreChunkSize is the grid-scoring fan-out granularity.
const scoreChunkSize = 256

// compactHistory drops heavy artifacts (trained scorers) for all rounds
// but the most recent two. Round metadata (N, volumes, regions) is
// retained: the density schedule depends only on that metadata.
func compactHistory(rounds []Round) {
	for i := 0; i < len(rounds)-2; i++ {
		rounds[i].Scorer = nil
	}
}

func (nr *NestedRounds) countByStatus() map[SimulationStatus]int {
	out := make(map[SimulationStatus]int)
	for id := 0; id < nr.store.Len(); id++ {
		out[nr.store.Record(id).Status]++
	}
	return out
}

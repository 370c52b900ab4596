package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nre-sim/nre-sim/nre"
)

// Exit codes. Missing-model and max-rounds are pauses, not failures: the
// run can be resumed from the persisted store and history.
const (
	exitConverged    = 0
	exitError        = 1
	exitMissingModel = 2
	exitMaxRounds    = 3
	exitDegenerate   = 4
)

var (
	specPath         string // Problem spec YAML path
	storePath        string // Simulation store persistence path
	historyPath      string // Round history persistence path
	seed             int64  // Master seed (overrides the spec when set)
	logLevel         string // Log verbosity level
	posteriorSamples int    // Rejection samples per marginal to emit on convergence
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "nre-sim",
	Short: "Nested ratio-estimation engine for simulation-based inference",
}

// runCmd drives the nested inference loop from a problem spec
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run nested inference rounds until convergence",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		spec, err := LoadProblemSpec(specPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if cmd.Flags().Changed("seed") {
			spec.Seed = seed
		}
		rng := nre.NewPartitionedRNG(nre.NewInferenceKey(spec.Seed))

		prior, err := nre.NewPrior(spec.Priors)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		store, state := restoreRun(prior)

		est := &nre.KernelRatioEstimator{Bandwidth: spec.Estimator.Bandwidth}
		sched, err := nre.NewNestedRounds(prior, spec.Observation, store, est, spec.Config, rng)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		model, err := spec.BuildModel()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if model != nil {
			shapes, err := nre.ShapesFromModel(model, prior, rng.ForSubsystem(nre.SubsystemPrior))
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			sim, err := nre.NewSimulator(model, shapes, nre.SimulatorConfig{
				Workers:         spec.Config.Workers,
				ChunkSize:       spec.Config.ChunkSize,
				FailOnNonFinite: spec.Config.FailOnNonFinite,
			})
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			sched.BindSimulator(sim)
		}

		state, runErr := sched.Run(context.Background(), state)
		persistRun(prior, store, state)
		os.Exit(finishRun(prior, spec.Observation, state, runErr, rng))
	},
}

// restoreRun loads a previously persisted store and history when the
// paths exist, so interrupted runs resume instead of restarting.
func restoreRun(prior *nre.Prior) (*nre.Store, nre.SchedulerState) {
	store := nre.NewStore(prior)
	var state nre.SchedulerState
	if storePath != "" {
		if _, err := os.Stat(storePath); err == nil {
			loaded, err := nre.LoadStore(storePath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			store = loaded
			logrus.Infof("resumed store with %d records from %s", store.Len(), storePath)
		}
	}
	if historyPath != "" {
		if _, err := os.Stat(historyPath); err == nil {
			_, loaded, err := nre.LoadHistory(historyPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			state = loaded
			logrus.Infof("resumed history with %d completed rounds", state.R())
		}
	}
	return store, state
}

// persistRun writes the store and history when paths are configured.
// This runs on every outcome, pauses included, so no simulation budget
// is ever lost.
func persistRun(prior *nre.Prior, store *nre.Store, state nre.SchedulerState) {
	if storePath != "" {
		if err := nre.SaveStore(store, storePath); err != nil {
			logrus.Errorf("%v", err)
		}
	}
	if historyPath != "" {
		if err := nre.SaveHistory(prior, state, historyPath); err != nil {
			logrus.Errorf("%v", err)
		}
	}
}

// finishRun maps the run outcome to an exit code and emits the final
// report.
func finishRun(prior *nre.Prior, obs map[string][]float64, state nre.SchedulerState, runErr error, rng *nre.PartitionedRNG) int {
	var missing *nre.MissingModelError
	var degenerate *nre.DegenerateRegionError
	switch {
	case errors.As(runErr, &missing):
		logrus.Infof("%v; bind a model in the spec and re-run to resume", missing)
		return exitMissingModel
	case errors.As(runErr, &degenerate):
		logrus.Errorf("%v", degenerate)
		return exitDegenerate
	case runErr != nil:
		logrus.Errorf("%v", runErr)
		return exitError
	case !state.Converged:
		logrus.Infof("max rounds reached after %d rounds without convergence; re-run to continue", state.R())
		return exitMaxRounds
	}

	last := state.Rounds[state.R()-1]
	logrus.Infof("converged after %d rounds; final region volume %.4g", state.R(), last.NextVolume)
	for _, name := range prior.Names() {
		logrus.Infof("  %s: intervals %v", name, last.NextRegion.Dim(name).Intervals())
	}
	if posteriorSamples > 0 {
		emitPosterior(prior, obs, state, rng)
	}
	return exitConverged
}

// emitPosterior prints rejection samples per marginal as JSON on stdout,
// drawn from the final constrained prior under the final scorer.
func emitPosterior(prior *nre.Prior, obs map[string][]float64, state nre.SchedulerState, rng *nre.PartitionedRNG) {
	last := state.Rounds[state.R()-1]
	bound := prior.Bind(last.NextRegion)
	samples, err := nre.RejectionSample(posteriorSamples, obs, state.LastScorer(), bound,
		rng.ForSubsystem(nre.SubsystemPosterior), 0, 0)
	if err != nil {
		logrus.Errorf("posterior sampling: %v", err)
		return
	}
	out, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		logrus.Errorf("encoding posterior samples: %v", err)
		return
	}
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitError)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&specPath, "spec", "", "Problem spec YAML path (required)")
	runCmd.Flags().StringVar(&storePath, "store", "", "Simulation store persistence path (load if present, save on exit)")
	runCmd.Flags().StringVar(&historyPath, "history", "", "Round history persistence path (load if present, save on exit)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master seed (overrides the spec's seed)")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().IntVar(&posteriorSamples, "posterior-samples", 0, "Rejection samples per marginal to print on convergence (0 = skip)")
	_ = runCmd.MarkFlagRequired("spec")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}

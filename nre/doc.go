// Package nre implements simulation-based (likelihood-free) inference via
// nested ratio estimation: an adaptive loop that decides which parameter
// points to simulate, caches the results, and narrows the region of
// parameter space worth exploring using feedback from a learned
// likelihood-ratio scorer.
//
// # Reading Guide
//
// Start with these three files to understand the round loop:
//   - store.go: the append-only simulation cache (grow, sample, simulate)
//   - mask.go: constrained sub-regions of the unit hypercube and sampling
//   - scheduler.go: the nested-round driver (grow → simulate → train → re-mask)
//
// # Architecture
//
// Parameter points live in two coordinate systems: natural units and
// unit-cube units (image of natural units under each prior's CDF, see
// prior.go). All region geometry happens in the unit cube; the simulator
// only ever sees natural units.
//
// The ratio estimator is an external collaborator consumed through the
// RatioEstimator and Scorer interfaces in estimator.go. The simulator
// model is an external collaborator consumed through the Model function
// type in simulator.go; exprmodel.go and command_model.go supply built-in
// Model implementations for analytic expressions and external binaries.
//
// # Determinism
//
// All randomness flows through a PartitionedRNG (rng.go) seeded from a
// single master seed; no package-level random state is used anywhere.
package nre

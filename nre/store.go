package nre

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
)

// SimulationStatus tracks the lifecycle of one stored record. Records are
// created PENDING when a parameter point is admitted into the store and
// transition to RUNNING/FINISHED/FAILED only via Store.Simulate.
type SimulationStatus int

const (
	StatusPending SimulationStatus = iota
	StatusRunning
	StatusFinished
	StatusFailed
)

var statusNames = map[SimulationStatus]string{
	StatusPending:  "PENDING",
	StatusRunning:  "RUNNING",
	StatusFinished: "FINISHED",
	StatusFailed:   "FAILED",
}

func (s SimulationStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SimulationStatus(%d)", int(s))
}

// statusFromString is the inverse of String, used by the persistence layer.
func statusFromString(name string) (SimulationStatus, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown simulation status %q", name)
}

// SimulationRecord is one row of the store: a parameter point, its
// simulation output (nil until FINISHED, set exactly once), and a status.
// IDs are stable append-only indices; records are never deleted.
type SimulationRecord struct {
	ID          int
	Params      ParameterPoint
	Observation map[string][]float64
	Status      SimulationStatus
}

// Store is an append-only, growable table of parameter points and their
// simulation outputs. Growth only appends; record IDs never move.
//
// Concurrency contract: the store has a single writer (the scheduler);
// Grow and Simulate are serialized with respect to each other by that
// ownership. Concurrent readers of records at a fixed size are safe
// because existing entries are never reordered or removed; the simulate
// and scoring fan-outs only ever read already-materialized records.
type Store struct {
	prior   *Prior
	records []*SimulationRecord
}

// NewStore creates an empty store over the given (unbound) prior, which
// supplies the natural↔cube coordinate transforms for admitted points.
func NewStore(prior *Prior) *Store {
	return &Store{prior: prior}
}

// Prior returns the prior the store admits points under.
func (s *Store) Prior() *Prior { return s.prior }

// Len returns the number of records ever admitted.
func (s *Store) Len() int { return len(s.records) }

// Record returns the record with the given ID, or nil if out of range.
func (s *Store) Record(id int) *SimulationRecord {
	if id < 0 || id >= len(s.records) {
		return nil
	}
	return s.records[id]
}

// Grow is the central cache-growth operation: it returns the IDs of all
// non-FAILED records already inside the intensity's support, and appends
// only the shortfall, if the intensity demands more points than are on
// file, as fresh PENDING records sampled from the region. A point
// already on file is never re-simulated. "Already admissible" is defined
// by membership in the intensity's current region, re-evaluated on every
// call since regions shrink round over round.
func (s *Store) Grow(it *Intensity, rng *rand.Rand, src rand.Source) []int {
	ids := s.admissible(it.Mask(), false)
	target := it.Count(src)
	if shortfall := target - len(ids); shortfall > 0 {
		for _, cube := range it.Mask().Sample(shortfall, rng) {
			rec := &SimulationRecord{
				ID:     len(s.records),
				Params: s.prior.PointFromCube(cube),
				Status: StatusPending,
			}
			s.records = append(s.records, rec)
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// Sample returns exactly n record IDs whose parameters fall inside the
// intensity's support and whose simulations FINISHED, truncating by a
// random subset when oversized and padding by redrawing with replacement
// when undersized (call after a prior Grow+Simulate). The result is
// sorted ascending. Errors if the support holds no finished record.
func (s *Store) Sample(it *Intensity, n int, rng *rand.Rand) ([]int, error) {
	ids := s.admissible(it.Mask(), true)
	if len(ids) == 0 {
		return nil, fmt.Errorf("store: no finished records inside the requested region")
	}
	switch {
	case len(ids) > n:
		perm := rng.Perm(len(ids))
		picked := make([]int, 0, n)
		for _, j := range perm[:n] {
			picked = append(picked, ids[j])
		}
		ids = picked
	case len(ids) < n:
		for len(ids) < n {
			ids = append(ids, ids[rng.IntN(len(ids))])
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// admissible returns the sorted IDs of records inside the region,
// excluding FAILED records always and non-FINISHED ones when
// finishedOnly is set.
func (s *Store) admissible(mask *ComboMask, finishedOnly bool) []int {
	var ids []int
	for _, rec := range s.records {
		if rec.Status == StatusFailed {
			continue
		}
		if finishedOnly && rec.Status != StatusFinished {
			continue
		}
		if mask.Contains(rec.Params.Cube) {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// RequiresSim reports whether any record is still PENDING. The scheduler
// must not proceed to training while this holds.
func (s *Store) RequiresSim() bool {
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			return true
		}
	}
	return false
}

// PendingIDs returns the IDs of all PENDING records, ascending.
func (s *Store) PendingIDs() []int {
	var ids []int
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// Simulate dispatches every PENDING record to the simulator and applies
// the outcomes: FINISHED with the observation set, or FAILED. A FAILED
// record is excluded from all future sampling and training but retained
// in the log. On context cancellation, points whose chunk never ran are
// reverted to PENDING, so the store is idempotent to re-entry.
func (s *Store) Simulate(ctx context.Context, sim *Simulator) error {
	pending := s.PendingIDs()
	if len(pending) == 0 {
		return nil
	}
	points := make([]ParameterPoint, 0, len(pending))
	for _, id := range pending {
		s.records[id].Status = StatusRunning
		points = append(points, s.records[id].Params)
	}

	outcomes, runErr := sim.Run(ctx, points)
	for i, id := range pending {
		out := outcomes[i]
		switch {
		case !out.Done:
			s.records[id].Status = StatusPending
		case out.OK:
			s.records[id].Observation = out.Observation
			s.records[id].Status = StatusFinished
		default:
			s.records[id].Status = StatusFailed
		}
	}
	return runErr
}

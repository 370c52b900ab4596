package nre

import (
	"encoding/json"
	"fmt"
	"os"
)

// Persisted schema versions. Loaders reject files written by a schema
// they do not understand.
const (
	storeSchemaVersion   = 1
	historySchemaVersion = 1
)

type recordState struct {
	ID          int                  `json:"id"`
	Natural     map[string]float64   `json:"natural"`
	Cube        map[string]float64   `json:"cube"`
	Observation map[string][]float64 `json:"observation,omitempty"`
	Status      string               `json:"status"`
}

type storeFile struct {
	SchemaVersion int           `json:"schema_version"`
	Priors        []ParamDef    `json:"priors"`
	Records       []recordState `json:"records"`
}

// SaveStore writes the full store (prior definitions and every record,
// FAILED ones included) as JSON.
func SaveStore(store *Store, path string) error {
	file := storeFile{
		SchemaVersion: storeSchemaVersion,
		Priors:        store.Prior().Defs(),
		Records:       make([]recordState, 0, store.Len()),
	}
	for id := 0; id < store.Len(); id++ {
		rec := store.Record(id)
		file.Records = append(file.Records, recordState{
			ID:          rec.ID,
			Natural:     rec.Params.Natural,
			Cube:        rec.Params.Cube,
			Observation: rec.Observation,
			Status:      rec.Status.String(),
		})
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	return nil
}

// LoadStore reads a store written by SaveStore. Record IDs must be the
// dense ascending append order; anything else means the file was not
// produced by this schema.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}
	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing store: %w", err)
	}
	if file.SchemaVersion != storeSchemaVersion {
		return nil, fmt.Errorf("store schema version %d not supported (want %d)", file.SchemaVersion, storeSchemaVersion)
	}
	prior, err := NewPrior(file.Priors)
	if err != nil {
		return nil, fmt.Errorf("restoring store prior: %w", err)
	}
	store := NewStore(prior)
	for i, rs := range file.Records {
		if rs.ID != i {
			return nil, fmt.Errorf("store record %d has id %d; ids must be dense append order", i, rs.ID)
		}
		status, err := statusFromString(rs.Status)
		if err != nil {
			return nil, fmt.Errorf("store record %d: %w", i, err)
		}
		// Interrupted RUNNING records resume as PENDING.
		if status == StatusRunning {
			status = StatusPending
		}
		store.records = append(store.records, &SimulationRecord{
			ID:          rs.ID,
			Params:      newParameterPoint(rs.Natural, rs.Cube),
			Observation: rs.Observation,
			Status:      status,
		})
	}
	return store, nil
}

type roundState struct {
	TrainIntervals map[string][]Interval `json:"train_intervals,omitempty"`
	TrainVolume    float64               `json:"train_volume"`
	N              int                   `json:"n"`
	NextIntervals  map[string][]Interval `json:"next_intervals"`
	NextVolume     float64               `json:"next_volume"`
}

type historyFile struct {
	SchemaVersion int          `json:"schema_version"`
	BasePrior     []ParamDef   `json:"base_prior"`
	Converged     bool         `json:"converged"`
	Rounds        []roundState `json:"rounds"`
}

// SaveHistory writes the round history: per round the region intervals,
// sample count and volumes, plus the base prior. Scorers are heavy
// in-memory artifacts and are not persisted.
func SaveHistory(prior *Prior, state SchedulerState, path string) error {
	file := historyFile{
		SchemaVersion: historySchemaVersion,
		BasePrior:     prior.Defs(),
		Converged:     state.Converged,
		Rounds:        make([]roundState, 0, len(state.Rounds)),
	}
	for _, round := range state.Rounds {
		file.Rounds = append(file.Rounds, roundState{
			TrainIntervals: maskIntervals(round.TrainRegion),
			TrainVolume:    round.TrainVolume,
			N:              round.N,
			NextIntervals:  maskIntervals(round.NextRegion),
			NextVolume:     round.NextVolume,
		})
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

// LoadHistory reads a history written by SaveHistory, returning the base
// prior and the scheduler state. Scorers are absent; a resumed run
// retrains before it needs one.
func LoadHistory(path string) (*Prior, SchedulerState, error) {
	var state SchedulerState
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, state, fmt.Errorf("reading history: %w", err)
	}
	var file historyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, state, fmt.Errorf("parsing history: %w", err)
	}
	if file.SchemaVersion != historySchemaVersion {
		return nil, state, fmt.Errorf("history schema version %d not supported (want %d)", file.SchemaVersion, historySchemaVersion)
	}
	prior, err := NewPrior(file.BasePrior)
	if err != nil {
		return nil, state, fmt.Errorf("restoring history prior: %w", err)
	}
	state.Converged = file.Converged
	for _, rs := range file.Rounds {
		state.Rounds = append(state.Rounds, Round{
			TrainRegion: maskFromIntervals(prior.Names(), rs.TrainIntervals),
			TrainVolume: rs.TrainVolume,
			N:           rs.N,
			NextRegion:  maskFromIntervals(prior.Names(), rs.NextIntervals),
			NextVolume:  rs.NextVolume,
		})
	}
	return prior, state, nil
}

// maskIntervals flattens a ComboMask to its per-parameter intervals
// (nil for the full unit cube).
func maskIntervals(mask *ComboMask) map[string][]Interval {
	if mask == nil {
		return nil
	}
	out := make(map[string][]Interval, len(mask.names))
	for _, name := range mask.names {
		out[name] = mask.masks[name].Intervals()
	}
	return out
}

// maskFromIntervals rebuilds a ComboMask (nil input means full cube).
func maskFromIntervals(names []string, intervals map[string][]Interval) *ComboMask {
	if intervals == nil {
		return nil
	}
	masks := make(map[string]*Mask1d, len(intervals))
	for name, ivs := range intervals {
		masks[name] = NewMask1d(ivs)
	}
	return NewComboMask(names, masks)
}

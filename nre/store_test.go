package nre

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constantModel returns a fixed-length observation derived from the point.
func constantModel(params map[string]float64) (map[string][]float64, error) {
	return map[string][]float64{"y": {params["a"]}}, nil
}

func newTestStore(t *testing.T) (*Store, *Prior, *PartitionedRNG) {
	t.Helper()
	prior, err := NewPrior([]ParamDef{{Name: "a", Dist: "uniform", Args: []float64{0, 1}}})
	require.NoError(t, err)
	return NewStore(prior), prior, NewPartitionedRNG(NewInferenceKey(11))
}

func simulateAll(t *testing.T, store *Store, model Model) {
	t.Helper()
	sim, err := NewSimulator(model, map[string]int{"y": 1}, SimulatorConfig{})
	require.NoError(t, err)
	require.NoError(t, store.Simulate(context.Background(), sim))
}

func TestStore_GrowAppendsPending(t *testing.T) {
	store, prior, rng := newTestStore(t)
	it := NewIntensity(20, FullComboMask(prior.Names()), CountFixed)

	ids := store.Grow(it, rng.ForSubsystem(SubsystemIntensity), rng.ForSource(SubsystemIntensity))
	assert.Len(t, ids, 20)
	assert.Equal(t, 20, store.Len())
	assert.Len(t, store.PendingIDs(), 20)
	assert.True(t, store.RequiresSim())
}

func TestStore_GrowIsIdempotentAtFixedCount(t *testing.T) {
	// GIVEN a store grown and simulated to a fixed count
	store, prior, rng := newTestStore(t)
	it := NewIntensity(20, FullComboMask(prior.Names()), CountFixed)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)
	store.Grow(it, urng, src)
	simulateAll(t, store, constantModel)

	// WHEN growing again with the same intensity
	ids := store.Grow(it, urng, src)

	// THEN every point is reused and nothing new is appended
	assert.Len(t, ids, 20)
	assert.Equal(t, 20, store.Len())
	assert.False(t, store.RequiresSim())
}

func TestStore_GrowTwiceWithoutSimulatingReturnsSameIDs(t *testing.T) {
	store, prior, rng := newTestStore(t)
	it := NewIntensity(15, FullComboMask(prior.Names()), CountFixed)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)

	first := store.Grow(it, urng, src)
	second := store.Grow(it, urng, src)
	assert.Equal(t, first, second)
	assert.Equal(t, 15, store.Len())
}

func TestStore_GrowAppendsOnlyShortfall(t *testing.T) {
	store, prior, rng := newTestStore(t)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)

	store.Grow(NewIntensity(10, FullComboMask(prior.Names()), CountFixed), urng, src)
	simulateAll(t, store, constantModel)

	ids := store.Grow(NewIntensity(25, FullComboMask(prior.Names()), CountFixed), urng, src)
	assert.Len(t, ids, 25)
	assert.Equal(t, 25, store.Len())
	assert.Len(t, store.PendingIDs(), 15)
}

func TestStore_GrowReusesPointsInsideShrunkenRegion(t *testing.T) {
	store, prior, rng := newTestStore(t)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)

	store.Grow(NewIntensity(50, FullComboMask(prior.Names()), CountFixed), urng, src)
	simulateAll(t, store, constantModel)

	// a shrunken region reuses only members; the rest are fresh draws
	region := NewComboMask(prior.Names(), map[string]*Mask1d{
		"a": NewMask1d([]Interval{{Lo: 0, Hi: 0.5}}),
	})
	ids := store.Grow(NewIntensity(40, region, CountFixed), urng, src)
	assert.Len(t, ids, 40)
	for _, id := range ids {
		assert.True(t, region.Contains(store.Record(id).Params.Cube))
	}
}

func TestStore_FailedRecordsAreNeverReused(t *testing.T) {
	// GIVEN a model that fails for half the parameter space
	store, prior, rng := newTestStore(t)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)
	it := NewIntensity(30, FullComboMask(prior.Names()), CountFixed)
	store.Grow(it, urng, src)
	simulateAll(t, store, func(params map[string]float64) (map[string][]float64, error) {
		if params["a"] < 0.5 {
			return nil, assert.AnError
		}
		return map[string][]float64{"y": {params["a"]}}, nil
	})

	// WHEN growing again
	ids := store.Grow(it, urng, src)

	// THEN failed records are replaced, not reused
	for _, id := range ids {
		assert.NotEqual(t, StatusFailed, store.Record(id).Status)
	}
}

func TestStore_SampleTruncatesAndSorts(t *testing.T) {
	store, prior, rng := newTestStore(t)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)
	it := NewIntensity(50, FullComboMask(prior.Names()), CountFixed)
	store.Grow(it, urng, src)
	simulateAll(t, store, constantModel)

	ids, err := store.Sample(it, 10, rng.ForSubsystem(SubsystemStore))
	require.NoError(t, err)
	assert.Len(t, ids, 10)
	assert.IsIncreasing(t, ids)
}

func TestStore_SamplePadsWithReplacement(t *testing.T) {
	store, prior, rng := newTestStore(t)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)
	it := NewIntensity(5, FullComboMask(prior.Names()), CountFixed)
	store.Grow(it, urng, src)
	simulateAll(t, store, constantModel)

	ids, err := store.Sample(it, 12, rng.ForSubsystem(SubsystemStore))
	require.NoError(t, err)
	assert.Len(t, ids, 12)
	for _, id := range ids {
		assert.Equal(t, StatusFinished, store.Record(id).Status)
	}
}

func TestStore_SampleErrorsOnEmptyRegion(t *testing.T) {
	store, prior, rng := newTestStore(t)
	it := NewIntensity(10, FullComboMask(prior.Names()), CountFixed)
	_, err := store.Sample(it, 10, rng.ForSubsystem(SubsystemStore))
	assert.Error(t, err)
}

func TestStore_SimulateAppliesOutcomes(t *testing.T) {
	store, prior, rng := newTestStore(t)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)
	store.Grow(NewIntensity(10, FullComboMask(prior.Names()), CountFixed), urng, src)
	simulateAll(t, store, constantModel)

	for id := 0; id < store.Len(); id++ {
		rec := store.Record(id)
		require.Equal(t, StatusFinished, rec.Status)
		require.Len(t, rec.Observation["y"], 1)
		assert.Equal(t, rec.Params.Natural["a"], rec.Observation["y"][0])
	}
	assert.False(t, store.RequiresSim())
}

func TestStore_SimulateCancelledRevertsToPending(t *testing.T) {
	// GIVEN pending records and a pre-cancelled context
	store, prior, rng := newTestStore(t)
	urng := rng.ForSubsystem(SubsystemIntensity)
	src := rng.ForSource(SubsystemIntensity)
	store.Grow(NewIntensity(400, FullComboMask(prior.Names()), CountFixed), urng, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim, err := NewSimulator(constantModel, map[string]int{"y": 1}, SimulatorConfig{Workers: 1, ChunkSize: 8})
	require.NoError(t, err)

	// WHEN simulating under the cancelled context
	err = store.Simulate(ctx, sim)

	// THEN the error surfaces and no record is stuck RUNNING
	assert.Error(t, err)
	for id := 0; id < store.Len(); id++ {
		assert.NotEqual(t, StatusRunning, store.Record(id).Status)
	}
	assert.True(t, store.RequiresSim())
}

func TestSimulationStatus_StringRoundTrip(t *testing.T) {
	for _, s := range []SimulationStatus{StatusPending, StatusRunning, StatusFinished, StatusFailed} {
		back, err := statusFromString(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}
	_, err := statusFromString("EXPLODED")
	assert.Error(t, err)
}

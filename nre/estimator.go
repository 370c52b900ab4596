package nre

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
)

// Dataset is the training view over a set of FINISHED store records,
// assembled by ID after a grow/simulate cycle. It holds direct record
// references; the store's append-only discipline makes that safe.
type Dataset struct {
	records []*SimulationRecord
}

// DatasetFrom collects the given record IDs from the store. Every record
// must be FINISHED; anything else is a caller bug.
func DatasetFrom(store *Store, ids []int) (*Dataset, error) {
	records := make([]*SimulationRecord, 0, len(ids))
	for _, id := range ids {
		rec := store.Record(id)
		if rec == nil {
			return nil, fmt.Errorf("dataset: no record with id %d", id)
		}
		if rec.Status != StatusFinished {
			return nil, fmt.Errorf("dataset: record %d is %s, want FINISHED", id, rec.Status)
		}
		records = append(records, rec)
	}
	return &Dataset{records: records}, nil
}

// Len returns the number of training records.
func (d *Dataset) Len() int { return len(d.records) }

// Records returns the underlying records (shared, read-only by convention).
func (d *Dataset) Records() []*SimulationRecord { return d.records }

// RatioEstimator is the external training collaborator: it consumes a
// dataset of finished simulations and returns a Scorer for the requested
// 1-D marginals. Implementations are assumed deterministic given a fixed
// seed; a training error is fatal for the round that requested it.
type RatioEstimator interface {
	Train(ctx context.Context, ds *Dataset, marginals []string) (Scorer, error)
}

// Scorer estimates log likelihood-ratios. LogRatios is a pure function:
// given a reference observation and unit-cube locations along one
// marginal, it returns one log-ratio per location.
type Scorer interface {
	LogRatios(obs map[string][]float64, marginal string, cubeU []float64) ([]float64, error)
}

// === Score cache ===

// scoreKey identifies one LogRatios evaluation by content: an FNV-64a
// hash of the observation, the marginal name, and a hash of the query
// locations.
type scoreKey struct {
	obs      uint64
	marginal string
	points   uint64
}

// CachedScorer memoizes LogRatios results keyed by content hash of the
// observation and query grid. Eviction policy: never evict. The cache
// lives only as long as its round's scorer, which the scheduler drops
// during history compaction.
type CachedScorer struct {
	scorer Scorer

	mu    sync.Mutex
	cache map[scoreKey][]float64
}

// NewCachedScorer wraps a scorer with content-hash memoization.
func NewCachedScorer(s Scorer) *CachedScorer {
	return &CachedScorer{scorer: s, cache: make(map[scoreKey][]float64)}
}

// LogRatios returns the cached result when the same observation, marginal
// and locations were scored before, delegating otherwise.
func (c *CachedScorer) LogRatios(obs map[string][]float64, marginal string, cubeU []float64) ([]float64, error) {
	key := scoreKey{obs: hashObservation(obs), marginal: marginal, points: hashFloats(cubeU)}
	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}
	out, err := c.scorer.LogRatios(obs, marginal, cubeU)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[key] = out
	c.mu.Unlock()
	return out, nil
}

// hashObservation computes an FNV-64a content hash over the observation:
// keys in sorted order, then each array's raw float bits.
func hashObservation(obs map[string][]float64) uint64 {
	keys := make([]string, 0, len(obs))
	for k := range obs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	var buf [8]byte
	for _, k := range keys {
		h.Write([]byte(k))
		for _, v := range obs[k] {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// hashFloats computes an FNV-64a hash over raw float bits.
func hashFloats(vals []float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range vals {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// === Grid fan-out ===

// parallelLogRatios evaluates a scorer over a large location set in
// chunks across a worker pool. Scorers are pure, so chunks are
// embarrassingly parallel; results are recombined by index.
func parallelLogRatios(scorer Scorer, obs map[string][]float64, marginal string, cubeU []float64, workers, chunkSize int) ([]float64, error) {
	if workers <= 1 || len(cubeU) <= chunkSize {
		return scorer.LogRatios(obs, marginal, cubeU)
	}
	out := make([]float64, len(cubeU))
	errs := make([]error, (len(cubeU)+chunkSize-1)/chunkSize)

	type chunk struct{ idx, lo, hi int }
	jobs := make(chan chunk)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				scores, err := scorer.LogRatios(obs, marginal, cubeU[c.lo:c.hi])
				if err != nil {
					errs[c.idx] = err
					continue
				}
				copy(out[c.lo:c.hi], scores)
			}
		}()
	}
	idx := 0
	for lo := 0; lo < len(cubeU); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(cubeU) {
			hi = len(cubeU)
		}
		jobs <- chunk{idx: idx, lo: lo, hi: hi}
		idx++
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

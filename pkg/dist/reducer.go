package dist

import (
	"sync"

	"github.com/rltune/rltune/pkg/errors"
)

// MeanReducer averages equal-length vectors contributed by all parties.
// Reduce blocks until every party of the round has contributed, then
// every caller receives the same averaged slice. Rounds may repeat; a
// new round cannot begin until the previous one has fully released, so
// results are never overwritten under a sleeping caller.
type MeanReducer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int

	dim    int
	sum    []float64
	count  int
	gen    int
	result []float64
}

// NewMeanReducer creates a reducer for the given number of parties.
func NewMeanReducer(parties int) (*MeanReducer, error) {
	if parties < 1 {
		return nil, errors.Newf(errors.InvalidConfig, "reducer needs at least one party, got %d", parties)
	}
	r := &MeanReducer{parties: parties}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// Reduce contributes vec to the current round and returns the mean over
// all parties' contributions. The vector length is fixed by the first
// call ever made.
func (r *MeanReducer) Reduce(vec []float64) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dim == 0 {
		r.dim = len(vec)
	}
	if len(vec) != r.dim {
		return nil, errors.WithFields(
			errors.New(errors.ShapeMismatch, "reducer vector length mismatch"),
			errors.Fields{"want": r.dim, "got": len(vec)})
	}

	if r.sum == nil {
		r.sum = make([]float64, r.dim)
	}
	for i, v := range vec {
		r.sum[i] += v
	}
	r.count++

	gen := r.gen
	if r.count == r.parties {
		avg := r.sum
		for i := range avg {
			avg[i] /= float64(r.parties)
		}
		r.result = avg
		r.sum = nil
		r.count = 0
		r.gen++
		r.cond.Broadcast()
		return avg, nil
	}

	for gen == r.gen {
		r.cond.Wait()
	}
	return r.result, nil
}

package dist

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesAllTogether(t *testing.T) {
	const parties = 4
	b, err := NewBarrier(parties)
	require.NoError(t, err)

	var before, after atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < parties-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			before.Add(1)
			b.Wait()
			after.Add(1)
		}()
	}

	// Give the early arrivals time to block: nobody may pass yet.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(parties-1), before.Load())
	assert.Equal(t, int32(0), after.Load())

	b.Wait() // the final party releases everyone
	wg.Wait()
	assert.Equal(t, int32(parties-1), after.Load())
}

func TestBarrierIsReusable(t *testing.T) {
	const parties = 3
	const rounds = 5
	b, err := NewBarrier(parties)
	require.NoError(t, err)

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				counter.Add(1)
				b.Wait()
				// After each rendezvous every party has counted r+1 times.
				assert.Equal(t, int32(0), counter.Load()%parties)
				b.Wait()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(parties*rounds), counter.Load())
}

func TestBarrierValidation(t *testing.T) {
	_, err := NewBarrier(0)
	assert.Error(t, err)
}

func TestMeanReducer(t *testing.T) {
	const parties = 3
	r, err := NewMeanReducer(parties)
	require.NoError(t, err)

	results := make([][]float64, parties)
	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Reduce([]float64{float64(i), 1})
			require.NoError(t, err)
			results[i] = out
		}()
	}
	wg.Wait()

	for i := 0; i < parties; i++ {
		assert.InDelta(t, 1.0, results[i][0], 1e-12) // mean of 0,1,2
		assert.InDelta(t, 1.0, results[i][1], 1e-12)
	}
}

func TestMeanReducerRepeatedRounds(t *testing.T) {
	const parties = 2
	r, err := NewMeanReducer(parties)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 1; round <= 4; round++ {
				out, err := r.Reduce([]float64{float64(i * round)})
				require.NoError(t, err)
				// Mean of 0*round and 1*round.
				assert.InDelta(t, float64(round)/2, out[0], 1e-12)
			}
		}()
	}
	wg.Wait()
}

func TestMeanReducerLengthMismatch(t *testing.T) {
	r, err := NewMeanReducer(1)
	require.NoError(t, err)

	_, err = r.Reduce([]float64{1, 2})
	require.NoError(t, err)

	_, err = r.Reduce([]float64{1})
	assert.Error(t, err)
}

func TestGroupRunAndRoles(t *testing.T) {
	g, err := NewGroup(3)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Size())

	var coordinators atomic.Int32
	ranks := make([]bool, 3)
	var mu sync.Mutex

	err = g.Run(context.Background(), func(ctx context.Context, w *Worker) error {
		if w.IsCoordinator() {
			coordinators.Add(1)
		}
		mu.Lock()
		ranks[w.Rank()] = true
		mu.Unlock()
		assert.Equal(t, 3, w.World())
		w.Barrier()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), coordinators.Load(), "exactly one coordinator")
	assert.Equal(t, []bool{true, true, true}, ranks)
}

func TestGroupReduceGradsMeanSynchronizesReplicas(t *testing.T) {
	g, err := NewGroup(4)
	require.NoError(t, err)

	final := make([][]float64, 4)
	err = g.Run(context.Background(), func(ctx context.Context, w *Worker) error {
		grads := []float64{float64(w.Rank()), -2}
		if err := w.ReduceGradsMean(grads); err != nil {
			return err
		}
		final[w.Rank()] = grads
		return nil
	})
	require.NoError(t, err)

	for rank := 0; rank < 4; rank++ {
		assert.InDelta(t, 1.5, final[rank][0], 1e-12)
		assert.InDelta(t, -2.0, final[rank][1], 1e-12)
	}
}

package dist

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// Group launches one replica of the training loop per worker and gives
// each a handle onto the shared synchronization primitives.
type Group struct {
	size    int
	barrier *Barrier
	reducer *MeanReducer
}

// NewGroup creates a worker group of the given size.
func NewGroup(size int) (*Group, error) {
	barrier, err := NewBarrier(size)
	if err != nil {
		return nil, err
	}
	reducer, err := NewMeanReducer(size)
	if err != nil {
		return nil, err
	}
	return &Group{size: size, barrier: barrier, reducer: reducer}, nil
}

// Size returns the number of workers.
func (g *Group) Size() int { return g.size }

// Worker is the per-replica handle passed to the loop body.
type Worker struct {
	rank  int
	group *Group
}

// Rank is the worker's index within the group.
func (w *Worker) Rank() int { return w.rank }

// World is the total number of workers.
func (w *Worker) World() int { return w.group.size }

// IsCoordinator reports whether this worker carries the side effects
// that must happen exactly once (evaluation and logging).
func (w *Worker) IsCoordinator() bool { return w.rank == 0 }

// Barrier blocks until every worker in the group has arrived.
func (w *Worker) Barrier() { w.group.barrier.Wait() }

// ReduceGradsMean replaces grads in place with the elementwise mean of
// every worker's contribution, the gradient-averaging step that keeps
// replicas numerically identical.
func (w *Worker) ReduceGradsMean(grads []float64) error {
	avg, err := w.group.reducer.Reduce(grads)
	if err != nil {
		return err
	}
	copy(grads, avg)
	return nil
}

// Run executes fn once per worker concurrently and returns the first
// error. The pool propagates panics from worker goroutines.
func (g *Group) Run(ctx context.Context, fn func(ctx context.Context, w *Worker) error) error {
	p := pool.New().WithErrors().WithContext(ctx)
	for rank := 0; rank < g.size; rank++ {
		rank := rank
		p.Go(func(ctx context.Context) error {
			return fn(ctx, &Worker{rank: rank, group: g})
		})
	}
	return p.Wait()
}

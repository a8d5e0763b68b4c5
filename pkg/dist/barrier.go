// Package dist models the synchronization points the training loop
// needs across parallel workers: a reusable rendezvous barrier, a mean
// gradient reducer, and a worker group that runs one orchestrator
// replica per worker. It is in-process parallelism standing in for a
// multi-process substrate; the orchestrator only depends on the
// synchronization semantics.
package dist

import (
	"sync"

	"github.com/rltune/rltune/pkg/errors"
)

// Barrier is a reusable rendezvous: every Wait blocks until all parties
// have arrived, then all are released together and the barrier resets
// for the next round.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	arrived int
	gen     int
}

// NewBarrier creates a barrier for the given number of parties.
func NewBarrier(parties int) (*Barrier, error) {
	if parties < 1 {
		return nil, errors.Newf(errors.InvalidConfig, "barrier needs at least one party, got %d", parties)
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Wait blocks until all parties have called Wait for the current round.
// There is no timeout: a party that never arrives stalls every other, a
// property the distributed substrate owns, not this core.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// Package rollout holds generated trajectories between rollout
// generation and optimization: an epoch-scoped store with shuffled
// mini-batch iteration, and the experience maker that fills it.
package rollout

import (
	"math/rand"
	"sync"

	"github.com/rltune/rltune/pkg/core"
)

// Store is the epoch-scoped trajectory buffer: append-only while
// rollouts are generated, drained via shuffled mini-batches during
// optimization, cleared at the epoch boundary.
type Store struct {
	mu           sync.Mutex
	trajectories []core.Trajectory
	padToken     int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPadToken sets the token used to right-pad ragged responses when
// stacking a mini-batch. Defaults to 0.
func WithPadToken(tok int) StoreOption {
	return func(s *Store) {
		s.padToken = tok
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push appends a trajectory after validating its alignment.
func (s *Store) Push(tr core.Trajectory) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trajectories = append(s.trajectories, tr)
	return nil
}

// Len returns the number of stored trajectories.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trajectories)
}

// Clear drops every stored trajectory. Called once per epoch boundary by
// the orchestrator that owns the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trajectories = s.trajectories[:0]
}

// Batches shuffles the stored trajectories with the given source of
// randomness and stacks them into mini-batches of at most batchSize.
// A trailing partial batch is kept. Responses shorter than the longest
// one in their mini-batch are right-padded with the pad token and zero
// statistics; rollout generation normally pads upstream so this is a
// fallback, not the expected path.
func (s *Store) Batches(batchSize int, rng *rand.Rand) []core.Batch {
	s.mu.Lock()
	shuffled := make([]core.Trajectory, len(s.trajectories))
	copy(shuffled, s.trajectories)
	s.mu.Unlock()

	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var batches []core.Batch
	for start := 0; start < len(shuffled); start += batchSize {
		end := start + batchSize
		if end > len(shuffled) {
			end = len(shuffled)
		}
		batches = append(batches, s.stack(shuffled[start:end]))
	}
	return batches
}

func (s *Store) stack(trs []core.Trajectory) core.Batch {
	genLen := 0
	for _, tr := range trs {
		if len(tr.ResponseTokens) > genLen {
			genLen = len(tr.ResponseTokens)
		}
	}

	b := core.Batch{
		QueryTokens:    make([][]int, len(trs)),
		ResponseTokens: make([][]int, len(trs)),
		LogProbs:       make([][]float64, len(trs)),
		Values:         make([][]float64, len(trs)),
		Rewards:        make([][]float64, len(trs)),
	}
	for i, tr := range trs {
		b.QueryTokens[i] = append([]int(nil), tr.QueryTokens...)

		tokens := make([]int, genLen)
		logProbs := make([]float64, genLen)
		values := make([]float64, genLen)
		rewards := make([]float64, genLen)
		for t := 0; t < genLen; t++ {
			if t < len(tr.ResponseTokens) {
				tokens[t] = tr.ResponseTokens[t]
				logProbs[t] = tr.LogProbs[t]
				values[t] = tr.Values[t]
				rewards[t] = tr.Rewards[t]
			} else {
				tokens[t] = s.padToken
			}
		}
		b.ResponseTokens[i] = tokens
		b.LogProbs[i] = logProbs
		b.Values[i] = values
		b.Rewards[i] = rewards
	}
	return b
}

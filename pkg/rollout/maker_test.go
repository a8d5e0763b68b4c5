package rollout

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rltune/rltune/pkg/core"
)

const fakeVocab = 4

func newTestRNG() *rand.Rand { return rand.New(rand.NewSource(1)) }

// fakePolicy returns uniform logits and values equal to the position
// index, making the expected statistics easy to state exactly.
type fakePolicy struct{}

func (fakePolicy) Forward(ctx context.Context, tokens [][]int) (*core.ForwardOutput, error) {
	out := &core.ForwardOutput{
		Logits: make([][][]float64, len(tokens)),
		Values: make([][]float64, len(tokens)),
	}
	for i, row := range tokens {
		out.Logits[i] = make([][]float64, len(row))
		out.Values[i] = make([]float64, len(row))
		for p := range row {
			out.Logits[i][p] = make([]float64, fakeVocab)
			out.Values[i][p] = float64(p)
		}
	}
	return out, nil
}

type fakeActor struct{}

func (fakeActor) Act(ctx context.Context, prompts [][]int) (core.ActResult, error) {
	res := core.ActResult{QueryTokens: prompts}
	for range prompts {
		res.ResponseTokens = append(res.ResponseTokens, []int{1, 2})
		res.ResponseText = append(res.ResponseText, "1 2")
	}
	return res, nil
}

type fakeScorer struct{ scores []float64 }

func (s fakeScorer) Score(ctx context.Context, texts []string) ([]float64, error) {
	return s.scores[:len(texts)], nil
}

func TestMakeExperience(t *testing.T) {
	store := NewStore()
	prompts := func(n int) [][]int {
		out := make([][]int, n)
		for i := range out {
			out[i] = []int{3, 0}
		}
		return out
	}
	maker := NewExperienceMaker(fakePolicy{}, fakeActor{}, fakeScorer{scores: []float64{0.5, -1}}, store, prompts)

	require.NoError(t, maker.MakeExperience(context.Background(), 2, 0))
	require.Equal(t, 2, store.Len())

	batch := store.Batches(2, newTestRNG())[0]
	require.NoError(t, batch.Validate())

	uniform := math.Log(1.0 / fakeVocab)
	scoresSeen := map[float64]bool{}
	for i := 0; i < batch.Size(); i++ {
		// Uniform logits: every recorded log-prob is log(1/V).
		for _, lp := range batch.LogProbs[i] {
			assert.InDelta(t, uniform, lp, 1e-12)
		}
		// Values come from the positions preceding each response token:
		// prompt length 2, response length 2, so positions 1 and 2.
		assert.Equal(t, []float64{1, 2}, batch.Values[i])

		// Scalar score sits on the terminal token only.
		assert.Equal(t, 0.0, batch.Rewards[i][0])
		scoresSeen[batch.Rewards[i][1]] = true
	}
	assert.True(t, scoresSeen[0.5])
	assert.True(t, scoresSeen[-1])
}

func TestMakeExperienceScoreMismatch(t *testing.T) {
	store := NewStore()
	prompts := func(n int) [][]int {
		out := make([][]int, n)
		for i := range out {
			out[i] = []int{0}
		}
		return out
	}
	maker := NewExperienceMaker(fakePolicy{}, fakeActor{}, shortScorer{}, store, prompts)

	err := maker.MakeExperience(context.Background(), 2, 0)
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

type shortScorer struct{}

func (shortScorer) Score(ctx context.Context, texts []string) ([]float64, error) {
	return []float64{1}, nil
}

func TestMakeExperienceCanceledContext(t *testing.T) {
	store := NewStore()
	maker := NewExperienceMaker(fakePolicy{}, fakeActor{}, fakeScorer{scores: []float64{0}}, store,
		func(n int) [][]int { return make([][]int, n) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, maker.MakeExperience(ctx, 1, 0))
}

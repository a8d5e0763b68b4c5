package toy

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/rltune/rltune/pkg/core"
	"github.com/rltune/rltune/pkg/errors"
	"github.com/rltune/rltune/pkg/mathutil"
)

// Actor samples fixed-length responses from a toy policy, one token at a
// time conditioned on the previous token. Responses within a call share
// one length, so batches stay rectangular without padding.
type Actor struct {
	mu     sync.Mutex
	policy *Policy
	genLen int
	rng    *rand.Rand
}

// NewActor creates a sampling actor over the policy.
func NewActor(policy *Policy, genLen int, seed int64) (*Actor, error) {
	if genLen < 1 {
		return nil, errors.Newf(errors.InvalidConfig, "generation length must be at least 1, got %d", genLen)
	}
	return &Actor{
		policy: policy,
		genLen: genLen,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Act generates a response per prompt and renders it as text.
func (a *Actor) Act(ctx context.Context, prompts [][]int) (core.ActResult, error) {
	if err := errors.CheckContext(ctx, "act"); err != nil {
		return core.ActResult{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res := core.ActResult{
		QueryTokens:    prompts,
		ResponseTokens: make([][]int, len(prompts)),
		ResponseText:   make([]string, len(prompts)),
	}
	for i, prompt := range prompts {
		if len(prompt) == 0 {
			return core.ActResult{}, errors.New(errors.ShapeMismatch, "empty prompt")
		}
		cur := prompt[len(prompt)-1]
		response := make([]int, a.genLen)
		for t := 0; t < a.genLen; t++ {
			probs := mathutil.Softmax(a.policy.logitsRow(cur))
			cur = sampleCategorical(probs, a.rng)
			response[t] = cur
		}
		res.ResponseTokens[i] = response
		res.ResponseText[i] = RenderTokens(response)
	}
	return res, nil
}

func sampleCategorical(probs []float64, rng *rand.Rand) int {
	threshold := rng.Float64()
	var cumulativeProb float64
	for i, prob := range probs {
		cumulativeProb += prob
		if threshold <= cumulativeProb {
			return i
		}
	}
	return len(probs) - 1
}

// RenderTokens renders token IDs as space-separated text, the toy
// stand-in for detokenization.
func RenderTokens(tokens []int) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = strconv.Itoa(tok)
	}
	return strings.Join(parts, " ")
}

// ParseTokens is the inverse of RenderTokens. Unparseable fields are an
// error; scorers use it to get back at token identities.
func ParseTokens(text string) ([]int, error) {
	fields := strings.Fields(text)
	out := make([]int, len(fields))
	for i, f := range fields {
		tok, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrap(err, errors.ShapeMismatch, "unparseable token text")
		}
		out[i] = tok
	}
	return out, nil
}

// TargetTokenScorer rewards responses by the fraction of tokens equal to
// a target token, a deliberately easy reward landscape for exercising
// the training loop.
type TargetTokenScorer struct {
	Target int
}

// Score implements core.Scorer.
func (s TargetTokenScorer) Score(ctx context.Context, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i, text := range texts {
		tokens, err := ParseTokens(text)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			continue
		}
		hits := 0
		for _, tok := range tokens {
			if tok == s.Target {
				hits++
			}
		}
		scores[i] = float64(hits) / float64(len(tokens))
	}
	return scores, nil
}

// Package toy provides a minimal trainable policy used for testing and
// for exercising the training loop end to end without a real language
// model. It is a bigram table: the logits for the next token depend only
// on the current token, and a value head reads off the same table row.
// Gradients are analytic, accumulated by Backward.
package toy

import (
	"context"
	"math/rand"

	"github.com/rltune/rltune/pkg/core"
	"github.com/rltune/rltune/pkg/errors"
)

// Policy is a bigram policy with a value head over a fixed vocabulary.
// Parameters live in one flat slice: vocab*vocab next-token logits
// followed by vocab value-head entries.
type Policy struct {
	vocab  int
	params core.ParamSet
}

// New constructs a policy with small random initial logits and a zeroed
// value head, deterministically from the seed.
func New(vocab int, seed int64) (*Policy, error) {
	if vocab < 2 {
		return nil, errors.Newf(errors.InvalidConfig, "vocab must be at least 2, got %d", vocab)
	}
	rng := rand.New(rand.NewSource(seed))
	n := vocab*vocab + vocab
	p := &Policy{
		vocab: vocab,
		params: core.ParamSet{
			Values: make([]float64, n),
			Grads:  make([]float64, n),
		},
	}
	for i := 0; i < vocab*vocab; i++ {
		p.params.Values[i] = rng.NormFloat64() * 0.01
	}
	return p, nil
}

// Vocab returns the vocabulary size.
func (p *Policy) Vocab() int { return p.vocab }

func (p *Policy) logitsRow(tok int) []float64 {
	return p.params.Values[tok*p.vocab : (tok+1)*p.vocab]
}

func (p *Policy) valueEntry(tok int) float64 {
	return p.params.Values[p.vocab*p.vocab+tok]
}

// Forward returns next-token logits and a value prediction for every
// position of every row.
func (p *Policy) Forward(ctx context.Context, tokens [][]int) (*core.ForwardOutput, error) {
	if err := errors.CheckContext(ctx, "forward"); err != nil {
		return nil, err
	}

	out := &core.ForwardOutput{
		Logits: make([][][]float64, len(tokens)),
		Values: make([][]float64, len(tokens)),
	}
	for i, row := range tokens {
		out.Logits[i] = make([][]float64, len(row))
		out.Values[i] = make([]float64, len(row))
		for t, tok := range row {
			if tok < 0 || tok >= p.vocab {
				return nil, errors.Newf(errors.ShapeMismatch, "token %d outside vocab %d", tok, p.vocab)
			}
			out.Logits[i][t] = append([]float64(nil), p.logitsRow(tok)...)
			out.Values[i][t] = p.valueEntry(tok)
		}
	}
	return out, nil
}

// Backward accumulates parameter gradients from upstream logit and value
// gradients. The bigram structure makes the chain rule a scatter-add
// into the row indexed by each position's input token.
func (p *Policy) Backward(ctx context.Context, tokens [][]int, grads *core.Gradients) error {
	if err := errors.CheckContext(ctx, "backward"); err != nil {
		return err
	}
	if len(grads.DLogits) != len(tokens) || len(grads.DValues) != len(tokens) {
		return errors.New(errors.ShapeMismatch, "gradient batch size mismatch")
	}

	for i, row := range tokens {
		if len(grads.DLogits[i]) != len(row) || len(grads.DValues[i]) != len(row) {
			return errors.WithFields(
				errors.New(errors.ShapeMismatch, "gradient row length mismatch"),
				errors.Fields{"row": i})
		}
		for t, tok := range row {
			base := tok * p.vocab
			for j, g := range grads.DLogits[i][t] {
				p.params.Grads[base+j] += g
			}
			p.params.Grads[p.vocab*p.vocab+tok] += grads.DValues[i][t]
		}
	}
	return nil
}

// Parameters exposes the flat parameter and gradient slices.
func (p *Policy) Parameters() *core.ParamSet { return &p.params }

// ZeroGrad clears the accumulated gradients.
func (p *Policy) ZeroGrad() {
	for i := range p.params.Grads {
		p.params.Grads[i] = 0
	}
}

package core

import (
	"github.com/google/uuid"

	"github.com/rltune/rltune/pkg/errors"
)

// Trajectory is one rollout sample: a prompt, the generated response and
// the per-response-token statistics recorded at generation time. It is
// immutable once produced.
type Trajectory struct {
	ID             uuid.UUID
	QueryTokens    []int
	ResponseTokens []int

	// Per response token, recorded under the policy at generation time.
	LogProbs []float64
	Values   []float64
	Rewards  []float64
}

// Validate checks the positional alignment of the per-token statistics.
func (tr *Trajectory) Validate() error {
	n := len(tr.ResponseTokens)
	if n < 1 {
		return errors.New(errors.ShapeMismatch, "trajectory has empty response")
	}
	if len(tr.LogProbs) != n || len(tr.Values) != n || len(tr.Rewards) != n {
		return errors.WithFields(
			errors.New(errors.ShapeMismatch, "trajectory statistics misaligned with response"),
			errors.Fields{
				"response": n,
				"logprobs": len(tr.LogProbs),
				"values":   len(tr.Values),
				"rewards":  len(tr.Rewards),
			})
	}
	return nil
}

// Batch is a rectangular stack of trajectories. Response rows share one
// length within a batch; rollout generation pads to guarantee it.
type Batch struct {
	QueryTokens    [][]int
	ResponseTokens [][]int

	LogProbs [][]float64
	Values   [][]float64
	Rewards  [][]float64
}

// Size returns the number of trajectories stacked in the batch.
func (b *Batch) Size() int {
	return len(b.ResponseTokens)
}

// ResponseLen returns the shared response length, 0 for an empty batch.
func (b *Batch) ResponseLen() int {
	if len(b.ResponseTokens) == 0 {
		return 0
	}
	return len(b.ResponseTokens[0])
}

// AllTokens concatenates prompt and response tokens row-wise, the input
// expected by a policy forward pass.
func (b *Batch) AllTokens() [][]int {
	out := make([][]int, len(b.QueryTokens))
	for i := range b.QueryTokens {
		row := make([]int, 0, len(b.QueryTokens[i])+len(b.ResponseTokens[i]))
		row = append(row, b.QueryTokens[i]...)
		row = append(row, b.ResponseTokens[i]...)
		out[i] = row
	}
	return out
}

// Validate checks rectangularity and per-row statistic alignment.
func (b *Batch) Validate() error {
	if b.Size() == 0 {
		return errors.New(errors.ShapeMismatch, "empty batch")
	}
	genLen := b.ResponseLen()
	if genLen < 1 {
		return errors.New(errors.ShapeMismatch, "batch has empty responses")
	}
	for i := range b.ResponseTokens {
		if len(b.ResponseTokens[i]) != genLen ||
			len(b.LogProbs[i]) != genLen ||
			len(b.Values[i]) != genLen ||
			len(b.Rewards[i]) != genLen {
			return errors.WithFields(
				errors.New(errors.ShapeMismatch, "ragged batch row"),
				errors.Fields{"row": i, "want": genLen})
		}
	}
	return nil
}

// StepResult is the immutable record of a single optimization pass. It is
// returned from the objective and handed to the post-step callback
// explicitly; nothing is stashed in ambient state.
type StepResult struct {
	Loss   float64
	PGLoss float64
	VFLoss float64

	// MeanKL is the batch mean of per-sequence summed KL between the
	// updated and the rollout-time policy, the controller feedback signal.
	MeanKL float64
}

// ForwardOutput is the result of one policy forward pass over a token
// matrix: next-token logits and a value prediction per position.
type ForwardOutput struct {
	Logits [][][]float64 // [batch][time][vocab]
	Values [][]float64   // [batch][time]
}

// Gradients carries the upstream loss gradients fed back into a policy:
// d(loss)/d(logits) and d(loss)/d(values), shaped like ForwardOutput.
type Gradients struct {
	DLogits [][][]float64
	DValues [][]float64
}

// ParamSet exposes a policy's parameters and accumulated gradients as
// flat slices, the contract shared by optimizers and the gradient
// reduction across workers.
type ParamSet struct {
	Values []float64
	Grads  []float64
}

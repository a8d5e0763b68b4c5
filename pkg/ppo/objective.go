package ppo

import (
	"math"

	"github.com/rltune/rltune/pkg/core"
	"github.com/rltune/rltune/pkg/errors"
	"github.com/rltune/rltune/pkg/mathutil"
)

// Objective computes the clipped PPO surrogate for one batch: the policy
// loss over the probability ratio, the pessimistic clipped value loss,
// and the observed mean KL used as controller feedback. It also produces
// the analytic upstream gradients for the policy's backward pass.
type Objective struct {
	gamma          float64
	lam            float64
	cliprange      float64
	cliprangeValue float64
	vfCoef         float64
}

// NewObjective validates the trust-region parameters up front; a
// non-positive cliprange would silently disable clipping, so it is
// rejected instead.
func NewObjective(gamma, lam, cliprange, cliprangeValue, vfCoef float64) (*Objective, error) {
	if cliprange <= 0 {
		return nil, errors.Newf(errors.InvalidConfig, "cliprange must be positive, got %v", cliprange)
	}
	if cliprangeValue <= 0 {
		return nil, errors.Newf(errors.InvalidConfig, "cliprange_value must be positive, got %v", cliprangeValue)
	}
	return &Objective{
		gamma:          gamma,
		lam:            lam,
		cliprange:      cliprange,
		cliprangeValue: cliprangeValue,
		vfCoef:         vfCoef,
	}, nil
}

// Loss evaluates the objective for a batch given the current policy's
// forward pass over the batch's concatenated tokens. Advantages are
// computed with GAE, whitened, and treated as constants: no gradient
// flows through them.
//
// Note: the elementwise max over the two surrogate candidates (rather
// than the conventional min) reproduces the reference behavior exactly
// and is pinned by a dedicated test.
func (o *Objective) Loss(batch core.Batch, fwd *core.ForwardOutput) (core.StepResult, *core.Gradients, error) {
	if err := batch.Validate(); err != nil {
		return core.StepResult{}, nil, err
	}

	genLen := batch.ResponseLen()
	batchSize := batch.Size()

	rawAdv, returns, err := EstimateAdvantages(batch.Values, batch.Rewards, o.gamma, o.lam)
	if err != nil {
		return core.StepResult{}, nil, err
	}
	advantages := mathutil.Whiten(rawAdv)

	grads := &core.Gradients{
		DLogits: make([][][]float64, batchSize),
		DValues: make([][]float64, batchSize),
	}

	n := float64(batchSize * genLen)
	var pgLoss, vfLoss, klSum float64

	for i := 0; i < batchSize; i++ {
		totalLen := len(batch.QueryTokens[i]) + genLen
		if len(fwd.Logits[i]) != totalLen || len(fwd.Values[i]) != totalLen {
			return core.StepResult{}, nil, errors.WithFields(
				errors.New(errors.ShapeMismatch, "forward output misaligned with tokens"),
				errors.Fields{"row": i, "tokens": totalLen, "logits": len(fwd.Logits[i]), "values": len(fwd.Values[i])})
		}
		if len(batch.QueryTokens[i]) < 1 {
			return core.StepResult{}, nil, errors.New(errors.ShapeMismatch, "empty prompt row")
		}

		dLogits := make([][]float64, totalLen)
		dValues := make([]float64, totalLen)

		var seqKL float64
		for t := 0; t < genLen; t++ {
			// Position whose logits predict response token t, and the
			// position whose value estimates the same state.
			pos := totalLen - genLen - 1 + t
			target := batch.ResponseTokens[i][t]
			logits := fwd.Logits[i][pos]

			newLogProb := mathutil.LogProbFromLogits(logits, target)
			newValue := fwd.Values[i][pos]

			// Value loss: pessimistic bound over the clipped and the
			// unclipped squared error.
			vfTerm, dValue := valueLossTerm(newValue, batch.Values[i][t], returns[i][t], o.cliprangeValue)
			vfLoss += vfTerm / n
			dValues[pos] = o.vfCoef * dValue / n

			// Policy surrogate on the importance ratio.
			kl := newLogProb - batch.LogProbs[i][t]
			seqKL += kl
			ratio := math.Exp(kl)

			pgTerm, dLogProbTerm := policyLossTerm(advantages[i][t], ratio, o.cliprange)
			pgLoss += pgTerm / n
			dLogProb := dLogProbTerm / n

			// Chain through log-softmax: d(logprob)/d(logit_j) is
			// indicator(j == target) - softmax_j.
			probs := mathutil.Softmax(logits)
			row := make([]float64, len(logits))
			for j := range logits {
				indicator := 0.0
				if j == target {
					indicator = 1.0
				}
				row[j] = dLogProb * (indicator - probs[j])
			}
			dLogits[pos] = row
		}
		klSum += seqKL

		for p := range dLogits {
			if dLogits[p] == nil {
				dLogits[p] = make([]float64, len(fwd.Logits[i][p]))
			}
		}
		grads.DLogits[i] = dLogits
		grads.DValues[i] = dValues
	}

	result := core.StepResult{
		Loss:   pgLoss + o.vfCoef*vfLoss,
		PGLoss: pgLoss,
		VFLoss: vfLoss,
		MeanKL: klSum / float64(batchSize),
	}
	if err := errors.CheckFinite(result.Loss, "loss"); err != nil {
		return core.StepResult{}, nil, err
	}
	return result, grads, nil
}

// policyLossTerm evaluates one element of the clipped surrogate: the max
// of the unclipped and the ratio-clipped candidate, and the derivative
// of the active branch with respect to the new log-probability. The
// advantage is a constant here; no gradient flows through it.
func policyLossTerm(adv, ratio, cliprange float64) (loss, dLogProb float64) {
	loss1 := -adv * ratio
	loss2 := -adv * mathutil.Clip(ratio, 1-cliprange, 1+cliprange)

	if loss1 >= loss2 {
		return loss1, -adv * ratio
	}
	if ratio > 1-cliprange && ratio < 1+cliprange {
		return loss2, -adv * ratio
	}
	return loss2, 0
}

// valueLossTerm evaluates one element of the pessimistic value loss,
// 0.5*max of the squared errors of the unclipped and clipped value
// predictions against the return, and its derivative with respect to
// the new value prediction.
func valueLossTerm(newValue, oldValue, ret, cliprangeValue float64) (loss, dValue float64) {
	clippedValue := mathutil.Clip(newValue, oldValue-cliprangeValue, oldValue+cliprangeValue)
	unclippedErr := (newValue - ret) * (newValue - ret)
	clippedErr := (clippedValue - ret) * (clippedValue - ret)

	if unclippedErr >= clippedErr {
		return 0.5 * unclippedErr, newValue - ret
	}
	if newValue > oldValue-cliprangeValue && newValue < oldValue+cliprangeValue {
		return 0.5 * clippedErr, clippedValue - ret
	}
	return 0.5 * clippedErr, 0
}

// Package ppo implements the training objective for proximal policy
// optimization of sequence-generation policies: generalized advantage
// estimation, the clipped surrogate loss and the KL-coefficient
// controllers that bound policy drift per update.
package ppo

import (
	"github.com/rltune/rltune/pkg/errors"
)

// EstimateAdvantages runs the GAE backward recurrence per batch row.
// values and rewards are [batch][time]; gamma is the discount and lam
// the trace decay. The returned advantages are raw (not whitened) so
// that returns[t] == advantages[t] + values[t] holds elementwise by
// construction.
func EstimateAdvantages(values, rewards [][]float64, gamma, lam float64) (advantages, returns [][]float64, err error) {
	if len(values) != len(rewards) {
		return nil, nil, errors.WithFields(
			errors.New(errors.ShapeMismatch, "values/rewards batch size mismatch"),
			errors.Fields{"values": len(values), "rewards": len(rewards)})
	}

	advantages = make([][]float64, len(values))
	returns = make([][]float64, len(values))
	for i := range values {
		T := len(values[i])
		if len(rewards[i]) != T {
			return nil, nil, errors.WithFields(
				errors.New(errors.ShapeMismatch, "values/rewards length mismatch"),
				errors.Fields{"row": i, "values": T, "rewards": len(rewards[i])})
		}

		adv := make([]float64, T)
		ret := make([]float64, T)
		lastGAE := 0.0
		for t := T - 1; t >= 0; t-- {
			nextValue := 0.0
			if t < T-1 {
				nextValue = values[i][t+1]
			}
			delta := rewards[i][t] + gamma*nextValue - values[i][t]
			lastGAE = delta + gamma*lam*lastGAE
			adv[t] = lastGAE
			ret[t] = lastGAE + values[i][t]
		}
		advantages[i] = adv
		returns[i] = ret
	}
	return advantages, returns, nil
}

package rollout

import (
	"context"

	"github.com/google/uuid"

	"github.com/rltune/rltune/pkg/core"
	"github.com/rltune/rltune/pkg/errors"
	"github.com/rltune/rltune/pkg/logging"
	"github.com/rltune/rltune/pkg/mathutil"
)

// PromptFunc supplies prompt token sequences for rollout generation.
type PromptFunc func(n int) [][]int

// ExperienceMaker generates trajectories and pushes them into the store:
// sample responses through the actor, recompute per-token log-probs and
// values under the generating policy, score the rendered text, and fold
// the score into the terminal reward. Implements core.RolloutGenerator.
type ExperienceMaker struct {
	policy  core.Policy
	actor   core.Actor
	scorer  core.Scorer
	store   *Store
	prompts PromptFunc
	logger  *logging.Logger
}

// NewExperienceMaker wires the generation collaborators to a store.
func NewExperienceMaker(policy core.Policy, actor core.Actor, scorer core.Scorer, store *Store, prompts PromptFunc) *ExperienceMaker {
	return &ExperienceMaker{
		policy:  policy,
		actor:   actor,
		scorer:  scorer,
		store:   store,
		prompts: prompts,
		logger:  logging.GetLogger(),
	}
}

// MakeExperience populates the store with numRollouts fresh trajectories.
// iterCount is a generation-conditioning hint carried through for the
// collaborators; it is logged but the synthetic prompt source here does
// not use it.
func (m *ExperienceMaker) MakeExperience(ctx context.Context, numRollouts, iterCount int) error {
	if err := errors.CheckContext(ctx, "make experience"); err != nil {
		return err
	}

	prompts := m.prompts(numRollouts)
	act, err := m.actor.Act(ctx, prompts)
	if err != nil {
		return err
	}

	scores, err := m.scorer.Score(ctx, act.ResponseText)
	if err != nil {
		return err
	}
	if len(scores) != len(act.ResponseTokens) {
		return errors.WithFields(
			errors.New(errors.ShapeMismatch, "scorer returned wrong number of scores"),
			errors.Fields{"scores": len(scores), "rollouts": len(act.ResponseTokens)})
	}

	// Recompute generation-time statistics under the policy that just
	// produced the responses; these become the "old" log-probs and
	// values the objective measures drift against.
	all := make([][]int, len(act.QueryTokens))
	for i := range act.QueryTokens {
		row := make([]int, 0, len(act.QueryTokens[i])+len(act.ResponseTokens[i]))
		row = append(row, act.QueryTokens[i]...)
		row = append(row, act.ResponseTokens[i]...)
		all[i] = row
	}
	fwd, err := m.policy.Forward(ctx, all)
	if err != nil {
		return err
	}

	for i := range act.ResponseTokens {
		genLen := len(act.ResponseTokens[i])
		totalLen := len(all[i])

		logProbs := make([]float64, genLen)
		values := make([]float64, genLen)
		rewards := make([]float64, genLen)
		for t := 0; t < genLen; t++ {
			pos := totalLen - genLen - 1 + t
			logProbs[t] = mathutil.LogProbFromLogits(fwd.Logits[i][pos], act.ResponseTokens[i][t])
			values[t] = fwd.Values[i][pos]
		}
		// Scalar score lands on the final response token.
		rewards[genLen-1] = scores[i]

		tr := core.Trajectory{
			ID:             uuid.New(),
			QueryTokens:    act.QueryTokens[i],
			ResponseTokens: act.ResponseTokens[i],
			LogProbs:       logProbs,
			Values:         values,
			Rewards:        rewards,
		}
		if err := m.store.Push(tr); err != nil {
			return err
		}
	}

	m.logger.Debug(ctx, "generated %d rollouts at iteration %d", numRollouts, iterCount)
	return nil
}

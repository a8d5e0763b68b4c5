package ppo

import (
	"context"

	"github.com/rltune/rltune/pkg/core"
)

// Model binds a trainable policy to the PPO objective, implementing
// core.TrainModel. Loss runs one forward pass, evaluates the objective
// and accumulates gradients into the policy; the optimizer step stays
// with the orchestrator.
type Model struct {
	policy    core.TrainablePolicy
	objective *Objective
}

// NewModel wires a policy and an objective into a trainable model.
func NewModel(policy core.TrainablePolicy, objective *Objective) *Model {
	return &Model{policy: policy, objective: objective}
}

// Arch returns the policy architecture being trained.
func (m *Model) Arch() core.TrainablePolicy { return m.policy }

// Loss computes the objective for one batch and backpropagates it.
func (m *Model) Loss(ctx context.Context, batch core.Batch) (core.StepResult, error) {
	tokens := batch.AllTokens()

	fwd, err := m.policy.Forward(ctx, tokens)
	if err != nil {
		return core.StepResult{}, err
	}

	result, grads, err := m.objective.Loss(batch, fwd)
	if err != nil {
		return core.StepResult{}, err
	}

	if err := m.policy.Backward(ctx, tokens, grads); err != nil {
		return core.StepResult{}, err
	}
	return result, nil
}

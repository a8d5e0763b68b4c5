package core

import "context"

// Policy is the generative model boundary: one teacher-forced forward
// pass over concatenated prompt+response tokens, returning logits and
// per-position value predictions. The model architecture behind it is
// not this package's concern.
type Policy interface {
	Forward(ctx context.Context, tokens [][]int) (*ForwardOutput, error)
}

// TrainablePolicy extends Policy with gradient accumulation. Backward
// consumes upstream gradients produced by an objective and accumulates
// parameter gradients; Parameters exposes them to an optimizer.
type TrainablePolicy interface {
	Policy
	Backward(ctx context.Context, tokens [][]int, grads *Gradients) error
	Parameters() *ParamSet
	ZeroGrad()
}

// TrainModel is the capability every trainable model variant implements:
// produce its policy architecture and compute the training objective for
// one batch. Loss runs the forward pass, evaluates the objective and
// accumulates gradients into the policy; the orchestrator is generic
// over this interface and never branches on concrete type.
type TrainModel interface {
	Arch() TrainablePolicy
	Loss(ctx context.Context, batch Batch) (StepResult, error)
}

// Optimizer applies accumulated gradients to parameters.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// Schedule adjusts the learning rate, stepped once per optimization pass.
type Schedule interface {
	Step()
	LR() float64
}

// ActResult is what generation returns during evaluation.
type ActResult struct {
	QueryTokens    [][]int
	ResponseTokens [][]int
	ResponseText   []string
}

// Actor generates responses for a batch of prompts. Used only during
// evaluation; training consumes pre-generated rollouts.
type Actor interface {
	Act(ctx context.Context, prompts [][]int) (ActResult, error)
}

// Scorer is the external reward function over generated text.
type Scorer interface {
	Score(ctx context.Context, texts []string) ([]float64, error)
}

// RolloutGenerator populates the rollout store with fresh trajectories.
// Invoked between epochs, never concurrently with optimization. The
// iterCount is passed through as a generation-conditioning hint.
type RolloutGenerator interface {
	MakeExperience(ctx context.Context, numRollouts, iterCount int) error
}

// Package trainer drives the PPO training loop: it consumes rollout
// mini-batches, runs multiple optimization passes per batch, updates
// the KL controller, evaluates on a cadence from the coordinator, and
// regenerates rollouts at epoch boundaries.
package trainer

import (
	"context"
	"math/rand"

	"github.com/google/uuid"

	"github.com/rltune/rltune/pkg/config"
	"github.com/rltune/rltune/pkg/core"
	"github.com/rltune/rltune/pkg/dist"
	"github.com/rltune/rltune/pkg/errors"
	"github.com/rltune/rltune/pkg/logging"
	"github.com/rltune/rltune/pkg/mathutil"
	"github.com/rltune/rltune/pkg/ppo"
	"github.com/rltune/rltune/pkg/rollout"
)

// Orchestrator owns the training loop state: the global step counter,
// the rollout epoch, and the per-epoch rollout store.
type Orchestrator struct {
	cfg       *config.Config
	model     core.TrainModel
	store     *rollout.Store
	generator core.RolloutGenerator
	actor     core.Actor
	scorer    core.Scorer
	opt       core.Optimizer
	sched     core.Schedule
	ctl       ppo.KLController

	worker *dist.Worker // nil when running single-process
	rng    *rand.Rand
	logger *logging.Logger
	runID  string

	iterCount int
	epoch     int
}

// Option configures optional orchestrator behavior.
type Option func(*Orchestrator)

// WithWorker attaches the orchestrator to a worker group; barriers and
// gradient reduction then run against the group, and evaluation happens
// on the coordinator only.
func WithWorker(w *dist.Worker) Option {
	return func(o *Orchestrator) {
		o.worker = w
	}
}

// WithSeed fixes the mini-batch shuffling seed.
func WithSeed(seed int64) Option {
	return func(o *Orchestrator) {
		o.rng = rand.New(rand.NewSource(seed))
	}
}

// New wires an orchestrator. The store is exclusively owned by this
// orchestrator for the duration of the run; nothing else may mutate it.
func New(
	cfg *config.Config,
	model core.TrainModel,
	store *rollout.Store,
	generator core.RolloutGenerator,
	actor core.Actor,
	scorer core.Scorer,
	opt core.Optimizer,
	sched core.Schedule,
	ctl ppo.KLController,
	opts ...Option,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:       cfg,
		model:     model,
		store:     store,
		generator: generator,
		actor:     actor,
		scorer:    scorer,
		opt:       opt,
		sched:     sched,
		ctl:       ctl,
		rng:       rand.New(rand.NewSource(cfg.Model.Seed)),
		logger:    logging.GetLogger(),
		runID:     uuid.New().String(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// IterCount returns the global optimizer-step counter.
func (o *Orchestrator) IterCount() int { return o.iterCount }

// Epoch returns the rollout-generation counter.
func (o *Orchestrator) Epoch() int { return o.epoch }

// KLCoef returns the controller's current coefficient.
func (o *Orchestrator) KLCoef() float64 { return o.ctl.Value() }

// Train runs the loop to completion. The termination condition is the
// literal complement of both bounds: training continues while either
// the step budget or the epoch budget is unmet, so even zero budgets
// execute one full epoch. TestTerminationRunsOneEpochOnZeroBudgets pins
// this contract.
func (o *Orchestrator) Train(ctx context.Context) error {
	o.iterCount = 0
	o.epoch = 0
	ctx = logging.WithRunID(ctx, o.runID)

	o.logger.Info(ctx, "starting learning: total_steps=%d epochs=%d ppo_epochs=%d batch_size=%d",
		o.cfg.Train.TotalSteps, o.cfg.Train.Epochs, o.cfg.Method.PPOEpochs, o.cfg.Train.BatchSize)

	if o.store.Len() == 0 {
		if err := o.generator.MakeExperience(ctx, o.cfg.Method.NumRollouts, o.iterCount); err != nil {
			return err
		}
	}

	for o.iterCount < o.cfg.Train.TotalSteps || o.epoch <= o.cfg.Train.Epochs {
		batches := o.store.Batches(o.cfg.Train.BatchSize, o.rng)
		if len(batches) == 0 {
			return errors.New(errors.StoreEmpty, "rollout store produced no mini-batches")
		}
		for _, batch := range batches {
			if err := errors.CheckContext(ctx, "training"); err != nil {
				return err
			}

			// Every pass recomputes the objective: the policy moved
			// under the previous pass within the same mini-batch.
			var last core.StepResult
			for pass := 0; pass < o.cfg.Method.PPOEpochs; pass++ {
				result, err := o.step(ctx, batch)
				if err != nil {
					return err
				}
				last = result
			}

			if err := o.postStep(ctx, batch, last); err != nil {
				return err
			}
			o.barrier()
		}

		if err := o.postEpoch(ctx); err != nil {
			return err
		}
		o.barrier()
	}

	o.logger.Info(ctx, "finished learning: steps=%d epochs=%d", o.iterCount, o.epoch)
	return nil
}

// step runs one optimization pass: objective with gradient
// accumulation, cross-worker gradient averaging, optimizer and
// schedule step.
func (o *Orchestrator) step(ctx context.Context, batch core.Batch) (core.StepResult, error) {
	o.opt.ZeroGrad()

	result, err := o.model.Loss(ctx, batch)
	if err != nil {
		return result, err
	}

	if o.worker != nil {
		if err := o.worker.ReduceGradsMean(o.model.Arch().Parameters().Grads); err != nil {
			return result, err
		}
	}

	o.opt.Step()
	o.sched.Step()
	o.iterCount++
	return result, nil
}

// postStep updates the KL controller from the last pass's observed KL
// and, on the coordinator at the evaluation cadence, generates and
// scores responses for the batch's prompts.
func (o *Orchestrator) postStep(ctx context.Context, batch core.Batch, last core.StepResult) error {
	o.ctl.Update(last.MeanKL, o.cfg.Train.BatchSize)

	if !o.isCoordinator() {
		return nil
	}
	// Always evaluate on the very first mini-batch, then on the cadence.
	if o.iterCount%o.cfg.Train.EvalInterval != 0 && o.iterCount > o.cfg.Method.PPOEpochs {
		return nil
	}
	return o.evaluate(ctx, batch, last)
}

// EvalRow pairs one generated response with its score in the structured
// evaluation record.
type EvalRow struct {
	Response string  `json:"response"`
	Score    float64 `json:"score"`
}

func (o *Orchestrator) evaluate(ctx context.Context, batch core.Batch, last core.StepResult) error {
	act, err := o.actor.Act(ctx, batch.QueryTokens)
	if err != nil {
		return err
	}
	scores, err := o.scorer.Score(ctx, act.ResponseText)
	if err != nil {
		return err
	}

	meanScore := mathutil.Mean(scores)
	rows := make([]EvalRow, len(scores))
	for i := range scores {
		rows[i] = EvalRow{Response: act.ResponseText[i], Score: scores[i]}
	}

	stepCtx := logging.WithStep(ctx, int64(o.iterCount))
	o.logger.InfoWithFields(stepCtx, map[string]interface{}{
		"mean_score": meanScore,
		"pg_loss":    last.PGLoss,
		"vf_loss":    last.VFLoss,
		"kl_coef":    o.ctl.Value(),
		"responses":  rows,
	}, "Step: %d, Mean score: %v, pg_loss: %v, vf_loss: %v, kl_coef: %v",
		o.iterCount, meanScore, last.PGLoss, last.VFLoss, o.ctl.Value())

	return nil
}

// postEpoch advances the epoch, clears the drained store and requests a
// fresh set of rollouts, passing the step counter through as a
// generation-conditioning hint.
func (o *Orchestrator) postEpoch(ctx context.Context) error {
	o.epoch++
	o.store.Clear()
	return o.generator.MakeExperience(ctx, o.cfg.Method.NumRollouts, o.iterCount)
}

func (o *Orchestrator) isCoordinator() bool {
	return o.worker == nil || o.worker.IsCoordinator()
}

func (o *Orchestrator) barrier() {
	if o.worker != nil {
		o.worker.Barrier()
	}
}

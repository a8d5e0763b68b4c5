package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/rltune/rltune/pkg/config"
	"github.com/rltune/rltune/pkg/core"
	"github.com/rltune/rltune/pkg/dist"
	"github.com/rltune/rltune/pkg/logging"
	"github.com/rltune/rltune/pkg/policy/toy"
	"github.com/rltune/rltune/pkg/ppo"
	"github.com/rltune/rltune/pkg/rollout"
	"github.com/rltune/rltune/pkg/trainer"
)

func trainCmd() *cli.Command {
	var (
		configPath  string
		logLevel    string
		metricsPath string
		workers     int64
		seed        int64
		targetToken int64
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Run PPO training from a YAML configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to YAML config; defaults apply when omitted",
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "DEBUG, INFO, WARN, ERROR or FATAL",
				Value:       "INFO",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "metrics",
				Usage:       "path to a JSONL metrics file (appended)",
				Destination: &metricsPath,
			},
			&cli.Int64Flag{
				Name:        "workers",
				Usage:       "override train.num_workers",
				Destination: &workers,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "override model.seed",
				Destination: &seed,
			},
			&cli.Int64Flag{
				Name:        "target-token",
				Usage:       "token the toy reward counts",
				Value:       1,
				Destination: &targetToken,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = *loaded
			}
			if seed != 0 {
				cfg.Model.Seed = seed
			}
			if workers > 0 {
				cfg.Train.NumWorkers = int(workers)
			}

			logger, err := setupLogging(logLevel, metricsPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Train.NumWorkers > 1 {
				group, err := dist.NewGroup(cfg.Train.NumWorkers)
				if err != nil {
					return err
				}
				return group.Run(ctx, func(ctx context.Context, w *dist.Worker) error {
					orch, err := buildStack(&cfg, int(targetToken), trainer.WithWorker(w))
					if err != nil {
						return err
					}
					return orch.Train(ctx)
				})
			}

			orch, err := buildStack(&cfg, int(targetToken))
			if err != nil {
				return err
			}
			return orch.Train(ctx)
		},
	}
}

func setupLogging(level, metricsPath string) (*logging.Logger, error) {
	outputs := []logging.Output{logging.NewConsoleOutput(false)}
	if metricsPath != "" {
		jsonl, err := logging.NewJSONLFileOutput(metricsPath)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, jsonl)
	}
	logger := logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(level),
		Outputs:  outputs,
	})
	logging.SetLogger(logger)
	return logger, nil
}

// buildStack assembles one complete training replica. Workers in a group
// each get their own replica built from the same seeds, so they generate
// identical rollouts and stay in lockstep through gradient averaging.
func buildStack(cfg *config.Config, targetToken int, opts ...trainer.Option) (*trainer.Orchestrator, error) {
	policy, err := toy.New(cfg.Model.VocabSize, cfg.Model.Seed)
	if err != nil {
		return nil, err
	}
	actor, err := toy.NewActor(policy, cfg.Model.ResponseLen, cfg.Model.Seed+1)
	if err != nil {
		return nil, err
	}
	scorer := toy.TargetTokenScorer{Target: targetToken}

	store := rollout.NewStore()
	maker := rollout.NewExperienceMaker(policy, actor, scorer, store, promptSource(cfg))

	sched, err := toy.NewLinearSchedule(cfg.Train.LearningRate, cfg.Train.WarmupSteps, cfg.Train.TotalSteps)
	if err != nil {
		return nil, err
	}
	opt := toy.NewSGD(policy.Parameters(), sched)

	registry := core.NewModelRegistry()
	registry.Register("toy", func() (core.TrainModel, error) {
		obj, err := ppo.NewObjective(cfg.Method.Gamma, cfg.Method.Lam,
			cfg.Method.Cliprange, cfg.Method.CliprangeValue, cfg.Method.VFCoef)
		if err != nil {
			return nil, err
		}
		return ppo.NewModel(policy, obj), nil
	})
	model, err := registry.Create(cfg.Model.Name)
	if err != nil {
		return nil, err
	}

	ctl, err := ppo.NewKLController(cfg.Method.InitKLCoef, cfg.Method.Target, cfg.Method.Horizon)
	if err != nil {
		return nil, err
	}

	return trainer.New(cfg, model, store, maker, actor, scorer, opt, sched, ctl, opts...)
}

// promptSource cycles prompt tokens deterministically through the
// vocabulary so repeated epochs see the same prompt distribution.
func promptSource(cfg *config.Config) rollout.PromptFunc {
	return func(n int) [][]int {
		out := make([][]int, n)
		for i := range out {
			row := make([]int, cfg.Model.PromptLen)
			for j := range row {
				row[j] = (i + j) % cfg.Model.VocabSize
			}
			out[i] = row
		}
		return out
	}
}

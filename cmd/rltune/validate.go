package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/rltune/rltune/pkg/config"
)

func validateCmd() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:  "validate",
		Usage: "Check a YAML configuration without training",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to YAML config",
				Required:    true,
				Destination: &configPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			controller := "fixed"
			if cfg.Method.Target != nil {
				controller = "adaptive"
			}
			fmt.Printf("%s: ok (model=%s workers=%d kl_controller=%s)\n",
				configPath, cfg.Model.Name, cfg.Train.NumWorkers, controller)
			return nil
		},
	}
}

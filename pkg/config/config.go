// Package config defines the training configuration surface: a YAML
// file decoded into nested sections and validated up front, so a bad
// run fails at load rather than mid-epoch.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rltune/rltune/pkg/errors"
)

// Config is the root of the configuration tree.
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Train  TrainConfig  `yaml:"train"`
	Method MethodConfig `yaml:"method"`
}

// ModelConfig selects and sizes the policy architecture.
type ModelConfig struct {
	// Name is the model registry key resolved once at startup.
	Name        string `yaml:"name" validate:"required"`
	VocabSize   int    `yaml:"vocab_size" validate:"gte=2"`
	PromptLen   int    `yaml:"prompt_len" validate:"gte=1"`
	ResponseLen int    `yaml:"response_len" validate:"gte=1"`
	Seed        int64  `yaml:"seed"`
}

// TrainConfig drives the orchestration loop.
type TrainConfig struct {
	BatchSize    int     `yaml:"batch_size" validate:"gt=0"`
	TotalSteps   int     `yaml:"total_steps" validate:"gte=0"`
	Epochs       int     `yaml:"epochs" validate:"gte=0"`
	EvalInterval int     `yaml:"eval_interval" validate:"gt=0"`
	LearningRate float64 `yaml:"learning_rate" validate:"gt=0"`
	WarmupSteps  int     `yaml:"warmup_steps" validate:"gte=0"`
	NumWorkers   int     `yaml:"num_workers" validate:"gte=1"`
}

// MethodConfig holds the PPO hyperparameters.
type MethodConfig struct {
	Gamma          float64 `yaml:"gamma" validate:"gt=0,lte=1"`
	Lam            float64 `yaml:"lam" validate:"gte=0,lte=1"`
	Cliprange      float64 `yaml:"cliprange" validate:"gt=0"`
	CliprangeValue float64 `yaml:"cliprange_value" validate:"gt=0"`
	VFCoef         float64 `yaml:"vf_coef" validate:"gte=0"`

	// Target absent selects the fixed KL controller; present selects
	// the adaptive one with the given horizon.
	InitKLCoef float64  `yaml:"init_kl_coef" validate:"gte=0"`
	Target     *float64 `yaml:"target"`
	Horizon    float64  `yaml:"horizon"`

	PPOEpochs   int `yaml:"ppo_epochs" validate:"gt=0"`
	NumRollouts int `yaml:"num_rollouts" validate:"gt=0"`
}

// Default returns a runnable configuration with hyperparameters in the
// customary PPO ranges.
func Default() Config {
	target := 6.0
	return Config{
		Model: ModelConfig{
			Name:        "toy",
			VocabSize:   16,
			PromptLen:   2,
			ResponseLen: 8,
			Seed:        42,
		},
		Train: TrainConfig{
			BatchSize:    16,
			TotalSteps:   1000,
			Epochs:       10,
			EvalInterval: 50,
			LearningRate: 0.05,
			WarmupSteps:  10,
			NumWorkers:   1,
		},
		Method: MethodConfig{
			Gamma:          1.0,
			Lam:            0.95,
			Cliprange:      0.2,
			CliprangeValue: 0.2,
			VFCoef:         1.0,
			InitKLCoef:     0.2,
			Target:         &target,
			Horizon:        10000,
			PPOEpochs:      4,
			NumRollouts:    128,
		},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.InvalidConfig, "malformed config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidConfig, "reading config file")
	}
	return Parse(data)
}

// Validate applies the struct tags plus the semantic checks the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, errors.InvalidConfig, "invalid configuration")
	}
	if c.Method.Target != nil {
		if *c.Method.Target <= 0 {
			return errors.Newf(errors.InvalidConfig, "method.target must be positive when set, got %v", *c.Method.Target)
		}
		if c.Method.Horizon <= 0 {
			return errors.Newf(errors.InvalidConfig, "method.horizon must be positive for the adaptive controller, got %v", c.Method.Horizon)
		}
	}
	return nil
}

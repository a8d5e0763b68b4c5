package ppo

import (
	"github.com/rltune/rltune/pkg/errors"
	"github.com/rltune/rltune/pkg/mathutil"
)

// KLController scales the KL penalty folded into rollout rewards. Update
// is called once per rollout batch with the observed mean KL and the
// number of optimizer steps since the previous update.
type KLController interface {
	Update(current float64, nSteps int)
	Value() float64
}

// FixedKLController keeps a constant coefficient.
type FixedKLController struct {
	value float64
}

// NewFixedKLController returns a controller that never changes.
func NewFixedKLController(coef float64) *FixedKLController {
	return &FixedKLController{value: coef}
}

func (c *FixedKLController) Update(current float64, nSteps int) {}

func (c *FixedKLController) Value() float64 { return c.value }

// AdaptiveKLController applies discrete proportional feedback toward a
// target KL over a horizon: when observed KL exceeds the target the
// coefficient grows, below it the coefficient shrinks. The clamp bounds
// the per-update multiplicative change to ±20%.
type AdaptiveKLController struct {
	value   float64
	target  float64
	horizon float64
}

// NewAdaptiveKLController constructs the adaptive variant. A
// non-positive target or horizon is rejected: dividing by a zero target
// is undefined and there is no sensible fallback.
func NewAdaptiveKLController(initCoef, target, horizon float64) (*AdaptiveKLController, error) {
	if target <= 0 {
		return nil, errors.Newf(errors.InvalidConfig, "adaptive KL target must be positive, got %v", target)
	}
	if horizon <= 0 {
		return nil, errors.Newf(errors.InvalidConfig, "adaptive KL horizon must be positive, got %v", horizon)
	}
	return &AdaptiveKLController{value: initCoef, target: target, horizon: horizon}, nil
}

func (c *AdaptiveKLController) Update(current float64, nSteps int) {
	proportionalError := mathutil.Clip(current/c.target-1, -0.2, 0.2)
	mult := 1 + proportionalError*float64(nSteps)/c.horizon
	c.value *= mult
}

func (c *AdaptiveKLController) Value() float64 { return c.value }

// NewKLController selects the controller variant from configuration: an
// absent target means Fixed, a present one selects Adaptive.
func NewKLController(initCoef float64, target *float64, horizon float64) (KLController, error) {
	if target == nil {
		return NewFixedKLController(initCoef), nil
	}
	return NewAdaptiveKLController(initCoef, *target, horizon)
}

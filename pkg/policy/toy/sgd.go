package toy

import (
	"github.com/rltune/rltune/pkg/core"
	"github.com/rltune/rltune/pkg/errors"
)

// SGD applies plain stochastic gradient descent over a flat parameter
// set, reading the learning rate from a schedule at every step.
type SGD struct {
	params *core.ParamSet
	sched  core.Schedule
}

// NewSGD wires an optimizer to a parameter set and a schedule.
func NewSGD(params *core.ParamSet, sched core.Schedule) *SGD {
	return &SGD{params: params, sched: sched}
}

// Step applies the accumulated gradients.
func (o *SGD) Step() {
	lr := o.sched.LR()
	for i := range o.params.Values {
		o.params.Values[i] -= lr * o.params.Grads[i]
	}
}

// ZeroGrad clears the accumulated gradients.
func (o *SGD) ZeroGrad() {
	for i := range o.params.Grads {
		o.params.Grads[i] = 0
	}
}

// LinearSchedule ramps the learning rate up over a warmup window, then
// decays it linearly toward a floor of 10% of the base rate by the time
// totalSteps is reached.
type LinearSchedule struct {
	base    float64
	warmup  int
	total   int
	current int
}

// NewLinearSchedule validates and constructs the schedule.
func NewLinearSchedule(base float64, warmup, total int) (*LinearSchedule, error) {
	if base <= 0 {
		return nil, errors.Newf(errors.InvalidConfig, "base learning rate must be positive, got %v", base)
	}
	if warmup < 0 || total < 0 {
		return nil, errors.New(errors.InvalidConfig, "schedule steps must be non-negative")
	}
	return &LinearSchedule{base: base, warmup: warmup, total: total}, nil
}

// LR returns the learning rate for the current step.
func (s *LinearSchedule) LR() float64 {
	if s.warmup > 0 && s.current < s.warmup {
		return s.base * float64(s.current+1) / float64(s.warmup)
	}
	if s.total <= s.warmup {
		return s.base
	}
	frac := float64(s.total-s.current) / float64(s.total-s.warmup)
	if frac < 0.1 {
		frac = 0.1
	}
	if frac > 1 {
		frac = 1
	}
	return s.base * frac
}

// Step advances the schedule by one optimization pass.
func (s *LinearSchedule) Step() { s.current++ }

package core

import "github.com/rltune/rltune/pkg/errors"

// ModelFactory is a function type for creating TrainModel instances.
type ModelFactory func() (TrainModel, error)

// ModelRegistry maintains an explicit mapping of model-kind name to
// constructor. It is resolved once at startup; the chosen model is then
// passed by value through the orchestrator, never looked up mid-loop.
type ModelRegistry struct {
	factories map[string]ModelFactory
}

// NewModelRegistry creates an empty ModelRegistry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		factories: make(map[string]ModelFactory),
	}
}

// Register adds a new model factory under the given name.
func (r *ModelRegistry) Register(name string, factory ModelFactory) {
	r.factories[name] = factory
}

// Create instantiates a model by registered name.
func (r *ModelRegistry) Create(name string) (TrainModel, error) {
	factory, exists := r.factories[name]
	if !exists {
		return nil, errors.Newf(errors.InvalidConfig, "unknown model type: %s", name)
	}
	return factory()
}

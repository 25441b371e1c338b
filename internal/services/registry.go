package services

import (
	"github.com/fyrsmithlabs/planner/internal/compliance"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	rules "github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/revision"
	"github.com/fyrsmithlabs/planner/internal/scrub"
	"github.com/fyrsmithlabs/planner/internal/store"
)

// Registry provides access to the planner components.
// Use accessor methods to retrieve individual components.
type Registry interface {
	Rules() *rules.Registry
	Pipeline() *orchestrator.Pipeline
	Validator() *compliance.Validator
	Reviser() *revision.Reviser
	Store() store.Store
	Scrubber() scrub.Scrubber
}

// Options configures the registry with component instances.
type Options struct {
	Rules     *rules.Registry
	Pipeline  *orchestrator.Pipeline
	Validator *compliance.Validator
	Reviser   *revision.Reviser
	Store     store.Store
	Scrubber  scrub.Scrubber
}

// registry is the concrete implementation of Registry.
type registry struct {
	rules     *rules.Registry
	pipeline  *orchestrator.Pipeline
	validator *compliance.Validator
	reviser   *revision.Reviser
	store     store.Store
	scrubber  scrub.Scrubber
}

// NewRegistry creates a new component registry. A nil scrubber is
// replaced by scrub.Noop.
func NewRegistry(opts Options) Registry {
	scrubber := opts.Scrubber
	if scrubber == nil {
		scrubber = scrub.Noop{}
	}
	return &registry{
		rules:     opts.Rules,
		pipeline:  opts.Pipeline,
		validator: opts.Validator,
		reviser:   opts.Reviser,
		store:     opts.Store,
		scrubber:  scrubber,
	}
}

func (r *registry) Rules() *rules.Registry           { return r.rules }
func (r *registry) Pipeline() *orchestrator.Pipeline { return r.pipeline }
func (r *registry) Validator() *compliance.Validator { return r.validator }
func (r *registry) Reviser() *revision.Reviser       { return r.reviser }
func (r *registry) Store() store.Store               { return r.store }
func (r *registry) Scrubber() scrub.Scrubber         { return r.scrubber }

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stages defines the ordered pipeline of compiler stages and selects the current one.
//
// The order of registration defines the pipeline: the "previous" stage of a stage is the one
// registered immediately before it.
package stages

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnknownStage is returned when the configured stage is not registered.
var ErrUnknownStage = errors.Wrap(config.ErrConfiguration, "unknown stage")

// Stage is a named point in the compiler pipeline with its own options.
//
// Options whose names start with backends.FlagPrefix are compiler flags, the others are
// exported as environment variables (see harness.NewEnv).
type Stage struct {
	Name    string
	Options map[string]string
}

// String implements fmt.Stringer.
func (s *Stage) String() string {
	if s == nil {
		return "<none>"
	}
	return s.Name
}

// Registry is an ordered list of stages with unique names.
type Registry struct {
	stages []*Stage
	index  map[string]int
}

// NewRegistry creates a registry with the given stages, in order.
// It returns an error if a name is empty or repeated.
func NewRegistry(stages ...Stage) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for _, stage := range stages {
		if err := r.Register(stage); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNewRegistry is like NewRegistry, but panics on error.
func MustNewRegistry(stages ...Stage) *Registry {
	r, err := NewRegistry(stages...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register appends the stage to the end of the pipeline.
func (r *Registry) Register(stage Stage) error {
	if stage.Name == "" {
		return errors.Wrap(config.ErrConfiguration, "stage with empty name")
	}
	if _, found := r.index[stage.Name]; found {
		return errors.Wrapf(config.ErrConfiguration, "stage %q registered twice", stage.Name)
	}
	stage.Options = maps.Clone(stage.Options)
	r.index[stage.Name] = len(r.stages)
	r.stages = append(r.stages, &stage)
	return nil
}

// Len returns the number of stages.
func (r *Registry) Len() int { return len(r.stages) }

// Names returns the stage names in pipeline order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.stages))
	for ii, stage := range r.stages {
		names[ii] = stage.Name
	}
	return names
}

// Stages returns the stages in pipeline order.
func (r *Registry) Stages() []*Stage { return slices.Clone(r.stages) }

// Lookup returns the stage with the given name.
func (r *Registry) Lookup(name string) (*Stage, bool) {
	idx, found := r.index[name]
	if !found {
		return nil, false
	}
	return r.stages[idx], true
}

// Previous returns the stage immediately preceding stage, or false if it is the first one.
// It panics if stage is not registered.
func (r *Registry) Previous(stage *Stage) (*Stage, bool) {
	if stage == nil {
		exceptions.Panicf("Registry.Previous(nil)")
	}
	idx, found := r.index[stage.Name]
	if !found {
		exceptions.Panicf("Registry.Previous(%q): stage not registered, valid stages are %v", stage.Name, r.Names())
	}
	if idx == 0 {
		return nil, false
	}
	return r.stages[idx-1], true
}

// Selector resolves the current stage from the configuration.
type Selector struct {
	Registry  *Registry
	StageName string
}

// NewSelector returns a selector for the stage configured in cfg.
func NewSelector(registry *Registry, cfg config.Config) *Selector {
	return &Selector{Registry: registry, StageName: cfg.StageName}
}

// Current returns the configured stage, or nil if none is configured (bisection is then disabled).
// A name not in the registry returns an error wrapping ErrUnknownStage, listing the valid names.
func (s *Selector) Current() (*Stage, error) {
	if s.StageName == "" {
		return nil, nil
	}
	stage, found := s.Registry.Lookup(s.StageName)
	if !found {
		return nil, errors.WithMessagef(ErrUnknownStage, "%s=%q, valid stages are: %s",
			config.StageNameEnv, s.StageName, strings.Join(s.Registry.Names(), ", "))
	}
	klog.V(1).Infof("current stage: %s", stage)
	return stage, nil
}

// MustCurrent is like Current, but panics on error.
func (s *Selector) MustCurrent() *Stage {
	stage, err := s.Current()
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	return stage
}

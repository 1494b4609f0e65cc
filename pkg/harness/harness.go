// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package harness wires together the stage-bisection differential-testing harness.
//
// An Env is created once per process: it resolves the current stage, applies its options, and holds the
// bisection oracle, the table of compilation caches and the comparison oracle shared by all fixtures.
//
// Typical use in a test:
//
//	env := harness.MustNewEnvFromProcess(registry)
//	env.RegisterKind("transpose", transposeBuilder)
//	env.Fixture(fixture.Spec{Key: key, InputShapes: inputShapes}).Test(t)
package harness

import (
	"os"
	"sort"

	"github.com/gomlx/stagecheck/backends"
	"github.com/gomlx/stagecheck/pkg/harness/bisect"
	"github.com/gomlx/stagecheck/pkg/harness/compare"
	"github.com/gomlx/stagecheck/pkg/harness/compcache"
	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/gomlx/stagecheck/pkg/harness/fixture"
	"github.com/gomlx/stagecheck/pkg/harness/stages"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Env is the context shared by the fixtures of a process.
type Env struct {
	Config   config.Config
	Registry *stages.Registry

	// Stage is the current stage, or nil if none is configured.
	Stage *stages.Stage

	Backend   backends.Backend
	Bisection *bisect.Oracle
	Table     *compcache.Table
	Compare   *compare.Oracle

	// RunID correlates a process with its bisection children.
	RunID string
}

type options struct {
	runner bisect.StageRunner
	setenv func(key, value string) error
}

// Option for NewEnv.
type Option func(*options)

// WithStageRunner sets the runner used to run the previous stage. The default is a bisect.ExecRunner.
func WithStageRunner(runner bisect.StageRunner) Option {
	return func(o *options) { o.runner = runner }
}

// WithSetenv replaces os.Setenv to export the plain (non compiler flag) stage options.
func WithSetenv(setenv func(key, value string) error) Option {
	return func(o *options) { o.setenv = setenv }
}

// NewEnv creates the Env for the given configuration, pipeline and backend.
//
// The options of the current stage are applied: compiler flags (see backends.IsCompilerFlag) are passed to
// backend.SetFlags, the others are exported as environment variables, so they are also inherited by
// bisection children.
func NewEnv(cfg config.Config, registry *stages.Registry, backend backends.Backend, opts ...Option) (*Env, error) {
	o := &options{setenv: os.Setenv}
	for _, opt := range opts {
		opt(o)
	}
	oracle, err := bisect.New(cfg, registry, o.runner)
	if err != nil {
		return nil, err
	}
	env := &Env{
		Config:    cfg,
		Registry:  registry,
		Stage:     oracle.Current(),
		Backend:   backend,
		Bisection: oracle,
		Table:     compcache.NewTable(backend),
		Compare:   compare.New(compare.TolerancesFromConfig(cfg)),
		RunID:     cfg.RunID,
	}
	if env.RunID == "" {
		env.RunID = uuid.NewString()
		if err := o.setenv(config.RunIDEnv, env.RunID); err != nil {
			return nil, errors.Wrapf(err, "exporting %s", config.RunIDEnv)
		}
	}
	if err := env.applyStageOptions(o.setenv); err != nil {
		return nil, err
	}
	klog.V(1).Infof("harness: run %s, stage %s, bisection=%v, backend %s",
		env.RunID, env.Stage, oracle.Enabled(), backend.Description())
	return env, nil
}

// NewEnvFromProcess creates the Env from the process environment and the backend configured with
// backends.ConfigEnvVar.
func NewEnvFromProcess(registry *stages.Registry, opts ...Option) (*Env, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	backend, err := backends.New()
	if err != nil {
		return nil, err
	}
	return NewEnv(cfg, registry, backend, opts...)
}

// MustNewEnvFromProcess is like NewEnvFromProcess, but panics on error.
func MustNewEnvFromProcess(registry *stages.Registry, opts ...Option) *Env {
	env, err := NewEnvFromProcess(registry, opts...)
	if err != nil {
		panic(err)
	}
	return env
}

func (env *Env) applyStageOptions(setenv func(key, value string) error) error {
	if env.Stage == nil || len(env.Stage.Options) == 0 {
		return nil
	}
	names := make([]string, 0, len(env.Stage.Options))
	for name := range env.Stage.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	flags := make(map[string]string)
	for _, name := range names {
		value := env.Stage.Options[name]
		if backends.IsCompilerFlag(name) {
			flags[name] = value
			continue
		}
		if err := setenv(name, value); err != nil {
			return errors.Wrapf(err, "stage %q: exporting option %s", env.Stage.Name, name)
		}
		klog.V(1).Infof("harness: stage %q exported %s=%q", env.Stage.Name, name, value)
	}
	if len(flags) > 0 {
		if err := env.Backend.SetFlags(flags); err != nil {
			return errors.WithMessagef(errors.Wrap(config.ErrConfiguration, err.Error()),
				"stage %q: setting compiler flags", env.Stage.Name)
		}
	}
	return nil
}

// RegisterKind registers the builder of the compiled artifacts for fixtures of the given kind.
func (env *Env) RegisterKind(kind string, builder compcache.Builder) {
	env.Table.RegisterKind(kind, builder)
}

// Deps returns the collaborators shared by fixtures.
func (env *Env) Deps() fixture.Deps {
	return fixture.Deps{
		Config:    env.Config,
		Bisection: env.Bisection,
		Table:     env.Table,
		Compare:   env.Compare,
	}
}

// Fixture creates a new fixture using the Env.
func (env *Env) Fixture(spec fixture.Spec) *fixture.Fixture {
	return fixture.New(env.Deps(), spec)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bisect tells whether a failure at the current stage is new, or inherited from the previous stage.
//
// The Oracle runs the previous stage at most once per process (with a StageRunner, by default a child
// process of the same binary) and memoizes whether it failed.
package bisect

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/gomlx/stagecheck/pkg/harness/stages"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Oracle answers whether the stage preceding the current one failed.
type Oracle struct {
	enabled  bool
	current  *stages.Stage
	registry *stages.Registry
	runner   StageRunner

	once        sync.Once
	priorFailed bool
	numRuns     atomic.Int32
}

// New creates an Oracle. If bisection is enabled, the current stage must be configured and registered,
// otherwise an error wrapping config.ErrConfiguration is returned.
//
// If runner is nil, an ExecRunner with the configured timeout is used.
func New(cfg config.Config, registry *stages.Registry, runner StageRunner) (*Oracle, error) {
	o := &Oracle{enabled: cfg.BisectionEnabled, registry: registry, runner: runner}
	current, err := stages.NewSelector(registry, cfg).Current()
	if err != nil {
		return nil, err
	}
	o.current = current
	if !o.enabled {
		return o, nil
	}
	if current == nil {
		return nil, errors.Wrapf(config.ErrConfiguration, "%s is enabled but %s is not set",
			config.BisectionEnabledEnv, config.StageNameEnv)
	}
	if o.runner == nil {
		o.runner = &ExecRunner{Timeout: cfg.BisectionTimeout}
	}
	return o, nil
}

// Enabled returns whether bisection is enabled.
func (o *Oracle) Enabled() bool { return o.enabled }

// Current stage, or nil if none is configured.
func (o *Oracle) Current() *stages.Stage { return o.current }

// NumRuns returns how many times the previous stage was run: at most 1.
func (o *Oracle) NumRuns() int { return int(o.numRuns.Load()) }

// PriorStageFailed reports whether the stage preceding the current one failed.
//
// The first call does the work, and blocks until the previous stage finishes. Later calls return the memoized result.
// If the previous stage cannot be run at all, it is considered failed.
func (o *Oracle) PriorStageFailed(ctx context.Context) bool {
	if !o.enabled {
		return false
	}
	o.once.Do(func() {
		o.priorFailed = o.runPrevious(ctx)
	})
	return o.priorFailed
}

func (o *Oracle) runPrevious(ctx context.Context) bool {
	previous, found := o.registry.Previous(o.current)
	if !found {
		klog.V(1).Infof("bisect: stage %q is the first one, nothing to blame", o.current)
		return false
	}
	o.numRuns.Add(1)
	exitCode, err := o.runner.RunStage(ctx, previous)
	if err != nil {
		klog.Warningf("bisect: considering stage %q failed, since it couldn't be run: %+v", previous, err)
		return true
	}
	failed := exitCode != 0
	klog.V(1).Infof("bisect: previous stage %q exit code %d (failed=%v)", previous, exitCode, failed)
	return failed
}

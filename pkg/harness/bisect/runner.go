// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bisect

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/gomlx/stagecheck/pkg/harness/stages"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// StageRunner runs the whole harness for the given stage, with bisection disabled, and returns its exit code.
//
// An error means the run could not even be started.
type StageRunner interface {
	RunStage(ctx context.Context, stage *stages.Stage) (exitCode int, err error)
}

// StageRunnerFn adapts a function to the StageRunner interface.
type StageRunnerFn func(ctx context.Context, stage *stages.Stage) (int, error)

// RunStage implements StageRunner.
func (fn StageRunnerFn) RunStage(ctx context.Context, stage *stages.Stage) (int, error) {
	return fn(ctx, stage)
}

// ExecRunner re-executes the current binary with the same arguments as a child process, with
// STAGE_NAME set to the stage and BISECTION_ENABLED=false. The output of the child is discarded.
type ExecRunner struct {
	// Argv to execute. If empty, the current executable is used with os.Args[1:].
	Argv []string

	// Timeout after which the child is killed. If 0, config.DefaultBisectionTimeout is used.
	Timeout time.Duration

	// Env holds extra environment variables for the child.
	Env map[string]string
}

var _ StageRunner = (*ExecRunner)(nil)

func (r *ExecRunner) argv() []string {
	if len(r.Argv) > 0 {
		return r.Argv
	}
	argv := slices.Clone(os.Args)
	if executable, err := os.Executable(); err == nil {
		argv[0] = executable
	}
	return argv
}

// RunStage implements StageRunner.
//
// A child killed by the timeout returns exit code -1 and no error.
func (r *ExecRunner) RunStage(ctx context.Context, stage *stages.Stage) (int, error) {
	argv := r.argv()
	if len(argv) == 0 {
		return 0, errors.New("bisect: empty argv")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = config.DefaultBisectionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := map[string]string{
		config.StageNameEnv:        stage.Name,
		config.BisectionEnabledEnv: "false",
	}
	for key, value := range r.Env {
		env[key] = value
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	merged := cmd.Environ()
	for _, key := range keys {
		merged = append(merged, fmt.Sprintf("%s=%s", key, env[key]))
	}
	cmd.Env = merged
	// Nil Stdout and Stderr connect the child to the null device.
	cmd.Stdout, cmd.Stderr = nil, nil
	cmd.WaitDelay = time.Second

	start := time.Now()
	klog.V(1).Infof("bisect: running stage %q as a child process: %q", stage.Name, argv)
	err := cmd.Run()
	elapsed := time.Since(start)
	if err == nil {
		klog.V(1).Infof("bisect: stage %q passed in %s", stage.Name, elapsed)
		return 0, nil
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		klog.Warningf("bisect: stage %q killed after timeout of %s", stage.Name, timeout)
		return -1, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		klog.V(1).Infof("bisect: stage %q exited with code %d in %s", stage.Name, exitErr.ExitCode(), elapsed)
		return exitErr.ExitCode(), nil
	}
	return 0, errors.Wrapf(err, "bisect: failed to run %q", argv)
}

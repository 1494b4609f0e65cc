// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable backend: the compiler under test
// of the stagecheck suites.
//
// Compilation lowers a graph.Graph into a flat program of instructions. When the compilation is accelerated,
// the passes enabled by the compiler flags (see Flags) rewrite the program before execution.
//
// Kernels run in parallel if the plain (non-flag) option STAGECHECK_INTERP_WORKERS is set in the environment
// at compilation time.
package simplego

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/stagecheck/backends"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in STAGECHECK_BACKEND to specify this backend.
const BackendName = "go"

// WorkersEnvVar is the environment variable with the maximum parallelism of the kernels.
// 0 (the default) runs kernels inline, -1 means unlimited.
const WorkersEnvVar = "STAGECHECK_INTERP_WORKERS"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
//
// The configuration is an optional comma-separated list of compiler flags assignments, e.g.:
// "FLAGS_fold_transposes=false,FLAGS_materialize_layout=true".
func New(config string) (backends.Backend, error) {
	b := newBackend()
	if config == "" {
		return b, nil
	}
	flags := make(map[string]string)
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("invalid configuration %q: expected <flag>=<value>, got %q", config, part)
		}
		flags[name] = value
	}
	if err := b.SetFlags(flags); err != nil {
		return nil, err
	}
	return b, nil
}

func newBackend() *Backend {
	return &Backend{flags: defaultFlags()}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	mu    sync.Mutex
	flags Flags
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("Simple Go Portable Backend (%s)", b.currentFlags())
}

func (b *Backend) currentFlags() Flags {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flags
}

// SetFlags implements backends.Backend. Values are parsed as booleans.
func (b *Backend) SetFlags(values map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	flags := b.flags
	for name, value := range values {
		if err := flags.set(name, value); err != nil {
			return err
		}
	}
	b.flags = flags
	klog.V(1).Infof("simplego: compiler flags set to %s", flags)
	return nil
}

// Flags implements backends.Backend.
func (b *Backend) Flags() map[string]string {
	return b.currentFlags().asMap()
}

// Compile implements backends.Backend.
func (b *Backend) Compile(g *graph.Graph, opts backends.CompileOptions) (backends.Executable, error) {
	flags := b.currentFlags()
	prog, err := lower(g)
	if err != nil {
		return nil, err
	}
	if opts.Accelerate {
		prog = optimize(prog, flags)
	}
	parallelism, err := parallelismFromEnv()
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("simplego: compiled %q (accelerate=%v, flags=%s):\n%s", g.Name(), opts.Accelerate, flags, prog)
	return newExecutable(prog, flags, parallelism), nil
}

// Eager implements backends.Backend.
func (b *Backend) Eager(name string, fn graph.Fn) backends.Executable {
	return &eagerExecutable{name: name, fn: fn}
}

func parallelismFromEnv() (int, error) {
	value, found := os.LookupEnv(WorkersEnvVar)
	if !found || value == "" {
		return 0, nil
	}
	parallelism, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid value %q for %s", value, WorkersEnvVar)
	}
	return parallelism, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface of the compiler under test: something that compiles a graph.Graph
// against an input specification, and executes it on host tensors.
//
// Backends register themselves by name (see Register), and are created from a configuration string
// "<backend_name>:<backend_configuration>", usually given by the STAGECHECK_BACKEND environment variable.
//
// Backends accept compiler flags (see SetFlags), named with the FlagPrefix convention. Flags configure which
// passes run when a compilation is accelerated.
package backends

import (
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Backend is the API implemented by a compiler under test.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the SimpleGo interpreter.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// SetFlags sets compiler flags. Names must start with FlagPrefix. Unknown flags are an error.
	// Flags only affect compilations started after the call.
	SetFlags(flags map[string]string) error

	// Flags returns a copy of the current compiler flags values.
	Flags() map[string]string

	// Compile the graph into an Executable. The graph parameters' shapes are the input specification:
	// they may have symbolic axes, bound on each call.
	Compile(g *graph.Graph, opts CompileOptions) (Executable, error)

	// Eager returns an Executable that runs fn operation by operation on the concrete inputs of each call,
	// without any compilation.
	Eager(name string, fn graph.Fn) Executable
}

// CompileOptions for Backend.Compile.
type CompileOptions struct {
	// Accelerate enables the optimization passes selected by the compiler flags.
	Accelerate bool
}

// Executable is the result of a compilation (or an eager wrapper).
type Executable interface {
	// Call executes the computation on the given inputs, returning one tensor per graph output.
	Call(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error)
}

// FlagPrefix is the naming convention for options that are compiler flags.
const FlagPrefix = "FLAGS_"

// IsCompilerFlag returns whether the option name follows the compiler flag naming convention.
func IsCompilerFlag(name string) bool {
	return strings.HasPrefix(name, FlagPrefix)
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
const ConfigEnvVar = "STAGECHECK_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment STAGECHECK_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// MustNew is like New, but panics on errors.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		exceptions.Panicf("backends.MustNew(): %+v", err)
	}
	return backend
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.New(`no registered backends -- maybe import the default one with ` +
			`import _ "github.com/gomlx/stagecheck/backends/simplego"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q", backendName)
	}
	return backend, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fixture runs one differential test: the reference and candidate executions of a computation
// on the same deterministic inputs, compared within tolerance.
//
// A Fixture goes through the states:
//
//	Init → Prepared → Skipped
//	                → RunReference → RunCandidate → Compared → Done
//
// It is skipped, without compiling anything, if the previous stage of the pipeline already fails.
package fixture

import (
	"context"
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/stagecheck/backends"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/gomlx/stagecheck/pkg/harness/compare"
	"github.com/gomlx/stagecheck/pkg/harness/compcache"
	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultSeed is the seed used to generate the inputs of every fixture.
const DefaultSeed uint64 = 42

// State of a Fixture.
type State int

const (
	StateInit State = iota
	StatePrepared
	StateSkipped
	StateRunReference
	StateRunCandidate
	StateCompared
	StateDone
)

var stateNames = []string{"Init", "Prepared", "Skipped", "RunReference", "RunCandidate", "Compared", "Done"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateInit:
		return to == StatePrepared
	case StatePrepared:
		return to == StateSkipped || to == StateRunReference
	case StateRunReference:
		return to == StateRunCandidate
	case StateRunCandidate:
		return to == StateCompared
	case StateCompared:
		return to == StateDone
	default:
		return false
	}
}

// Outcome of a fixture run.
type Outcome int

const (
	OutcomePassed Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// PriorFailureChecker tells whether the previous pipeline stage already fails. It's implemented by *bisect.Oracle.
type PriorFailureChecker interface {
	PriorStageFailed(ctx context.Context) bool
}

// Deps are the collaborators shared by all fixtures of a run.
type Deps struct {
	Config config.Config

	// Bisection may be nil, in which case fixtures are never skipped.
	Bisection PriorFailureChecker

	Table   *compcache.Table
	Compare *compare.Oracle
}

// Spec defines a fixture.
type Spec struct {
	// Key identifies the fixture in the compilation table. A builder for Key.Kind must be registered.
	Key compcache.Key

	// InputShapes are the concrete shapes of the inputs.
	InputShapes []shapes.Shape

	// Seed to generate the inputs. If 0, DefaultSeed is used.
	Seed uint64
}

// Fixture runs one differential test. It can only be run once.
type Fixture struct {
	deps Deps
	spec Spec

	state   State
	history []State
	inputs  []*tensors.Tensor

	reference, candidate []*tensors.Tensor
}

// New creates a fixture in the Init state.
func New(deps Deps, spec Spec) *Fixture {
	if deps.Table == nil || deps.Compare == nil {
		exceptions.Panicf("fixture.New(%s): Deps.Table and Deps.Compare must be set", spec.Key)
	}
	if spec.Seed == 0 {
		spec.Seed = DefaultSeed
	}
	return &Fixture{deps: deps, spec: spec, state: StateInit, history: []State{StateInit}}
}

// Key of the fixture.
func (f *Fixture) Key() compcache.Key { return f.spec.Key }

// State returns the current state.
func (f *Fixture) State() State { return f.state }

// History returns the states the fixture went through, starting with Init.
func (f *Fixture) History() []State { return slices.Clone(f.history) }

// Inputs returns the inputs generated while preparing the fixture.
func (f *Fixture) Inputs() []*tensors.Tensor { return f.inputs }

// Outputs returns the reference and candidate outputs, if they were computed.
func (f *Fixture) Outputs() (reference, candidate []*tensors.Tensor) { return f.reference, f.candidate }

// transition panics if the transition is not allowed: it's a bug in the caller.
func (f *Fixture) transition(to State) {
	if !isAllowedTransition(f.state, to) {
		exceptions.Panicf("fixture %s: disallowed transition %s -> %s", f.spec.Key, f.state, to)
	}
	klog.V(2).Infof("fixture %s: %s -> %s", f.spec.Key, f.state, to)
	f.state = to
	f.history = append(f.history, to)
}

// generateInputs always starts from a freshly seeded generator, so every call yields the same values.
func (f *Fixture) generateInputs() ([]*tensors.Tensor, error) {
	rng := tensors.NewRNG(f.spec.Seed)
	inputs := make([]*tensors.Tensor, len(f.spec.InputShapes))
	for ii, shape := range f.spec.InputShapes {
		var err error
		inputs[ii], err = tensors.Random(rng, shape)
		if err != nil {
			return nil, errors.WithMessagef(err, "fixture %s: generating input #%d", f.spec.Key, ii)
		}
	}
	return inputs, nil
}

// Run executes the fixture.
//
// It returns OutcomeSkipped if the previous stage fails, OutcomeFailed with a *compare.Mismatch in the error chain
// if the outputs differ, or OutcomeFailed with another error if the fixture couldn't be executed
// (e.g. compcache.ErrSpecMismatch).
func (f *Fixture) Run(ctx context.Context) (Outcome, error) {
	var err error
	f.inputs, err = f.generateInputs()
	if err != nil {
		return OutcomeFailed, err
	}
	f.transition(StatePrepared)

	if f.deps.Bisection != nil && f.deps.Bisection.PriorStageFailed(ctx) {
		f.transition(StateSkipped)
		return OutcomeSkipped, nil
	}

	f.transition(StateRunReference)
	cache, err := f.deps.Table.For(f.spec.Key, f.spec.InputShapes)
	if err != nil {
		return OutcomeFailed, err
	}
	var exec backends.Executable
	if f.deps.Config.ReferenceViaCompilation {
		exec, err = cache.Unaccelerated()
	} else {
		exec, err = cache.Eager()
	}
	if err != nil {
		return OutcomeFailed, err
	}
	if f.reference, err = f.execute(exec, "reference"); err != nil {
		return OutcomeFailed, err
	}

	f.transition(StateRunCandidate)
	if f.deps.Config.AccelEnabled {
		exec, err = cache.Accelerated()
	} else {
		exec, err = cache.Unaccelerated()
	}
	if err != nil {
		return OutcomeFailed, err
	}
	if f.candidate, err = f.execute(exec, "candidate"); err != nil {
		return OutcomeFailed, err
	}

	f.transition(StateCompared)
	if err := f.deps.Compare.Compare(f.reference, f.candidate); err != nil {
		return OutcomeFailed, errors.WithMessagef(err, "fixture %s", f.spec.Key)
	}
	f.transition(StateDone)
	return OutcomePassed, nil
}

// execute re-generates the inputs from the seed and calls exec with them.
func (f *Fixture) execute(exec backends.Executable, path string) ([]*tensors.Tensor, error) {
	inputs, err := f.generateInputs()
	if err != nil {
		return nil, err
	}
	outputs, err := exec.Call(inputs...)
	if err != nil {
		return nil, errors.WithMessagef(err, "fixture %s: executing the %s path", f.spec.Key, path)
	}
	return outputs, nil
}

// TB is the subset of testing.TB used by Test.
type TB interface {
	Helper()
	Context() context.Context
	Skipf(format string, args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// Test runs the fixture and reports its outcome to t: skipped fixtures call t.Skipf, failed ones t.Fatalf.
func (f *Fixture) Test(t TB) {
	t.Helper()
	outcome, err := f.Run(t.Context())
	switch outcome {
	case OutcomeSkipped:
		t.Skipf("fixture %s skipped: the previous stage already fails", f.spec.Key)
	case OutcomeFailed:
		if _, isMismatch := compare.AsMismatch(err); isMismatch {
			t.Fatalf("%v", err)
		} else {
			t.Fatalf("%+v", err)
		}
	default:
		t.Logf("fixture %s passed", f.spec.Key)
	}
}

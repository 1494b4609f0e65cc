// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gomlx/stagecheck/backends"
	"github.com/gomlx/stagecheck/internal/workerspool"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/pkg/errors"
)

// executable implements backends.Executable for a compiled program.
type executable struct {
	prog  *program
	flags Flags
	pool  *workerspool.Pool

	// plans caches the materialized transpose plans, per concrete inputs shapes and per instruction.
	// Only used if flags.MaterializeLayout is set.
	mu    sync.Mutex
	plans map[string]map[int]*transposePlan
}

var _ backends.Executable = (*executable)(nil)

func newExecutable(prog *program, flags Flags, parallelism int) *executable {
	return &executable{
		prog:  prog,
		flags: flags,
		pool:  workerspool.New(parallelism),
		plans: make(map[string]map[int]*transposePlan),
	}
}

func inputsKey(inputs []*tensors.Tensor) string {
	parts := make([]string, len(inputs))
	for ii, input := range inputs {
		parts[ii] = input.Shape().Key()
	}
	return strings.Join(parts, ";")
}

// planFor returns the transpose plan of the instruction for the given operand dimensions.
func (e *executable) planFor(key string, instIdx int, operandDims, permutation []int) *transposePlan {
	if !e.flags.MaterializeLayout {
		return newTransposePlan(operandDims, permutation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	perInstruction, found := e.plans[key]
	if !found {
		perInstruction = make(map[int]*transposePlan)
		e.plans[key] = perInstruction
	}
	plan, found := perInstruction[instIdx]
	if !found {
		plan = newTransposePlan(operandDims, permutation)
		plan.materialize()
		perInstruction[instIdx] = plan
	}
	return plan
}

// numMaterializedPlans is used for testing.
func (e *executable) numMaterializedPlans() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var count int
	for _, perInstruction := range e.plans {
		count += len(perInstruction)
	}
	return count
}

// Call implements backends.Executable.
func (e *executable) Call(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	prog := e.prog
	if len(inputs) != len(prog.paramSpecs) {
		return nil, errors.Errorf("simplego: %q takes %d inputs, %d given", prog.name, len(prog.paramSpecs), len(inputs))
	}
	inputShapes := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		if input == nil {
			return nil, errors.Errorf("simplego: %q input #%d is nil", prog.name, ii)
		}
		inputShapes[ii] = input.Shape()
	}
	if e.flags.VerifyShapes {
		if _, err := shapes.ExtractAllBindings(prog.paramSpecs, inputShapes); err != nil {
			return nil, errors.WithMessagef(err, "simplego: inputs of %q don't match the compiled specification %v",
				prog.name, prog.paramSpecs)
		}
	}

	key := inputsKey(inputs)
	registers := make([]*tensors.Tensor, len(prog.instructions))
	for idx, inst := range prog.instructions {
		var err error
		switch inst.op {
		case graph.NodeTypeParameter:
			registers[idx] = inputs[inst.paramIndex]
		case graph.NodeTypeTranspose:
			operand := registers[inst.inputs[0]]
			if operand.Rank() != len(inst.permutation) {
				return nil, errors.Errorf("simplego: %q instruction %%%d: permutation %v for operand of shape %s",
					prog.name, idx, inst.permutation, operand.Shape())
			}
			plan := e.planFor(key, idx, operand.Shape().Dimensions, inst.permutation)
			registers[idx], err = execTranspose(e.pool, plan, operand)
		case graph.NodeTypeConvertDType:
			registers[idx], err = execConvertDType(registers[inst.inputs[0]], inst.dtype)
		default:
			err = errors.Errorf("op %s not supported", inst.op)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "simplego: executing %q instruction %%%d", prog.name, idx)
		}
	}
	outputs := make([]*tensors.Tensor, len(prog.outputs))
	for ii, output := range prog.outputs {
		outputs[ii] = registers[output]
	}
	return outputs, nil
}

// String implements fmt.Stringer.
func (e *executable) String() string {
	return fmt.Sprintf("simplego.Executable(%q, %s):\n%s", e.prog.name, e.flags, e.prog)
}

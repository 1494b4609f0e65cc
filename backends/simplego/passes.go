// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"slices"

	"github.com/gomlx/stagecheck/pkg/core/graph"
)

// optimize returns a copy of the program rewritten by the passes enabled in flags.
func optimize(p *program, flags Flags) *program {
	p = p.clone()
	if flags.FoldTransposes {
		foldTransposes(p)
	}
	if flags.EliminateIdentityTranspose {
		eliminateIdentityTransposes(p)
	}
	return removeDeadInstructions(p)
}

func (p *program) clone() *program {
	p2 := &program{
		name:         p.name,
		paramSpecs:   slices.Clone(p.paramSpecs),
		instructions: make([]instruction, len(p.instructions)),
		outputs:      slices.Clone(p.outputs),
	}
	for idx, inst := range p.instructions {
		inst.inputs = slices.Clone(inst.inputs)
		inst.permutation = slices.Clone(inst.permutation)
		p2.instructions[idx] = inst
	}
	return p2
}

// foldTransposes rewrites Transpose(Transpose(x, p1), p2) as Transpose(x, p1∘p2).
// Instructions are visited in topological order, so whole chains collapse into their first operand.
func foldTransposes(p *program) {
	for idx := range p.instructions {
		inst := &p.instructions[idx]
		if inst.op != graph.NodeTypeTranspose {
			continue
		}
		operand := p.instructions[inst.inputs[0]]
		if operand.op != graph.NodeTypeTranspose {
			continue
		}
		composed := make([]int, len(inst.permutation))
		for axis, fromAxis := range inst.permutation {
			composed[axis] = operand.permutation[fromAxis]
		}
		inst.permutation = composed
		inst.inputs[0] = operand.inputs[0]
	}
}

func isIdentityPermutation(permutation []int) bool {
	for axis, fromAxis := range permutation {
		if axis != fromAxis {
			return false
		}
	}
	return true
}

// eliminateIdentityTransposes forwards the operand of transposes with an identity permutation
// to all their users.
func eliminateIdentityTransposes(p *program) {
	alias := make([]int, len(p.instructions))
	for idx := range p.instructions {
		alias[idx] = idx
		inst := &p.instructions[idx]
		for ii, input := range inst.inputs {
			inst.inputs[ii] = alias[input]
		}
		if inst.op == graph.NodeTypeTranspose && isIdentityPermutation(inst.permutation) {
			alias[idx] = inst.inputs[0]
		}
	}
	for ii, output := range p.outputs {
		p.outputs[ii] = alias[output]
	}
}

// removeDeadInstructions drops instructions not reachable from the outputs and renumbers the registers.
func removeDeadInstructions(p *program) *program {
	live := make([]bool, len(p.instructions))
	for _, output := range p.outputs {
		live[output] = true
	}
	for idx := len(p.instructions) - 1; idx >= 0; idx-- {
		if !live[idx] {
			continue
		}
		for _, input := range p.instructions[idx].inputs {
			live[input] = true
		}
	}

	newIndex := make([]int, len(p.instructions))
	result := &program{name: p.name, paramSpecs: p.paramSpecs}
	for idx, inst := range p.instructions {
		if !live[idx] {
			newIndex[idx] = -1
			continue
		}
		for ii, input := range inst.inputs {
			inst.inputs[ii] = newIndex[input]
		}
		newIndex[idx] = len(result.instructions)
		result.instructions = append(result.instructions, inst)
	}
	for _, output := range p.outputs {
		result.outputs = append(result.outputs, newIndex[output])
	}
	return result
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/pkg/errors"
)

// instruction of a lowered program. Its result is stored in the register with the same index.
type instruction struct {
	op     graph.NodeType
	inputs []int

	// paramIndex for NodeTypeParameter.
	paramIndex int

	// permutation for NodeTypeTranspose.
	permutation []int

	// dtype of the result, used by NodeTypeConvertDType.
	dtype dtypes.DType
}

// program is a graph lowered to a list of instructions in topological order.
type program struct {
	name         string
	paramSpecs   []shapes.Shape
	instructions []instruction
	outputs      []int
}

func lower(g *graph.Graph) (*program, error) {
	if len(g.Outputs()) == 0 {
		return nil, errors.Errorf("simplego: graph %q has no outputs", g.Name())
	}
	prog := &program{name: g.Name()}
	for _, param := range g.Parameters() {
		prog.paramSpecs = append(prog.paramSpecs, param.Shape().Clone())
	}
	for _, node := range g.Nodes() {
		inst := instruction{op: node.Type(), dtype: node.DType()}
		for _, input := range node.Inputs() {
			inst.inputs = append(inst.inputs, input.ID())
		}
		switch node.Type() {
		case graph.NodeTypeParameter:
			inst.paramIndex = node.ParameterIndex()
		case graph.NodeTypeTranspose:
			inst.permutation = node.Permutation()
		case graph.NodeTypeConvertDType:
		default:
			return nil, errors.Errorf("simplego: graph %q: op %s not supported", g.Name(), node.Type())
		}
		prog.instructions = append(prog.instructions, inst)
	}
	for _, output := range g.Outputs() {
		prog.outputs = append(prog.outputs, output.ID())
	}
	return prog, nil
}

// String pretty-prints the program.
func (p *program) String() string {
	var sb strings.Builder
	for idx, inst := range p.instructions {
		switch inst.op {
		case graph.NodeTypeParameter:
			_, _ = fmt.Fprintf(&sb, "\t%%%d = Parameter(%d) %s\n", idx, inst.paramIndex, p.paramSpecs[inst.paramIndex])
		case graph.NodeTypeTranspose:
			_, _ = fmt.Fprintf(&sb, "\t%%%d = Transpose(%%%d, %v)\n", idx, inst.inputs[0], inst.permutation)
		case graph.NodeTypeConvertDType:
			_, _ = fmt.Fprintf(&sb, "\t%%%d = ConvertDType(%%%d, %s)\n", idx, inst.inputs[0], inst.dtype)
		}
	}
	outputs := make([]string, len(p.outputs))
	for ii, out := range p.outputs {
		outputs[ii] = fmt.Sprintf("%%%d", out)
	}
	_, _ = fmt.Fprintf(&sb, "\treturn %s\n", strings.Join(outputs, ", "))
	return sb.String()
}

// numOps returns the number of instructions of the given type.
func (p *program) numOps(op graph.NodeType) int {
	var count int
	for _, inst := range p.instructions {
		if inst.op == op {
			count++
		}
	}
	return count
}

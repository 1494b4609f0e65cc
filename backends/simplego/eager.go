// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/stagecheck/backends"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/pkg/errors"
)

// eagerExecutable builds the graph for the concrete shapes of each call and interprets it node by node.
// No passes are applied and nothing is cached: it's the slowest but most direct way of running a graph.
type eagerExecutable struct {
	name string
	fn   graph.Fn
}

var _ backends.Executable = (*eagerExecutable)(nil)

// Call implements backends.Executable.
func (e *eagerExecutable) Call(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	specs := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		if input == nil {
			return nil, errors.Errorf("simplego: eager %q input #%d is nil", e.name, ii)
		}
		specs[ii] = input.Shape()
	}
	g, err := graph.Build(e.name, e.fn, specs)
	if err != nil {
		return nil, err
	}
	values := make([]*tensors.Tensor, len(g.Nodes()))
	for _, node := range g.Nodes() {
		var value *tensors.Tensor
		switch node.Type() {
		case graph.NodeTypeParameter:
			value = inputs[node.ParameterIndex()]
		case graph.NodeTypeTranspose:
			operand := values[node.Inputs()[0].ID()]
			value, err = execTranspose(nil, newTransposePlan(operand.Shape().Dimensions, node.Permutation()), operand)
		case graph.NodeTypeConvertDType:
			value, err = execConvertDType(values[node.Inputs()[0].ID()], node.DType())
		default:
			err = errors.Errorf("op %s not supported", node.Type())
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "simplego: eager %q node %s", e.name, node)
		}
		values[node.ID()] = value
	}
	outputs := make([]*tensors.Tensor, len(g.Outputs()))
	for ii, node := range g.Outputs() {
		outputs[ii] = values[node.ID()]
	}
	return outputs, nil
}

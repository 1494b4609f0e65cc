// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph defines the small computation graph that backends compile and execute.
//
// A graph is built by a Fn, given the parameters created from an input specification:
//
//	transposeFn := func(g *graph.Graph, params []*graph.Node) []*graph.Node {
//		return []*graph.Node{graph.TransposeAllAxes(params[0], 1, 0)}
//	}
//	g, err := graph.Build("transpose", transposeFn, []shapes.Shape{shapes.Make(dtypes.Float32, 2, 3)})
//
// Building functions panic (with github.com/gomlx/exceptions) on invalid operations; Build converts
// those panics to errors.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Fn builds the computation given the graph parameters and returns its outputs.
type Fn func(g *Graph, params []*Node) []*Node

// Graph holds the nodes of one computation.
type Graph struct {
	name       string
	nodes      []*Node
	parameters []*Node
	outputs    []*Node
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{name: name}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// Nodes returns all nodes in creation order, which is a valid topological order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Parameters returns the parameter nodes, in order.
func (g *Graph) Parameters() []*Node { return g.parameters }

// Outputs returns the nodes marked as outputs by Build or SetOutputs.
func (g *Graph) Outputs() []*Node { return g.outputs }

// SetOutputs marks the outputs of the graph.
func (g *Graph) SetOutputs(outputs ...*Node) {
	for ii, node := range outputs {
		if node == nil {
			exceptions.Panicf("graph %q: output #%d is nil", g.name, ii)
		}
		if node.graph != g {
			exceptions.Panicf("graph %q: output #%d belongs to graph %q", g.name, ii, node.graph.name)
		}
	}
	g.outputs = slices.Clone(outputs)
}

func (g *Graph) newNode(opType NodeType, shape shapes.Shape, inputs ...*Node) *Node {
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("%s: input #%d is nil", opType, ii)
		}
		if input.graph != g {
			exceptions.Panicf("%s: input #%d belongs to graph %q, not %q", opType, ii, input.graph.name, g.name)
		}
	}
	node := &Node{
		graph:  g,
		id:     len(g.nodes),
		opType: opType,
		shape:  shape,
		inputs: inputs,
	}
	g.nodes = append(g.nodes, node)
	return node
}

// Parameter creates a new input of the graph. The shape may have symbolic axes.
func (g *Graph) Parameter(name string, shape shapes.Shape) *Node {
	if !shape.Ok() {
		exceptions.Panicf("Parameter(%q): invalid shape", name)
	}
	node := g.newNode(NodeTypeParameter, shape.Clone())
	node.name = name
	node.paramIndex = len(g.parameters)
	g.parameters = append(g.parameters, node)
	return node
}

// Build creates a graph with one parameter per spec, calls fn and marks its results as outputs.
// Panics during building are returned as errors.
func Build(name string, fn Fn, specs []shapes.Shape) (g *Graph, err error) {
	err = exceptions.TryCatch[error](func() {
		g = New(name)
		params := make([]*Node, len(specs))
		for ii, spec := range specs {
			params[ii] = g.Parameter(fmt.Sprintf("arg#%d", ii), spec)
		}
		outputs := fn(g, params)
		if len(outputs) == 0 {
			exceptions.Panicf("graph %q has no outputs", name)
		}
		g.SetOutputs(outputs...)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build graph %q", name)
	}
	return g, nil
}

// String pretty-prints the graph, one node per line.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %q:\n", g.name)
	for _, node := range g.nodes {
		_, _ = fmt.Fprintf(&sb, "\t%s\n", node)
	}
	ids := make([]string, len(g.outputs))
	for ii, node := range g.outputs {
		ids[ii] = fmt.Sprintf("#%d", node.id)
	}
	_, _ = fmt.Fprintf(&sb, "\toutputs: [%s]\n", strings.Join(ids, ", "))
	return sb.String()
}

// Transpose swaps two axes of x.
func Transpose(x *Node, axisA, axisB int) *Node {
	rank := x.Rank()
	axes := []int{axisA, axisB}
	for ii, axis := range axes {
		if axis < 0 {
			axes[ii] = rank + axis
		}
		if axes[ii] >= rank || axes[ii] < 0 {
			exceptions.Panicf("in Transpose(x, %d, %d), passed axis %d which is out-of-limits for x rank %d",
				axisA, axisB, axis, rank)
		}
	}
	permutation := make([]int, rank)
	for axis := range permutation {
		permutation[axis] = axis
	}
	permutation[axes[0]], permutation[axes[1]] = axes[1], axes[0]
	return TransposeAllAxes(x, permutation...)
}

// TransposeAllAxes permutes the axes of x: output dimension i is input dimension permutation[i].
// Negative values count from the end.
func TransposeAllAxes(x *Node, permutation ...int) *Node {
	rank := x.Rank()
	if len(permutation) != rank {
		exceptions.Panicf("in TransposeAllAxes(x, %v), there must be one axis per dimension of x, but x has rank %d",
			permutation, rank)
	}
	permutation = slices.Clone(permutation)
	used := make([]bool, rank)
	for ii, axis := range permutation {
		if axis < 0 {
			axis = rank + axis
			permutation[ii] = axis
		}
		if axis >= rank || axis < 0 {
			exceptions.Panicf("in TransposeAllAxes(x, %v), element %d is %d which is out-of-limits for x rank %d",
				permutation, ii, axis, rank)
		}
		if used[axis] {
			exceptions.Panicf("in TransposeAllAxes(x, %v), axis %d appears more than once", permutation, axis)
		}
		used[axis] = true
	}
	node := x.graph.newNode(NodeTypeTranspose, TransposedShape(x.shape, permutation), x)
	node.permutation = permutation
	return node
}

// TransposedShape returns the shape of operand after permuting its axes.
// Symbolic axes keep their names.
func TransposedShape(operand shapes.Shape, permutation []int) shapes.Shape {
	output := shapes.Shape{DType: operand.DType, Dimensions: make([]int, len(permutation))}
	if operand.AxisNames != nil {
		output.AxisNames = make([]string, len(permutation))
	}
	for axis, fromAxis := range permutation {
		output.Dimensions[axis] = operand.Dimensions[fromAxis]
		if output.AxisNames != nil {
			output.AxisNames[axis] = operand.AxisNames[fromAxis]
		}
	}
	return output
}

// ConvertDType converts x to the given dtype.
func ConvertDType(x *Node, dtype dtypes.DType) *Node {
	if dtype == dtypes.InvalidDType || dtype.GoType() == nil {
		exceptions.Panicf("ConvertDType(x, %s): dtype not supported", dtype)
	}
	shape := x.shape.Clone()
	shape.DType = dtype
	return x.graph.newNode(NodeTypeConvertDType, shape, x)
}

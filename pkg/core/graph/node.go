// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
)

// NodeType enumerates the supported operations.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeParameter
	NodeTypeTranspose
	NodeTypeConvertDType
)

var nodeTypeNames = map[NodeType]string{
	NodeTypeInvalid:      "Invalid",
	NodeTypeParameter:    "Parameter",
	NodeTypeTranspose:    "Transpose",
	NodeTypeConvertDType: "ConvertDType",
}

// String implements fmt.Stringer.
func (t NodeType) String() string {
	if name, found := nodeTypeNames[t]; found {
		return name
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Node is the result of one operation in a Graph.
type Node struct {
	graph  *Graph
	id     int
	opType NodeType
	shape  shapes.Shape
	inputs []*Node

	// Static attributes, set depending on opType.
	name        string
	paramIndex  int
	permutation []int
}

// Graph the node belongs to.
func (n *Node) Graph() *Graph { return n.graph }

// ID of the node within its graph.
func (n *Node) ID() int { return n.id }

// Type of the operation.
func (n *Node) Type() NodeType { return n.opType }

// Shape of the node output. It may have symbolic axes.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType of the node output.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Rank of the node output.
func (n *Node) Rank() int { return n.shape.Rank() }

// Inputs of the node.
func (n *Node) Inputs() []*Node { return n.inputs }

// Permutation of a Transpose node, nil otherwise.
func (n *Node) Permutation() []int { return n.permutation }

// ParameterIndex of a Parameter node.
func (n *Node) ParameterIndex() int { return n.paramIndex }

// ParameterName of a Parameter node.
func (n *Node) ParameterName() string { return n.name }

// String implements fmt.Stringer.
func (n *Node) String() string {
	var parts []string
	for _, input := range n.inputs {
		parts = append(parts, fmt.Sprintf("#%d", input.id))
	}
	switch n.opType {
	case NodeTypeParameter:
		parts = append(parts, fmt.Sprintf("name=%q", n.name))
	case NodeTypeTranspose:
		parts = append(parts, fmt.Sprintf("permutation=%v", n.permutation))
	}
	return fmt.Sprintf("#%d %s(%s) -> %s", n.id, n.opType, strings.Join(parts, ", "), n.shape)
}

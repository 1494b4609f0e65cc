// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dtype and dimensions of a tensor or of a graph node.
//
// A Shape used as an input specification may have symbolic axes: their dimension is DimDynamic
// and, optionally, they carry a name in AxisNames. Axes with the same name must be bound to the
// same concrete dimension. Concrete shapes (the ones of actual tensors) never have DimDynamic axes.
//
// DTypes are the ones enumerated in github.com/gomlx/gopjrt/dtypes.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// DimDynamic marks an axis whose dimension is only known at execution time.
const DimDynamic = -1

// Shape of a tensor or of the expected value of a computation node.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int

	// AxisNames is either nil or has one entry per axis. Only meaningful for DimDynamic axes.
	AxisNames []string
}

// Make returns a concrete Shape. It panics if any dimension is negative.
//
// Zero dimensions are accepted: they represent empty tensors.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a concrete shape with a negative dimension, "+
				"see MakeDynamic for symbolic axes", s)
		}
	}
	return s
}

// MakeDynamic returns a Shape that may have symbolic axes, marked with DimDynamic.
// It's used as an input specification for compilation.
func MakeDynamic(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 && dim != DimDynamic {
			exceptions.Panicf("shapes.MakeDynamic(%s): invalid dimension %d", s, dim)
		}
	}
	return s
}

// Invalid returns an invalid shape.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has no axes.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// AxisName returns the name of the axis, or "" if it has none.
func (s Shape) AxisName(axis int) string {
	if axis < 0 || axis >= len(s.AxisNames) {
		return ""
	}
	return s.AxisNames[axis]
}

// WithAxisName returns a copy of the shape with the given axis made symbolic and named.
func (s Shape) WithAxisName(axis int, name string) Shape {
	s2 := s.Clone()
	if axis < 0 {
		axis += s.Rank()
	}
	if axis < 0 || axis >= s.Rank() {
		exceptions.Panicf("Shape.WithAxisName(%d, %q) out-of-bounds for shape %s", axis, name, s)
	}
	if s2.AxisNames == nil {
		s2.AxisNames = make([]string, s.Rank())
	}
	s2.Dimensions[axis] = DimDynamic
	s2.AxisNames[axis] = name
	return s2
}

// IsDynamic returns whether any axis is symbolic.
func (s Shape) IsDynamic() bool {
	return slices.Contains(s.Dimensions, DimDynamic)
}

// Size returns the number of elements. It panics for dynamic shapes.
func (s Shape) Size() int {
	size := 1
	for axis, d := range s.Dimensions {
		if d == DimDynamic {
			exceptions.Panicf("Shape.Size() of shape %s with a dynamic axis #%d", s, axis)
		}
		size *= d
	}
	return size
}

// IsZeroSize returns whether any axis has dimension 0.
func (s Shape) IsZeroSize() bool {
	return slices.Contains(s.Dimensions, 0)
}

// Shape returns itself. It implements HasShape.
func (s Shape) Shape() Shape { return s }

// HasShape is implemented by anything with a shape, like tensors or graph nodes.
type HasShape interface {
	Shape() Shape
}

// Equal compares dtype, dimensions and axis names.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType || !slices.Equal(s.Dimensions, s2.Dimensions) {
		return false
	}
	for axis := range s.Dimensions {
		if s.AxisName(axis) != s2.AxisName(axis) {
			return false
		}
	}
	return true
}

// EqualDimensions compares only the dimensions. DTypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{
		DType:      s.DType,
		Dimensions: slices.Clone(s.Dimensions),
		AxisNames:  slices.Clone(s.AxisNames),
	}
}

// String pretty-prints the shape, e.g. "(Float32)[batch 3 4]".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, s.Rank())
	for axis, dim := range s.Dimensions {
		switch {
		case dim != DimDynamic:
			parts[axis] = fmt.Sprintf("%d", dim)
		case s.AxisName(axis) != "":
			parts[axis] = s.AxisName(axis)
		default:
			parts[axis] = "?"
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Key returns a compact string identifying the shape, e.g. "float32_2x3x4".
// Symbolic axes are printed with their name, or "d" if unnamed.
func (s Shape) Key() string {
	parts := make([]string, s.Rank())
	for axis, dim := range s.Dimensions {
		if dim == DimDynamic {
			parts[axis] = "d"
			if name := s.AxisName(axis); name != "" {
				parts[axis] = name
			}
			continue
		}
		parts[axis] = fmt.Sprintf("%d", dim)
	}
	dtypeName := strings.ToLower(s.DType.String())
	if len(parts) == 0 {
		return dtypeName
	}
	return fmt.Sprintf("%s_%s", dtypeName, strings.Join(parts, "x"))
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor, a host-resident multidimensional array used as input and output
// of the backends' executables.
//
// A Tensor is defined by its shape (a dtypes.DType and its axes' dimensions) and its content, always stored
// as a flat (1D) Go slice of the type corresponding to the DType, in row-major order.
//
// Ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): zero values.
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): takes ownership of data.
//     Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromScalar[T dtypes.Supported](value T): a scalar.
//   - FromFlatAny(flat any, dimensions ...int): non-generic version, used by the backends.
//
// Tensors are immutable after construction from the point of view of the executables: kernels always
// allocate new outputs.
package tensors

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor is a multidimensional array stored as a flat slice.
type Tensor struct {
	shape shapes.Shape

	// flat holds the slice of the Go type of shape.DType, with shape.Size() elements.
	flat any
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements of the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Flat returns the underlying flat slice, e.g. []float32. It's owned by the Tensor and should not be changed.
func (t *Tensor) Flat() any { return t.flat }

// AssertValid panics if the tensor is nil or was not properly constructed.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensor is nil")
	}
	if !t.shape.Ok() || t.flat == nil {
		exceptions.Panicf("tensor has invalid shape %s or no data", t.shape)
	}
}

// FromShape returns a Tensor with the given concrete shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	if shape.IsDynamic() {
		exceptions.Panicf("tensors.FromShape(%s): shape has symbolic axes", shape)
	}
	goType := shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype has no Go equivalent", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface(),
	}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, and takes ownership of data.
// It panics if the size of data doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(): data has %d elements, but shape %s requires %d",
			len(data), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: data}
}

// FromScalar returns a scalar tensor with the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// FromFlatAny is the non-generic version of FromFlatDataAndDimensions: flat must be a slice of a
// supported type.
func FromFlatAny(flat any, dimensions ...int) (*Tensor, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("tensors.FromFlatAny(): expected a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("tensors.FromFlatAny(): unsupported element type %s", flatV.Type().Elem())
	}
	for _, dim := range dimensions {
		if dim < 0 {
			return nil, errors.Errorf("tensors.FromFlatAny(): invalid dimensions %v", dimensions)
		}
	}
	shape := shapes.Make(dtype, dimensions...)
	if flatV.Len() != shape.Size() {
		return nil, errors.Errorf("tensors.FromFlatAny(): data has %d elements, but shape %s requires %d",
			flatV.Len(), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: flat}, nil
}

// ConstFlatData calls accessFn with the flat data, typed. It panics if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.AssertValid()
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("ConstFlatData[%T]: tensor has dtype %s (flat %T)", flat, t.shape.DType, t.flat)
	}
	accessFn(flat)
}

// CopyFlatData returns a copy of the flat data, typed.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var result []T
	ConstFlatData(t, func(flat []T) { result = slices.Clone(flat) })
	return result
}

// ToScalar returns the value of a scalar tensor.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if !t.IsScalar() {
		exceptions.Panicf("ToScalar: tensor with shape %s is not a scalar", t.shape)
	}
	var v T
	ConstFlatData(t, func(flat []T) { v = flat[0] })
	return v
}

// LayoutStrides returns the strides of each axis, in number of elements, for the row-major layout.
func (t *Tensor) LayoutStrides() []int {
	return Strides(t.shape.Dimensions)
}

// Strides returns the row-major strides for the given dimensions.
func Strides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// UnravelIndex converts a flat index to per-axis indices.
func UnravelIndex(flatIdx int, dimensions []int) []int {
	indices := make([]int, len(dimensions))
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		if dimensions[axis] == 0 {
			return indices
		}
		indices[axis] = flatIdx % dimensions[axis]
		flatIdx /= dimensions[axis]
	}
	return indices
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	const maxElements = 16
	flatV := reflect.ValueOf(t.flat)
	if flatV.Len() > maxElements {
		return fmt.Sprintf("%s: %v...", t.shape, flatV.Slice(0, maxElements).Interface())
	}
	return fmt.Sprintf("%s: %v", t.shape, t.flat)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// execConvertDType converts element by element, going through complex128.
// Conversions to bool yield true for non-zero values; conversions from complex drop the imaginary part.
// Integers beyond 2^53 lose precision.
func execConvertDType(operand *tensors.Tensor, dtype dtypes.DType) (*tensors.Tensor, error) {
	if operand.DType() == dtype {
		return operand, nil
	}
	output := tensors.FromShape(shapes.Make(dtype, operand.Shape().Dimensions...))
	read, err := elementReader(operand.Flat())
	if err != nil {
		return nil, err
	}
	write, err := elementWriter(output.Flat())
	if err != nil {
		return nil, err
	}
	for ii := range operand.Size() {
		write(ii, read(ii))
	}
	return output, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func elementReader(flat any) (func(int) complex128, error) {
	switch f := flat.(type) {
	case []float32:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []float64:
		return func(i int) complex128 { return complex(f[i], 0) }, nil
	case []float16.Float16:
		return func(i int) complex128 { return complex(float64(f[i].Float32()), 0) }, nil
	case []bfloat16.BFloat16:
		return func(i int) complex128 { return complex(float64(f[i].Float32()), 0) }, nil
	case []int8:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []int16:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []int32:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []int64:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []uint8:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []uint16:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []uint32:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []uint64:
		return func(i int) complex128 { return complex(float64(f[i]), 0) }, nil
	case []bool:
		return func(i int) complex128 { return complex(boolToFloat(f[i]), 0) }, nil
	case []complex64:
		return func(i int) complex128 { return complex128(f[i]) }, nil
	case []complex128:
		return func(i int) complex128 { return f[i] }, nil
	}
	return nil, errors.Errorf("simplego: ConvertDType from %T not implemented", flat)
}

func elementWriter(flat any) (func(int, complex128), error) {
	switch f := flat.(type) {
	case []float32:
		return func(i int, v complex128) { f[i] = float32(real(v)) }, nil
	case []float64:
		return func(i int, v complex128) { f[i] = real(v) }, nil
	case []float16.Float16:
		return func(i int, v complex128) { f[i] = float16.Fromfloat32(float32(real(v))) }, nil
	case []bfloat16.BFloat16:
		return func(i int, v complex128) { f[i] = bfloat16.FromFloat32(float32(real(v))) }, nil
	case []int8:
		return func(i int, v complex128) { f[i] = int8(real(v)) }, nil
	case []int16:
		return func(i int, v complex128) { f[i] = int16(real(v)) }, nil
	case []int32:
		return func(i int, v complex128) { f[i] = int32(real(v)) }, nil
	case []int64:
		return func(i int, v complex128) { f[i] = int64(real(v)) }, nil
	case []uint8:
		return func(i int, v complex128) { f[i] = uint8(real(v)) }, nil
	case []uint16:
		return func(i int, v complex128) { f[i] = uint16(real(v)) }, nil
	case []uint32:
		return func(i int, v complex128) { f[i] = uint32(real(v)) }, nil
	case []uint64:
		return func(i int, v complex128) { f[i] = uint64(real(v)) }, nil
	case []bool:
		return func(i int, v complex128) { f[i] = v != 0 }, nil
	case []complex64:
		return func(i int, v complex128) { f[i] = complex64(v) }, nil
	case []complex128:
		return func(i int, v complex128) { f[i] = v }, nil
	}
	return nil, errors.Errorf("simplego: ConvertDType to %T not implemented", flat)
}

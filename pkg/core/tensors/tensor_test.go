// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestConstructors(t *testing.T) {
	x := FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.Equal(t, dtypes.Int32, x.DType())
	require.Equal(t, []int{2, 3}, x.Shape().Dimensions)
	require.Equal(t, []int32{1, 2, 3, 4, 5, 6}, CopyFlatData[int32](x))
	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]int32{1, 2}, 3) })
	require.Panics(t, func() { _ = CopyFlatData[float32](x) })

	s := FromScalar(float16.Fromfloat32(1.5))
	require.True(t, s.IsScalar())
	require.Equal(t, dtypes.Float16, s.DType())
	require.Equal(t, float32(1.5), ToScalar[float16.Float16](s).Float32())

	z := FromShape(shapes.Make(dtypes.BFloat16, 2, 2))
	require.Equal(t, []bfloat16.BFloat16{0, 0, 0, 0}, CopyFlatData[bfloat16.BFloat16](z))

	empty := FromShape(shapes.Make(dtypes.Float32, 0, 3))
	require.Equal(t, 0, empty.Size())

	anyT, err := FromFlatAny([]uint8{1, 2}, 2)
	require.NoError(t, err)
	require.Equal(t, dtypes.Uint8, anyT.DType())
	_, err = FromFlatAny([]uint8{1, 2}, 3)
	require.Error(t, err)
	_, err = FromFlatAny(7, 1)
	require.Error(t, err)
}

func TestStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Strides([]int{2, 3, 4}))
	assert.Equal(t, []int{}, Strides([]int{}))
	assert.Equal(t, []int{1, 2, 3}, UnravelIndex(1*12+2*4+3, []int{2, 3, 4}))
}

func TestRandomIsDeterministic(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.BFloat16, dtypes.Int64,
		dtypes.Uint8, dtypes.Bool, dtypes.Complex64} {
		t.Run(dtype.String(), func(t *testing.T) {
			shape := shapes.Make(dtype, 3, 5)
			x0, err := Random(NewRNG(42), shape)
			require.NoError(t, err)
			x1, err := Random(NewRNG(42), shape)
			require.NoError(t, err)
			require.Equal(t, x0.Flat(), x1.Flat())
			x2, err := Random(NewRNG(43), shape)
			require.NoError(t, err)
			if dtype != dtypes.Bool {
				require.NotEqual(t, x0.Flat(), x2.Flat())
			}
		})
	}

	_, err := Random(NewRNG(1), shapes.MakeDynamic(dtypes.Float32, shapes.DimDynamic))
	require.Error(t, err)
}

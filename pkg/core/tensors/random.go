// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math/rand/v2"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// NewRNG returns a deterministic random number generator for the given seed.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Random returns a tensor of the given concrete shape filled with values drawn from rng:
//
//   - floats: uniform in [-1, 1).
//   - signed integers: uniform in [-100, 100).
//   - unsigned integers: uniform in [0, 200).
//   - bool: fair coin.
//   - complex: real and imaginary parts uniform in [-1, 1).
//
// The values only depend on the state of rng and the shape.
func Random(rng *rand.Rand, shape shapes.Shape) (*Tensor, error) {
	if shape.IsDynamic() {
		return nil, errors.Errorf("tensors.Random(%s): shape has symbolic axes", shape)
	}
	t := FromShape(shape)
	unit := func() float64 { return 2*rng.Float64() - 1 }
	signed := func() int64 { return rng.Int64N(200) - 100 }
	unsigned := func() uint64 { return rng.Uint64N(200) }
	switch flat := t.flat.(type) {
	case []float32:
		for ii := range flat {
			flat[ii] = float32(unit())
		}
	case []float64:
		for ii := range flat {
			flat[ii] = unit()
		}
	case []float16.Float16:
		for ii := range flat {
			flat[ii] = float16.Fromfloat32(float32(unit()))
		}
	case []bfloat16.BFloat16:
		for ii := range flat {
			flat[ii] = bfloat16.FromFloat32(float32(unit()))
		}
	case []int8:
		for ii := range flat {
			flat[ii] = int8(signed())
		}
	case []int16:
		for ii := range flat {
			flat[ii] = int16(signed())
		}
	case []int32:
		for ii := range flat {
			flat[ii] = int32(signed())
		}
	case []int64:
		for ii := range flat {
			flat[ii] = signed()
		}
	case []uint8:
		for ii := range flat {
			flat[ii] = uint8(unsigned())
		}
	case []uint16:
		for ii := range flat {
			flat[ii] = uint16(unsigned())
		}
	case []uint32:
		for ii := range flat {
			flat[ii] = uint32(unsigned())
		}
	case []uint64:
		for ii := range flat {
			flat[ii] = unsigned()
		}
	case []bool:
		for ii := range flat {
			flat[ii] = rng.IntN(2) == 1
		}
	case []complex64:
		for ii := range flat {
			flat[ii] = complex(float32(unit()), float32(unit()))
		}
	case []complex128:
		for ii := range flat {
			flat[ii] = complex(unit(), unit())
		}
	default:
		return nil, errors.Errorf("tensors.Random(%s): dtype not supported", shape)
	}
	return t, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compare

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func requireMismatch(t *testing.T, err error) *Mismatch {
	t.Helper()
	require.Error(t, err)
	m, ok := AsMismatch(err)
	require.True(t, ok, "expected *Mismatch, got %T: %v", err, err)
	return m
}

func TestFloatCloseness(t *testing.T) {
	o := New(DefaultTolerances())
	rng := tensors.NewRNG(3)
	x, err := tensors.Random(rng, shapes.Make(dtypes.Float32, 4, 5))
	require.NoError(t, err)
	require.NoError(t, o.Compare(x, x))

	// Shift every element by twice the accepted bound.
	tol := o.Tolerances.For(dtypes.Float32)
	values := tensors.CopyFlatData[float32](x)
	for ii, v := range values {
		values[ii] = v + float32(2*max(tol.Atol, tol.Rtol*math.Abs(float64(v))))
	}
	shifted := tensors.FromFlatDataAndDimensions(values, 4, 5)
	m := requireMismatch(t, o.Compare(x, shifted))
	assert.GreaterOrEqual(t, m.NumMismatches, 1)
	assert.Len(t, m.Position, 2)
	assert.Contains(t, m.Error(), "not within tolerance")
}

func TestFloat32Tolerance(t *testing.T) {
	ref := tensors.FromFlatDataAndDimensions([]float32{0, 1}, 2)
	cand := tensors.FromFlatDataAndDimensions([]float32{0.005, 1}, 2)

	o := New(TolerancesFromConfig(config.Default()))
	require.Equal(t, Tolerance{Atol: 1e-6, Rtol: 1e-6}, o.Tolerances.For(dtypes.Float32))
	m := requireMismatch(t, o.Compare(ref, cand))
	assert.Equal(t, 0, m.Index)
	assert.InDelta(t, 1e-6, m.Bound, 1e-12)

	override := 0.01
	o = New(TolerancesFromConfig(config.Config{Float32Tol: &override}))
	require.Equal(t, Tolerance{Atol: 0.01, Rtol: 0.01}, o.Tolerances.For(dtypes.Float32))
	require.NoError(t, o.Compare(ref, cand))
	// Float64 is not affected by the float32 override.
	require.Equal(t, Tolerance{Atol: 1e-6, Rtol: 1e-6}, o.Tolerances.For(dtypes.Float64))
}

func TestFloat16Tolerance(t *testing.T) {
	ref := tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(0), float16.Fromfloat32(1)}, 2)
	cand := tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(0.04), float16.Fromfloat32(1)}, 2)
	o := New(DefaultTolerances())
	requireMismatch(t, o.Compare(ref, cand))

	override := 0.05
	o = New(TolerancesFromConfig(config.Config{Float16Tol: &override}))
	require.Equal(t, Tolerance{Atol: 0.05, Rtol: 0.05}, o.Tolerances.For(dtypes.Float16))
	require.Equal(t, Tolerance{Atol: 0.05, Rtol: 0.05}, o.Tolerances.For(dtypes.BFloat16))
	require.NoError(t, o.Compare(ref, cand))
	bfRef := tensors.FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(0)}, 1)
	bfCand := tensors.FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(0.04)}, 1)
	require.NoError(t, o.Compare(bfRef, bfCand))

	// Other dtypes keep their defaults.
	require.Equal(t, Tolerance{Atol: 1e-6, Rtol: 1e-6}, o.Tolerances.For(dtypes.Float32))
	require.Equal(t, Tolerance{Atol: 1e-6, Rtol: 1e-6}, o.Tolerances.For(dtypes.Float64))
	f32Ref := tensors.FromFlatDataAndDimensions([]float32{0}, 1)
	f32Cand := tensors.FromFlatDataAndDimensions([]float32{0.04}, 1)
	requireMismatch(t, o.Compare(f32Ref, f32Cand))
}

func TestHalfPrecision(t *testing.T) {
	o := New(DefaultTolerances())
	require.Equal(t, 1e-3, o.Tolerances.For(dtypes.BFloat16).Atol)
	ref := tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(1)}, 1)
	closeEnough := tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(1.0009765625)}, 1)
	tooFar := tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(1.01)}, 1)
	require.NoError(t, o.Compare(ref, closeEnough))
	requireMismatch(t, o.Compare(ref, tooFar))

	bf := tensors.FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(0.5)}, 1)
	require.NoError(t, o.Compare(bf, bf))
}

func TestIntegersAreExact(t *testing.T) {
	o := New(Tolerances{Default: Tolerance{Atol: 10, Rtol: 10}, Float32: Tolerance{Atol: 10, Rtol: 10}})
	a := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3}, 3)
	require.NoError(t, o.Compare(a, tensors.FromFlatDataAndDimensions([]int32{1, 2, 3}, 3)))
	m := requireMismatch(t, o.Compare(a, tensors.FromFlatDataAndDimensions([]int32{1, 2, 4}, 3)))
	assert.Equal(t, 2, m.Index)
	assert.Equal(t, []int{2}, m.Position)
	assert.Equal(t, int32(3), m.Reference)
	assert.Equal(t, int32(4), m.Candidate)
	assert.Equal(t, 1, m.NumMismatches)

	requireMismatch(t, o.Compare(
		tensors.FromFlatDataAndDimensions([]bool{true, false}, 2),
		tensors.FromFlatDataAndDimensions([]bool{true, true}, 2)))
}

func TestDTypeMismatch(t *testing.T) {
	o := New(Tolerances{Default: Tolerance{Atol: 1, Rtol: 1}, Float32: Tolerance{Atol: 1, Rtol: 1}})
	m := requireMismatch(t, o.Compare(tensors.FromScalar(int32(1)), tensors.FromScalar(float32(1))))
	assert.Equal(t, "dtype mismatch", m.Reason)
	assert.Equal(t, dtypes.Int32, m.Reference)

	m = requireMismatch(t, o.Compare(
		tensors.FromShape(shapes.Make(dtypes.Float32, 2, 3)),
		tensors.FromShape(shapes.Make(dtypes.Float32, 3, 2))))
	assert.Equal(t, "shape mismatch", m.Reason)
}

func TestEdgeCases(t *testing.T) {
	o := New(DefaultTolerances())
	empty := tensors.FromShape(shapes.Make(dtypes.Float32, 0, 3))
	require.NoError(t, o.Compare(empty, tensors.FromShape(shapes.Make(dtypes.Float32, 0, 3))))

	nan := tensors.FromFlatDataAndDimensions([]float64{math.NaN()}, 1)
	requireMismatch(t, o.Compare(nan, nan))

	inf := tensors.FromFlatDataAndDimensions([]float64{math.Inf(1)}, 1)
	require.NoError(t, o.Compare(inf, inf))

	c := tensors.FromFlatDataAndDimensions([]complex64{complex(1, 1)}, 1)
	require.NoError(t, o.Compare(c, c))
	requireMismatch(t, o.Compare(c, tensors.FromFlatDataAndDimensions([]complex64{complex(1, 1.1)}, 1)))
}

func TestSequencesAndScalars(t *testing.T) {
	o := New(DefaultTolerances())
	a := tensors.FromFlatDataAndDimensions([]int64{1, 2}, 2)
	b := tensors.FromFlatDataAndDimensions([]int64{1, 3}, 2)

	require.NoError(t, o.Compare([]*tensors.Tensor{a, a}, []*tensors.Tensor{a, a}))
	m := requireMismatch(t, o.Compare([]*tensors.Tensor{a, a}, []*tensors.Tensor{a, b}))
	assert.Equal(t, "[1]", m.Path)
	assert.Contains(t, m.Error(), "at output [1]")

	m = requireMismatch(t, o.Compare([]*tensors.Tensor{a}, []*tensors.Tensor{a, a}))
	assert.Equal(t, "length mismatch", m.Reason)

	require.NoError(t, o.Compare([]any{a, 3, "x"}, []any{a, 3, "x"}))
	m = requireMismatch(t, o.Compare([]any{a, []any{1, 2}}, []any{a, []any{1, 3}}))
	assert.Equal(t, "[1][1]", m.Path)

	requireMismatch(t, o.Compare(3, 3.0))
	requireMismatch(t, o.Compare(3, 4))
	require.NoError(t, o.Compare(3, 3))
	requireMismatch(t, o.Compare(a, 3))
}

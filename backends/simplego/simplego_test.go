// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagecheck/backends"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transposeTwiceFn(perm1, perm2 []int) graph.Fn {
	return func(g *graph.Graph, params []*graph.Node) []*graph.Node {
		return []*graph.Node{graph.TransposeAllAxes(graph.TransposeAllAxes(params[0], perm1...), perm2...)}
	}
}

func compile(t *testing.T, b backends.Backend, fn graph.Fn, accelerate bool, specs ...shapes.Shape) *executable {
	g, err := graph.Build(t.Name(), fn, specs)
	require.NoError(t, err)
	exec, err := b.Compile(g, backends.CompileOptions{Accelerate: accelerate})
	require.NoError(t, err)
	return exec.(*executable)
}

func TestFlags(t *testing.T) {
	b, err := New("")
	require.NoError(t, err)
	require.Equal(t, "true", b.Flags()[FlagVerifyShapes])
	require.Equal(t, "false", b.Flags()[FlagFoldTransposes])

	require.NoError(t, b.SetFlags(map[string]string{FlagFoldTransposes: "1", FlagMaterializeLayout: "true"}))
	require.Equal(t, "true", b.Flags()[FlagFoldTransposes])
	require.Equal(t, "true", b.Flags()[FlagMaterializeLayout])

	require.ErrorContains(t, b.SetFlags(map[string]string{"FLAGS_unknown": "true"}), "unknown compiler flag")
	require.ErrorContains(t, b.SetFlags(map[string]string{FlagFoldTransposes: "maybe"}), "invalid value")
	// Failed SetFlags leave flags untouched.
	require.Equal(t, "true", b.Flags()[FlagFoldTransposes])

	b, err = New("FLAGS_fold_transposes=true, FLAGS_verify_shapes=false")
	require.NoError(t, err)
	require.Equal(t, "true", b.Flags()[FlagFoldTransposes])
	require.Equal(t, "false", b.Flags()[FlagVerifyShapes])
	_, err = New("FLAGS_fold_transposes")
	require.Error(t, err)

	b, err = backends.NewWithConfig("go:FLAGS_eliminate_identity_transpose=true")
	require.NoError(t, err)
	require.Equal(t, "true", b.Flags()[FlagEliminateIdentityTranspose])
	require.Contains(t, b.Description(), "FLAGS_eliminate_identity_transpose=true")
	// Name is the one used in STAGECHECK_BACKEND configurations.
	require.Equal(t, BackendName, b.Name())
	require.Contains(t, backends.List(), b.Name())
}

func TestPasses(t *testing.T) {
	spec := shapes.Make(dtypes.Float32, 2, 3, 4)
	b, err := New("FLAGS_fold_transposes=true,FLAGS_eliminate_identity_transpose=true")
	require.NoError(t, err)

	t.Run("fold", func(t *testing.T) {
		exec := compile(t, b, transposeTwiceFn([]int{1, 2, 0}, []int{2, 0, 1}), true, spec)
		// [1,2,0] followed by [2,0,1] is the identity, so everything is folded away.
		require.Equal(t, 0, exec.prog.numOps(graph.NodeTypeTranspose), "program:\n%s", exec.prog)
		require.Equal(t, []int{0}, exec.prog.outputs)

		exec = compile(t, b, transposeTwiceFn([]int{1, 0, 2}, []int{0, 2, 1}), true, spec)
		require.Equal(t, 1, exec.prog.numOps(graph.NodeTypeTranspose), "program:\n%s", exec.prog)
		require.Equal(t, []int{1, 2, 0}, exec.prog.instructions[exec.prog.outputs[0]].permutation)
	})

	t.Run("not accelerated", func(t *testing.T) {
		exec := compile(t, b, transposeTwiceFn([]int{1, 2, 0}, []int{2, 0, 1}), false, spec)
		require.Equal(t, 2, exec.prog.numOps(graph.NodeTypeTranspose))
	})

	t.Run("dead code", func(t *testing.T) {
		fn := func(g *graph.Graph, params []*graph.Node) []*graph.Node {
			_ = graph.ConvertDType(params[0], dtypes.Float64) // Unused.
			return []*graph.Node{graph.Transpose(params[0], 0, 1)}
		}
		exec := compile(t, b, fn, true, spec)
		require.Equal(t, 0, exec.prog.numOps(graph.NodeTypeConvertDType))
		require.Len(t, exec.prog.instructions, 2)
	})
}

func TestExecMatchesEager(t *testing.T) {
	rng := tensors.NewRNG(42)
	fn := func(g *graph.Graph, params []*graph.Node) []*graph.Node {
		x := graph.TransposeAllAxes(params[0], 2, 0, 1)
		x = graph.TransposeAllAxes(x, 0, 2, 1)
		return []*graph.Node{x, graph.ConvertDType(graph.Transpose(params[0], 0, -1), dtypes.Float64)}
	}
	configs := []string{
		"",
		"FLAGS_fold_transposes=true",
		"FLAGS_fold_transposes=true,FLAGS_eliminate_identity_transpose=true,FLAGS_materialize_layout=true",
	}
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Int64, dtypes.Uint8, dtypes.Bool} {
		for _, config := range configs {
			t.Run(fmt.Sprintf("%s/%q", dtype, config), func(t *testing.T) {
				b, err := New(config)
				require.NoError(t, err)
				spec := shapes.Make(dtype, 3, 5, 7)
				input, err := tensors.Random(rng, spec)
				require.NoError(t, err)
				want, err := b.Eager("eager", fn).Call(input)
				require.NoError(t, err)
				got, err := compile(t, b, fn, true, spec).Call(input)
				require.NoError(t, err)
				require.Len(t, got, 2)
				for ii := range got {
					require.True(t, want[ii].Shape().Equal(got[ii].Shape()))
					require.Equal(t, want[ii].Flat(), got[ii].Flat())
				}
			})
		}
	}
}

func TestTransposeValues(t *testing.T) {
	b, err := New("")
	require.NoError(t, err)
	input := tensors.FromFlatDataAndDimensions([]int32{0, 1, 2, 3, 4, 5}, 2, 3)
	fn := func(g *graph.Graph, params []*graph.Node) []*graph.Node {
		return []*graph.Node{graph.Transpose(params[0], 0, 1)}
	}
	outputs, err := compile(t, b, fn, false, input.Shape()).Call(input)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, outputs[0].Shape().Dimensions)
	require.Equal(t, []int32{0, 3, 1, 4, 2, 5}, tensors.CopyFlatData[int32](outputs[0]))

	// Converting bool and negative numbers.
	converted, err := execConvertDType(tensors.FromFlatDataAndDimensions([]float32{-1.5, 0, 2}, 3), dtypes.Bool)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, tensors.CopyFlatData[bool](converted))
	converted, err = execConvertDType(tensors.FromFlatDataAndDimensions([]float32{-1.5, 0, 2}, 3), dtypes.Int32)
	require.NoError(t, err)
	require.Equal(t, []int32{-1, 0, 2}, tensors.CopyFlatData[int32](converted))
}

func TestSymbolicAxes(t *testing.T) {
	b, err := New("FLAGS_materialize_layout=true")
	require.NoError(t, err)
	spec := shapes.MakeDynamic(dtypes.Float32, shapes.DimDynamic, 4).WithAxisName(0, "batch")
	fn := func(g *graph.Graph, params []*graph.Node) []*graph.Node {
		return []*graph.Node{graph.Transpose(params[0], 0, 1)}
	}
	exec := compile(t, b, fn, true, spec)
	rng := tensors.NewRNG(1)
	for _, batchSize := range []int{1, 3, 1} {
		input, err := tensors.Random(rng, shapes.Make(dtypes.Float32, batchSize, 4))
		require.NoError(t, err)
		outputs, err := exec.Call(input)
		require.NoError(t, err)
		require.Equal(t, []int{4, batchSize}, outputs[0].Shape().Dimensions)
	}
	// One materialized plan per distinct batch size.
	assert.Equal(t, 2, exec.numMaterializedPlans())

	// Static axis mismatch.
	_, err = exec.Call(tensors.FromShape(shapes.Make(dtypes.Float32, 2, 5)))
	require.ErrorContains(t, err, "don't match the compiled specification")
	_, err = exec.Call(tensors.FromShape(shapes.Make(dtypes.Float64, 2, 4)))
	require.Error(t, err)
	_, err = exec.Call()
	require.ErrorContains(t, err, "takes 1 inputs, 0 given")
}

func TestParallelism(t *testing.T) {
	t.Setenv(WorkersEnvVar, "4")
	b, err := New("")
	require.NoError(t, err)
	spec := shapes.Make(dtypes.Float64, 64, 32, 16)
	exec := compile(t, b, transposeTwiceFn([]int{2, 0, 1}, []int{0, 2, 1}), false, spec)
	require.Equal(t, 4, exec.pool.MaxParallelism())
	input, err := tensors.Random(tensors.NewRNG(7), spec)
	require.NoError(t, err)
	got, err := exec.Call(input)
	require.NoError(t, err)
	want, err := b.Eager("eager", transposeTwiceFn([]int{2, 0, 1}, []int{0, 2, 1})).Call(input)
	require.NoError(t, err)
	require.Equal(t, want[0].Flat(), got[0].Flat())

	t.Setenv(WorkersEnvVar, "many")
	g, err := graph.Build("bad", transposeTwiceFn([]int{1, 0, 2}, []int{1, 0, 2}), []shapes.Shape{spec})
	require.NoError(t, err)
	_, err = b.Compile(g, backends.CompileOptions{})
	require.ErrorContains(t, err, WorkersEnvVar)
}

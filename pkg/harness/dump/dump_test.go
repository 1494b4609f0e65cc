// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dump_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagecheck/backends/simplego"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/gomlx/stagecheck/pkg/harness"
	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/gomlx/stagecheck/pkg/harness/dump"
	"github.com/gomlx/stagecheck/pkg/harness/fixture"
	"github.com/gomlx/stagecheck/suites/transpose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func roundTrip(t *testing.T, x *tensors.Tensor) *tensors.Tensor {
	var buf bytes.Buffer
	require.NoError(t, dump.WriteNpy(&buf, x))
	// Data starts 16-bytes aligned.
	headerLen := int(buf.Bytes()[8]) | int(buf.Bytes()[9])<<8
	require.Zero(t, (10+headerLen)%16)
	y, err := dump.ReadNpy(&buf)
	require.NoError(t, err)
	return y
}

func TestNpy(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := roundTrip(t, x)
	assert.True(t, x.Shape().Equal(y.Shape()))
	assert.Equal(t, tensors.CopyFlatData[float32](x), tensors.CopyFlatData[float32](y))

	half := tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(-2)}, 2)
	assert.Equal(t, tensors.CopyFlatData[float16.Float16](half), tensors.CopyFlatData[float16.Float16](roundTrip(t, half)))

	flags := tensors.FromFlatDataAndDimensions([]bool{true, false, true}, 3)
	assert.Equal(t, []bool{true, false, true}, tensors.CopyFlatData[bool](roundTrip(t, flags)))

	scalar := roundTrip(t, tensors.FromScalar(int64(-7)))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, int64(-7), tensors.ToScalar[int64](scalar))

	empty := roundTrip(t, tensors.FromShape(shapes.Make(dtypes.Int32, 0, 3)))
	assert.Equal(t, []int{0, 3}, empty.Shape().Dimensions)

	// BFloat16 is stored as float32.
	bf := tensors.FromFlatDataAndDimensions([]bfloat16.BFloat16{bfloat16.FromFloat32(1.5), bfloat16.FromFloat32(-3)}, 1, 2)
	converted := roundTrip(t, bf)
	assert.Equal(t, dtypes.Float32, converted.DType())
	assert.Equal(t, []float32{1.5, -3}, tensors.CopyFlatData[float32](converted))

	_, err := dump.ReadNpy(strings.NewReader("not a numpy file"))
	require.Error(t, err)
}

// npyWithHeader builds a .npy file with the given header dictionary and no data.
func npyWithHeader(header string) []byte {
	header += "\n"
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY\x01\x00")
	buf.WriteByte(byte(len(header)))
	buf.WriteByte(byte(len(header) >> 8))
	buf.WriteString(header)
	return buf.Bytes()
}

func TestMalformedNpy(t *testing.T) {
	for _, header := range []string{
		"{'descr': '<f4', 'fortran_order': False, 'shape': (-3,), }",
		"{'descr': '<f4', 'fortran_order': False, 'shape': (2, -1), }",
		"{'descr': '<f4', 'fortran_order': False, 'shape': (two,), }",
		"{'descr': '<f4', 'fortran_order': True, 'shape': (2, 3), }",
		"{'descr': '>U8', 'fortran_order': False, 'shape': (2,), }",
	} {
		require.NotPanics(t, func() {
			_, err := dump.ReadNpy(bytes.NewReader(npyWithHeader(header)))
			require.Error(t, err, "header %s", header)
		})
	}
	x, err := dump.ReadNpy(bytes.NewReader(npyWithHeader("{'descr': '<i4', 'fortran_order': False, 'shape': (0, 3), }")))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, x.Shape().Dimensions)
}

func TestFixture(t *testing.T) {
	backend, err := simplego.New("")
	require.NoError(t, err)
	env, err := harness.NewEnv(config.Default(), transpose.Pipeline(), backend,
		harness.WithSetenv(func(string, string) error { return nil }))
	require.NoError(t, err)
	cases, err := transpose.Filter(transpose.Cases(), `^transpose/Float32/2x3x4/perm_2_0_1$`)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	transpose.Register(env, cases)

	f := env.Fixture(cases[0].Spec())
	outcome, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, fixture.OutcomePassed, outcome)

	dir := filepath.Join(t.TempDir(), "dumps")
	path, err := dump.Fixture(dir, f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "transpose_perm_2_0_1_Float32_2x3x4.npz"), path)

	named, err := dump.ReadNpzFile(path)
	require.NoError(t, err)
	require.Len(t, named, 3)
	assert.Equal(t, []int{2, 3, 4}, named["input_0"].Shape().Dimensions)
	assert.Equal(t, []int{4, 2, 3}, named["reference_0"].Shape().Dimensions)
	assert.Equal(t, tensors.CopyFlatData[float32](named["reference_0"]), tensors.CopyFlatData[float32](named["candidate_0"]))
}

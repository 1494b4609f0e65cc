// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dump writes the tensors of failing fixtures to NumPy .npz files, so a mismatch can be inspected offline.
//
// Tensors are stored in .npy format version 1.0, in row-major order and little-endian.
// BFloat16 has no standard NumPy dtype, so it is stored (losslessly) as float32.
package dump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/pkg/errors"
)

const npyMagic = "\x93NUMPY"

// npyDescr maps the supported dtypes to NumPy's dtype descriptors.
var npyDescr = map[dtypes.DType]string{
	dtypes.Bool:       "|b1",
	dtypes.Int8:       "|i1",
	dtypes.Uint8:      "|u1",
	dtypes.Int16:      "<i2",
	dtypes.Uint16:     "<u2",
	dtypes.Int32:      "<i4",
	dtypes.Uint32:     "<u4",
	dtypes.Int64:      "<i8",
	dtypes.Uint64:     "<u8",
	dtypes.Float16:    "<f2",
	dtypes.Float32:    "<f4",
	dtypes.Float64:    "<f8",
	dtypes.Complex64:  "<c8",
	dtypes.Complex128: "<c16",
}

var (
	reDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// bfloat16ToFloat32 returns a float32 copy of a BFloat16 tensor.
func bfloat16ToFloat32(t *tensors.Tensor) *tensors.Tensor {
	converted := make([]float32, t.Size())
	tensors.ConstFlatData(t, func(flat []bfloat16.BFloat16) {
		for ii, v := range flat {
			converted[ii] = v.Float32()
		}
	})
	return tensors.FromFlatDataAndDimensions(converted, t.Shape().Dimensions...)
}

// WriteNpy serializes the tensor in .npy format.
func WriteNpy(w io.Writer, t *tensors.Tensor) error {
	if t.DType() == dtypes.BFloat16 {
		t = bfloat16ToFloat32(t)
	}
	shape := t.Shape()
	descr, found := npyDescr[shape.DType]
	if !found {
		return errors.Errorf("dtype %s not supported in .npy files", shape.DType)
	}
	var shapeTuple string
	switch shape.Rank() {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", shape.Dimensions[0])
	default:
		dims := make([]string, shape.Rank())
		for axis, dim := range shape.Dimensions {
			dims[axis] = strconv.Itoa(dim)
		}
		shapeTuple = "(" + strings.Join(dims, ", ") + ")"
	}

	// Magic, version and header length take 10 bytes: the header is padded so the data is 16-bytes aligned.
	var header bytes.Buffer
	fmt.Fprintf(&header, "{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple)
	for (10+header.Len()+1)%16 != 0 {
		header.WriteByte(' ')
	}
	header.WriteByte('\n')

	var preamble bytes.Buffer
	preamble.WriteString(npyMagic)
	preamble.Write([]byte{1, 0})
	_ = binary.Write(&preamble, binary.LittleEndian, uint16(header.Len()))
	preamble.Write(header.Bytes())
	if _, err := w.Write(preamble.Bytes()); err != nil {
		return errors.Wrap(err, "writing .npy header")
	}
	if t.Size() == 0 {
		return nil
	}
	return errors.Wrap(binary.Write(w, binary.LittleEndian, t.Flat()), "writing .npy data")
}

// parseHeader extracts the dtype and dimensions from a .npy header.
func parseHeader(header string) (dtype dtypes.DType, dimensions []int, err error) {
	match := reDescr.FindStringSubmatch(header)
	if match == nil {
		return dtypes.InvalidDType, nil, errors.Errorf("no 'descr' in .npy header %q", header)
	}
	dtype = dtypes.InvalidDType
	for candidate, descr := range npyDescr {
		if descr == match[1] {
			dtype = candidate
			break
		}
	}
	if dtype == dtypes.InvalidDType {
		return dtype, nil, errors.Errorf("unsupported NumPy dtype %q", match[1])
	}
	if match = reFortran.FindStringSubmatch(header); match == nil || match[1] != "False" {
		return dtype, nil, errors.Errorf("only row-major (fortran_order False) .npy files are supported, header %q", header)
	}
	if match = reShape.FindStringSubmatch(header); match == nil {
		return dtype, nil, errors.Errorf("no 'shape' in .npy header %q", header)
	}
	dimensions = []int{}
	for _, part := range strings.Split(match[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil {
			return dtype, nil, errors.Wrapf(err, "invalid dimension %q in .npy header", part)
		}
		if dim < 0 {
			return dtype, nil, errors.Errorf("negative dimension %d in .npy header %q", dim, header)
		}
		dimensions = append(dimensions, dim)
	}
	return dtype, dimensions, nil
}

// ReadNpy reads a tensor in the .npy format written by WriteNpy.
func ReadNpy(r io.Reader) (*tensors.Tensor, error) {
	preamble := make([]byte, 10)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return nil, errors.Wrap(err, "reading .npy preamble")
	}
	if string(preamble[:6]) != npyMagic {
		return nil, errors.New("invalid .npy file: magic string mismatch")
	}
	if preamble[6] != 1 {
		return nil, errors.Errorf("unsupported .npy version %d.%d", preamble[6], preamble[7])
	}
	header := make([]byte, binary.LittleEndian.Uint16(preamble[8:]))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "reading .npy header")
	}
	dtype, dimensions, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}
	t := tensors.FromShape(shapes.Make(dtype, dimensions...))
	if t.Size() == 0 {
		return t, nil
	}
	if err := binary.Read(r, binary.LittleEndian, t.Flat()); err != nil {
		return nil, errors.Wrapf(err, "reading .npy data for %s", t.Shape())
	}
	return t, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagecheck/internal/workerspool"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// minParallelChunk is the minimum number of elements handled by one worker.
const minParallelChunk = 16 * 1024

// transposePlan describes how to fill the output of a transpose from its operand.
// If indices is set, it's used as a gather map (output[i] = operand[indices[i]]), otherwise
// the operand position is tracked with the permuted strides.
type transposePlan struct {
	outputDims     []int
	permutedStride []int
	indices        []int
}

func newTransposePlan(operandDims, permutation []int) *transposePlan {
	operandStrides := tensors.Strides(operandDims)
	plan := &transposePlan{
		outputDims:     make([]int, len(permutation)),
		permutedStride: make([]int, len(permutation)),
	}
	for axis, fromAxis := range permutation {
		plan.outputDims[axis] = operandDims[fromAxis]
		plan.permutedStride[axis] = operandStrides[fromAxis]
	}
	return plan
}

// materialize precomputes the gather indices of the plan.
func (plan *transposePlan) materialize() {
	size := 1
	for _, dim := range plan.outputDims {
		size *= dim
	}
	indices := make([]int, size)
	plan.forRange(0, size, func(outputIdx, operandIdx int) {
		indices[outputIdx] = operandIdx
	})
	plan.indices = indices
}

// forRange calls fn for each output flat index in [start, end) with the corresponding operand flat index.
func (plan *transposePlan) forRange(start, end int, fn func(outputIdx, operandIdx int)) {
	if start >= end {
		return
	}
	if plan.indices != nil {
		for outputIdx := start; outputIdx < end; outputIdx++ {
			fn(outputIdx, plan.indices[outputIdx])
		}
		return
	}
	rank := len(plan.outputDims)
	position := tensors.UnravelIndex(start, plan.outputDims)
	operandIdx := 0
	for axis, idx := range position {
		operandIdx += idx * plan.permutedStride[axis]
	}
	for outputIdx := start; outputIdx < end; outputIdx++ {
		fn(outputIdx, operandIdx)
		for axis := rank - 1; axis >= 0; axis-- {
			position[axis]++
			operandIdx += plan.permutedStride[axis]
			if position[axis] < plan.outputDims[axis] {
				break
			}
			operandIdx -= plan.permutedStride[axis] * plan.outputDims[axis]
			position[axis] = 0
		}
	}
}

func transposeTyped[T any](pool *workerspool.Pool, plan *transposePlan, operand, output []T) {
	pool.ParallelFor(len(output), minParallelChunk, func(start, end int) {
		plan.forRange(start, end, func(outputIdx, operandIdx int) {
			output[outputIdx] = operand[operandIdx]
		})
	})
}

// execTranspose allocates the output and runs the transpose kernel for the operand's dtype.
func execTranspose(pool *workerspool.Pool, plan *transposePlan, operand *tensors.Tensor) (*tensors.Tensor, error) {
	output := tensors.FromShape(shapes.Make(operand.DType(), plan.outputDims...))
	switch operandFlat := operand.Flat().(type) {
	case []float32:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]float32))
	case []float64:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]float64))
	case []float16.Float16:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]float16.Float16))
	case []bfloat16.BFloat16:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]bfloat16.BFloat16))
	case []int8:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]int8))
	case []int16:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]int16))
	case []int32:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]int32))
	case []int64:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]int64))
	case []uint8:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]uint8))
	case []uint16:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]uint16))
	case []uint32:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]uint32))
	case []uint64:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]uint64))
	case []bool:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]bool))
	case []complex64:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]complex64))
	case []complex128:
		transposeTyped(pool, plan, operandFlat, output.Flat().([]complex128))
	default:
		return nil, errors.Errorf("simplego: %s not implemented for dtype %s", graph.NodeTypeTranspose, operand.DType())
	}
	return output, nil
}

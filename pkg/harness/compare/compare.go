// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package compare checks a candidate output against a reference output, within dtype dependent tolerances.
//
// Outputs can be tensors, sequences of outputs ([]*tensors.Tensor or []any, compared element-wise) or any other
// Go value (compared for exact equality, including the type).
//
// Tensors must have the same dtype and shape. Integer and boolean tensors must be bit-exact, floating point
// (and complex) tensors must satisfy |candidate-reference| <= atol + rtol*|reference| element-wise.
// NaN is never close to anything, not even another NaN.
package compare

import (
	"fmt"
	"math"
	"math/cmplx"
	"reflect"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagecheck/pkg/core/tensors"
	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Default tolerances, used for atol and rtol.
const (
	DefaultTolerance      = 1e-6
	Default16BitTolerance = 1e-3
)

// Tolerance for the comparison of floating point values.
type Tolerance struct {
	Atol, Rtol float64
}

// Bound returns the maximum accepted difference from the reference value.
func (t Tolerance) Bound(reference float64) float64 {
	return t.Atol + t.Rtol*math.Abs(reference)
}

// Tolerances per dtype category.
type Tolerances struct {
	// Float16 is used for Float16 and BFloat16.
	Float16 Tolerance
	Float32 Tolerance

	// Default is used for all other floating point and complex dtypes.
	Default Tolerance
}

// DefaultTolerances returns the tolerances used without overrides.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Float16: Tolerance{Atol: Default16BitTolerance, Rtol: Default16BitTolerance},
		Float32: Tolerance{Atol: DefaultTolerance, Rtol: DefaultTolerance},
		Default: Tolerance{Atol: DefaultTolerance, Rtol: DefaultTolerance},
	}
}

// TolerancesFromConfig returns the default tolerances with the overrides in cfg applied to both atol and rtol.
func TolerancesFromConfig(cfg config.Config) Tolerances {
	tols := DefaultTolerances()
	if cfg.Float16Tol != nil {
		tols.Float16 = Tolerance{Atol: *cfg.Float16Tol, Rtol: *cfg.Float16Tol}
	}
	if cfg.Float32Tol != nil {
		tols.Float32 = Tolerance{Atol: *cfg.Float32Tol, Rtol: *cfg.Float32Tol}
	}
	return tols
}

// For returns the tolerance for the dtype.
func (t Tolerances) For(dtype dtypes.DType) Tolerance {
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16:
		return t.Float16
	case dtypes.Float32:
		return t.Float32
	default:
		return t.Default
	}
}

// Mismatch describes why a candidate output differs from the reference.
type Mismatch struct {
	// Path to the offending output, e.g. "[1]" for the second output of a sequence. Empty for the root.
	Path string

	// Reason of the mismatch.
	Reason string

	// Index is the flat index of the first offending element, or -1 if not an element-wise mismatch.
	Index int

	// Position is the multi-dimensional index of the first offending element.
	Position []int

	// Reference and Candidate values of the first offending element, or of the whole output.
	Reference, Candidate any

	// Bound is the maximum difference accepted for the first offending element (0 for exact comparisons).
	Bound float64

	// NumMismatches is the number of offending elements.
	NumMismatches int
}

// Error implements error.
func (m *Mismatch) Error() string {
	var sb strings.Builder
	sb.WriteString("mismatch")
	if m.Path != "" {
		_, _ = fmt.Fprintf(&sb, " at output %s", m.Path)
	}
	_, _ = fmt.Fprintf(&sb, ": %s", m.Reason)
	if m.Index >= 0 {
		_, _ = fmt.Fprintf(&sb, ": %d element(s) differ, first at index %d %v: reference=%v, candidate=%v",
			m.NumMismatches, m.Index, m.Position, m.Reference, m.Candidate)
		if m.Bound > 0 {
			_, _ = fmt.Fprintf(&sb, ", |diff|=%g > bound=%g", absDiff(m.Reference, m.Candidate), m.Bound)
		}
	} else if m.Reference != nil || m.Candidate != nil {
		_, _ = fmt.Fprintf(&sb, ": reference=%v, candidate=%v", m.Reference, m.Candidate)
	}
	return sb.String()
}

func absDiff(a, b any) float64 {
	fa, okA := a.(float64)
	fb, okB := b.(float64)
	if okA && okB {
		return math.Abs(fa - fb)
	}
	ca, okA := a.(complex128)
	cb, okB := b.(complex128)
	if okA && okB {
		return cmplx.Abs(ca - cb)
	}
	return math.NaN()
}

// Oracle compares outputs.
type Oracle struct {
	Tolerances Tolerances
}

// New returns an Oracle with the given tolerances.
func New(tolerances Tolerances) *Oracle {
	return &Oracle{Tolerances: tolerances}
}

// Compare returns nil if candidate matches reference, or a *Mismatch otherwise.
func (o *Oracle) Compare(reference, candidate any) error {
	if m := o.compare("", reference, candidate); m != nil {
		return m
	}
	return nil
}

func (o *Oracle) compare(path string, reference, candidate any) *Mismatch {
	switch ref := reference.(type) {
	case *tensors.Tensor:
		cand, ok := candidate.(*tensors.Tensor)
		if !ok {
			return &Mismatch{Path: path, Index: -1, Reason: fmt.Sprintf("expected a tensor, got %T", candidate)}
		}
		return o.compareTensors(path, ref, cand)
	case []*tensors.Tensor:
		cand, ok := candidate.([]*tensors.Tensor)
		if !ok {
			return &Mismatch{Path: path, Index: -1, Reason: fmt.Sprintf("expected []*tensors.Tensor, got %T", candidate)}
		}
		if len(ref) != len(cand) {
			return &Mismatch{Path: path, Index: -1, Reason: "length mismatch", Reference: len(ref), Candidate: len(cand)}
		}
		for ii := range ref {
			if m := o.compare(fmt.Sprintf("%s[%d]", path, ii), ref[ii], cand[ii]); m != nil {
				return m
			}
		}
		return nil
	case []any:
		cand, ok := candidate.([]any)
		if !ok {
			return &Mismatch{Path: path, Index: -1, Reason: fmt.Sprintf("expected []any, got %T", candidate)}
		}
		if len(ref) != len(cand) {
			return &Mismatch{Path: path, Index: -1, Reason: "length mismatch", Reference: len(ref), Candidate: len(cand)}
		}
		for ii := range ref {
			if m := o.compare(fmt.Sprintf("%s[%d]", path, ii), ref[ii], cand[ii]); m != nil {
				return m
			}
		}
		return nil
	}
	if reflect.TypeOf(reference) != reflect.TypeOf(candidate) {
		return &Mismatch{Path: path, Index: -1,
			Reason:    fmt.Sprintf("type mismatch: %T vs %T", reference, candidate),
			Reference: reference, Candidate: candidate}
	}
	if !reflect.DeepEqual(reference, candidate) {
		return &Mismatch{Path: path, Index: -1, Reason: "values differ", Reference: reference, Candidate: candidate}
	}
	return nil
}

func (o *Oracle) compareTensors(path string, ref, cand *tensors.Tensor) *Mismatch {
	if ref == nil || cand == nil {
		if ref == nil && cand == nil {
			return nil
		}
		return &Mismatch{Path: path, Index: -1, Reason: "nil tensor", Reference: ref, Candidate: cand}
	}
	if ref.DType() != cand.DType() {
		return &Mismatch{Path: path, Index: -1, Reason: "dtype mismatch", Reference: ref.DType(), Candidate: cand.DType()}
	}
	if !ref.Shape().Equal(cand.Shape()) {
		return &Mismatch{Path: path, Index: -1, Reason: "shape mismatch", Reference: ref.Shape(), Candidate: cand.Shape()}
	}
	if ref.Size() == 0 {
		return nil
	}
	tol := o.Tolerances.For(ref.DType())
	var r result
	switch refFlat := ref.Flat().(type) {
	case []float32:
		r = compareFloats(refFlat, cand.Flat().([]float32), asFloat64[float32], tol)
	case []float64:
		r = compareFloats(refFlat, cand.Flat().([]float64), asFloat64[float64], tol)
	case []float16.Float16:
		r = compareFloats(refFlat, cand.Flat().([]float16.Float16), func(v float16.Float16) float64 {
			return float64(v.Float32())
		}, tol)
	case []bfloat16.BFloat16:
		r = compareFloats(refFlat, cand.Flat().([]bfloat16.BFloat16), func(v bfloat16.BFloat16) float64 {
			return float64(v.Float32())
		}, tol)
	case []complex64:
		r = compareComplex(refFlat, cand.Flat().([]complex64), tol)
	case []complex128:
		r = compareComplex(refFlat, cand.Flat().([]complex128), tol)
	case []int8:
		r = compareExact(refFlat, cand.Flat().([]int8))
	case []int16:
		r = compareExact(refFlat, cand.Flat().([]int16))
	case []int32:
		r = compareExact(refFlat, cand.Flat().([]int32))
	case []int64:
		r = compareExact(refFlat, cand.Flat().([]int64))
	case []uint8:
		r = compareExact(refFlat, cand.Flat().([]uint8))
	case []uint16:
		r = compareExact(refFlat, cand.Flat().([]uint16))
	case []uint32:
		r = compareExact(refFlat, cand.Flat().([]uint32))
	case []uint64:
		r = compareExact(refFlat, cand.Flat().([]uint64))
	case []bool:
		r = compareExact(refFlat, cand.Flat().([]bool))
	default:
		return &Mismatch{Path: path, Index: -1, Reason: fmt.Sprintf("comparison of dtype %s not supported", ref.DType())}
	}
	if r.count == 0 {
		return nil
	}
	reason := "values differ"
	if r.approx {
		reason = fmt.Sprintf("values not within tolerance (atol=%g, rtol=%g)", tol.Atol, tol.Rtol)
	}
	return &Mismatch{
		Path:          path,
		Reason:        reason,
		Index:         r.first,
		Position:      tensors.UnravelIndex(r.first, ref.Shape().Dimensions),
		Reference:     r.reference,
		Candidate:     r.candidate,
		Bound:         r.bound,
		NumMismatches: r.count,
	}
}

// result of an element-wise comparison.
type result struct {
	count                int
	first                int
	reference, candidate any
	bound                float64
	approx               bool
}

func asFloat64[T constraints.Float](v T) float64 { return float64(v) }

func compareFloats[T any](ref, cand []T, toFloat func(T) float64, tol Tolerance) (r result) {
	for ii := range ref {
		rv, cv := toFloat(ref[ii]), toFloat(cand[ii])
		bound := tol.Bound(rv)
		// Equal infinities are close; NaN fails both conditions.
		if rv == cv || math.Abs(cv-rv) <= bound {
			continue
		}
		if r.count == 0 {
			r = result{first: ii, reference: rv, candidate: cv, bound: bound, approx: true}
		}
		r.count++
	}
	return
}

func compareComplex[T constraints.Complex](ref, cand []T, tol Tolerance) (r result) {
	for ii := range ref {
		rv, cv := complex128(ref[ii]), complex128(cand[ii])
		bound := tol.Atol + tol.Rtol*cmplx.Abs(rv)
		if rv == cv || cmplx.Abs(cv-rv) <= bound {
			continue
		}
		if r.count == 0 {
			r = result{first: ii, reference: rv, candidate: cv, bound: bound, approx: true}
		}
		r.count++
	}
	return
}

func compareExact[T comparable](ref, cand []T) (r result) {
	for ii := range ref {
		if ref[ii] == cand[ii] {
			continue
		}
		if r.count == 0 {
			r = result{first: ii, reference: ref[ii], candidate: cand[ii]}
		}
		r.count++
	}
	return
}

// AsMismatch returns the *Mismatch in err's chain, if any.
func AsMismatch(err error) (*Mismatch, bool) {
	var m *Mismatch
	if errors.As(err, &m) {
		return m, true
	}
	return nil, false
}

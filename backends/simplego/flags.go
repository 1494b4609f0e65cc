// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Names of the compiler flags accepted by the backend.
const (
	FlagEliminateIdentityTranspose = "FLAGS_eliminate_identity_transpose"
	FlagFoldTransposes             = "FLAGS_fold_transposes"
	FlagMaterializeLayout          = "FLAGS_materialize_layout"
	FlagVerifyShapes               = "FLAGS_verify_shapes"
)

// Flags of the compiler. Passes only run for accelerated compilations.
type Flags struct {
	// EliminateIdentityTranspose removes transposes whose permutation is the identity.
	EliminateIdentityTranspose bool

	// FoldTransposes merges chains of transposes into one.
	FoldTransposes bool

	// MaterializeLayout precomputes the gather indices of each transpose, once per axis bindings.
	MaterializeLayout bool

	// VerifyShapes checks the inputs of every call against the compiled specification.
	VerifyShapes bool
}

func defaultFlags() Flags {
	return Flags{VerifyShapes: true}
}

func (f *Flags) pointers() map[string]*bool {
	return map[string]*bool{
		FlagEliminateIdentityTranspose: &f.EliminateIdentityTranspose,
		FlagFoldTransposes:             &f.FoldTransposes,
		FlagMaterializeLayout:          &f.MaterializeLayout,
		FlagVerifyShapes:               &f.VerifyShapes,
	}
}

func (f *Flags) set(name, value string) error {
	ptr, found := f.pointers()[name]
	if !found {
		return errors.Errorf("unknown compiler flag %q for backend %q", name, BackendName)
	}
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return errors.Wrapf(err, "invalid value %q for compiler flag %q", value, name)
	}
	*ptr = v
	return nil
}

func (f Flags) asMap() map[string]string {
	m := make(map[string]string)
	for name, ptr := range f.pointers() {
		m[name] = strconv.FormatBool(*ptr)
	}
	return m
}

// String implements fmt.Stringer, listing the flags sorted by name.
func (f Flags) String() string {
	m := f.asMap()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for ii, name := range names {
		parts[ii] = fmt.Sprintf("%s=%s", name, m[name])
	}
	return strings.Join(parts, ",")
}

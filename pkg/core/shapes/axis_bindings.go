// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// AxisBindings maps symbolic axis names to concrete dimension values.
type AxisBindings map[string]int

// Key returns a canonical string representation, "name1=val1,name2=val2", names sorted.
// Returns "" for empty or nil bindings.
func (ab AxisBindings) Key() string {
	if len(ab) == 0 {
		return ""
	}
	names := make([]string, 0, len(ab))
	for name := range ab {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, ab[name])
	}
	return strings.Join(parts, ",")
}

// Resolve replaces named symbolic axes with their bound values.
// Unbound or unnamed symbolic axes remain DimDynamic.
func (s Shape) Resolve(bindings AxisBindings) Shape {
	result := s.Clone()
	for axis, name := range s.AxisNames {
		if name == "" {
			continue
		}
		if val, ok := bindings[name]; ok {
			result.Dimensions[axis] = val
		}
	}
	return result
}

// Matches returns whether the concrete shape satisfies the specification s: same dtype and
// rank, equal static dimensions, symbolic axes accept any value.
func (s Shape) Matches(concrete Shape) bool {
	_, err := ExtractBindings(s, concrete)
	return err == nil
}

// ExtractBindings matches a concrete shape against a specification that may have symbolic axes,
// and returns the bindings of the named ones.
func ExtractBindings(spec, concrete Shape) (AxisBindings, error) {
	bindings := make(AxisBindings)
	if err := extractBindingsInto(bindings, spec, concrete); err != nil {
		return nil, err
	}
	return bindings, nil
}

// ExtractAllBindings is like ExtractBindings for a list of inputs. Named axes shared
// across inputs must bind to the same value.
func ExtractAllBindings(specs, concretes []Shape) (AxisBindings, error) {
	if len(specs) != len(concretes) {
		return nil, errors.Errorf("specification has %d inputs, got %d", len(specs), len(concretes))
	}
	bindings := make(AxisBindings)
	for ii, spec := range specs {
		if err := extractBindingsInto(bindings, spec, concretes[ii]); err != nil {
			return nil, errors.WithMessagef(err, "input #%d", ii)
		}
	}
	return bindings, nil
}

func extractBindingsInto(bindings AxisBindings, spec, concrete Shape) error {
	if spec.DType != concrete.DType {
		return errors.Errorf("dtype mismatch: specification is %s, got %s", spec.DType, concrete.DType)
	}
	if spec.Rank() != concrete.Rank() {
		return errors.Errorf("rank mismatch: specification %s has rank %d, got %s with rank %d",
			spec, spec.Rank(), concrete, concrete.Rank())
	}
	for axis, specDim := range spec.Dimensions {
		dim := concrete.Dimensions[axis]
		if dim == DimDynamic {
			return errors.Errorf("axis %d of %s is not concrete", axis, concrete)
		}
		if specDim != DimDynamic {
			if specDim != dim {
				return errors.Errorf("axis %d mismatch: specification %s has dimension %d, got %s",
					axis, spec, specDim, concrete)
			}
			continue
		}
		name := spec.AxisName(axis)
		if name == "" {
			continue
		}
		if existing, ok := bindings[name]; ok && existing != dim {
			return errors.Errorf("axis %q has conflicting values: %d vs %d", name, existing, dim)
		}
		bindings[name] = dim
	}
	return nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transpose is the regression suite of the transpose operator: every permutation of the axes of
// tensors of rank 1 to 4, for several dtypes, through every stage of the compiler pipeline.
//
// Each case runs as a differential test (see package fixture): the unaccelerated compilation is the reference,
// and the accelerated compilation with the passes enabled by the current stage is the candidate.
package transpose

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagecheck/backends/simplego"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/gomlx/stagecheck/pkg/harness"
	"github.com/gomlx/stagecheck/pkg/harness/compcache"
	"github.com/gomlx/stagecheck/pkg/harness/fixture"
	"github.com/gomlx/stagecheck/pkg/harness/stages"
	"github.com/pkg/errors"
)

// Fixture kinds of the suite.
const (
	// KindTranspose transposes the input once.
	KindTranspose = "transpose"

	// KindRoundTrip transposes the input and then applies the inverse permutation.
	KindRoundTrip = "transpose_roundtrip"
)

// BatchAxisName is the name of the symbolic leading axis of the symbolic cases.
const BatchAxisName = "batch"

// DTypes covered by the suite.
var DTypes = []dtypes.DType{
	dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
	dtypes.Int32, dtypes.Int64, dtypes.Uint8, dtypes.Bool,
}

// DimensionsPerRank are the input dimensions used for each rank.
var DimensionsPerRank = map[int][]int{
	1: {5},
	2: {3, 4},
	3: {2, 3, 4},
	4: {2, 3, 4, 5},
}

// Pipeline returns the stages of the compiler pipeline, each one enabling one more pass than the previous.
func Pipeline() *stages.Registry {
	return stages.MustNewRegistry(
		stages.Stage{Name: "capture", Options: map[string]string{
			simplego.FlagVerifyShapes: "true",
		}},
		stages.Stage{Name: "simplify", Options: map[string]string{
			simplego.FlagVerifyShapes:               "true",
			simplego.FlagEliminateIdentityTranspose: "true",
		}},
		stages.Stage{Name: "fold", Options: map[string]string{
			simplego.FlagVerifyShapes:               "true",
			simplego.FlagEliminateIdentityTranspose: "true",
			simplego.FlagFoldTransposes:             "true",
		}},
		stages.Stage{Name: "layout", Options: map[string]string{
			simplego.FlagVerifyShapes:               "true",
			simplego.FlagEliminateIdentityTranspose: "true",
			simplego.FlagFoldTransposes:             "true",
			simplego.FlagMaterializeLayout:          "true",
			simplego.WorkersEnvVar:                  "4",
		}},
	)
}

// Case of the suite.
type Case struct {
	Kind        string
	Permutation []int
	Input       shapes.Shape

	// Symbolic cases compile with the leading axis symbolic.
	Symbolic bool
}

func joinInts(values []int, sep string) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = fmt.Sprint(v)
	}
	return strings.Join(parts, sep)
}

// Variant identifies the case among the ones with the same kind and input.
func (c Case) Variant() string {
	variant := "perm_" + joinInts(c.Permutation, "_")
	if c.Symbolic {
		variant += "_" + BatchAxisName
	}
	return variant
}

// Name of the case, usable as a subtest name.
func (c Case) Name() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.Kind, c.Input.DType, joinInts(c.Input.Dimensions, "x"), c.Variant())
}

// Key of the fixture of the case.
func (c Case) Key() compcache.Key {
	return compcache.NewKey(c.Kind, c.Variant(), c.Input)
}

// Spec of the fixture of the case.
func (c Case) Spec() fixture.Spec {
	return fixture.Spec{Key: c.Key(), InputShapes: []shapes.Shape{c.Input}}
}

// InputSpec returns the input specification the case compiles with.
func (c Case) InputSpec() shapes.Shape {
	if c.Symbolic {
		return c.Input.WithAxisName(0, BatchAxisName)
	}
	return c.Input
}

// Fn builds the computation of the case.
func (c Case) Fn() graph.Fn {
	permutation := c.Permutation
	switch c.Kind {
	case KindRoundTrip:
		inverse := InversePermutation(permutation)
		return func(g *graph.Graph, params []*graph.Node) []*graph.Node {
			return []*graph.Node{graph.TransposeAllAxes(graph.TransposeAllAxes(params[0], permutation...), inverse...)}
		}
	default:
		return func(g *graph.Graph, params []*graph.Node) []*graph.Node {
			return []*graph.Node{graph.TransposeAllAxes(params[0], permutation...)}
		}
	}
}

// Permutations returns all the permutations of the axes of the given rank, in lexicographic order.
func Permutations(rank int) [][]int {
	var results [][]int
	current := make([]int, 0, rank)
	used := make([]bool, rank)
	var recurse func()
	recurse = func() {
		if len(current) == rank {
			results = append(results, append([]int(nil), current...))
			return
		}
		for axis := range rank {
			if used[axis] {
				continue
			}
			used[axis] = true
			current = append(current, axis)
			recurse()
			current = current[:len(current)-1]
			used[axis] = false
		}
	}
	recurse()
	return results
}

// InversePermutation returns the permutation that undoes permutation.
func InversePermutation(permutation []int) []int {
	inverse := make([]int, len(permutation))
	for axis, fromAxis := range permutation {
		inverse[fromAxis] = axis
	}
	return inverse
}

// Cases returns all the cases of the suite:
//
//   - KindTranspose, for every dtype, rank and permutation.
//   - KindTranspose with a symbolic leading axis, for Float32 and rank >= 2.
//   - KindRoundTrip, for Float32 and Int32, every rank and permutation.
func Cases() []Case {
	var cases []Case
	for rank := 1; rank <= 4; rank++ {
		permutations := Permutations(rank)
		for _, dtype := range DTypes {
			input := shapes.Make(dtype, DimensionsPerRank[rank]...)
			for _, permutation := range permutations {
				cases = append(cases, Case{Kind: KindTranspose, Permutation: permutation, Input: input})
				if dtype == dtypes.Float32 && rank >= 2 {
					cases = append(cases, Case{Kind: KindTranspose, Permutation: permutation, Input: input, Symbolic: true})
				}
				if dtype == dtypes.Float32 || dtype == dtypes.Int32 {
					cases = append(cases, Case{Kind: KindRoundTrip, Permutation: permutation, Input: input})
				}
			}
		}
	}
	return cases
}

// Filter returns the cases whose name matches the regular expression. An empty expression matches all cases.
func Filter(cases []Case, expr string) ([]Case, error) {
	if expr == "" {
		return cases, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid filter %q", expr)
	}
	var filtered []Case
	for _, c := range cases {
		if re.MatchString(c.Name()) {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// Register the builders of the given cases in env.
func Register(env *harness.Env, cases []Case) {
	byKey := make(map[compcache.Key]Case, len(cases))
	for _, c := range cases {
		byKey[c.Key()] = c
	}
	builder := func(key compcache.Key, inputShapes []shapes.Shape) (compcache.Definition, error) {
		c, found := byKey[key]
		if !found {
			return compcache.Definition{}, errors.Errorf("transpose suite: unknown case %s", key)
		}
		return compcache.Definition{Name: c.Name(), Fn: c.Fn(), Specs: []shapes.Shape{c.InputSpec()}}, nil
	}
	env.RegisterKind(KindTranspose, builder)
	env.RegisterKind(KindRoundTrip, builder)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package compcache lazily builds and memoizes the executables of each fixture.
//
// Each fixture identity (Key) owns one Cache, with three slots: eager, accelerated and unaccelerated.
// Each slot is built at most once, on first use, even under concurrent access.
// A failed build leaves the slot empty: the error is returned and nothing is retried automatically,
// but a later call will attempt the build again.
//
// Caches are created by a Table, from the Builder registered for the fixture kind.
package compcache

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagecheck/backends"
	"github.com/gomlx/stagecheck/pkg/core/graph"
	"github.com/gomlx/stagecheck/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrSpecMismatch is the cause of errors due to an input specification incompatible with the fixture's inputs.
var ErrSpecMismatch = errors.New("input specification doesn't match the inputs")

// Key identifies a fixture: operator kind, shape and dtype of its (first) input.
// Variant distinguishes fixtures of the same kind and input, e.g. by the operator attributes.
type Key struct {
	Kind    string
	Variant string
	Shape   string
	DType   dtypes.DType
}

// NewKey returns the key for the given kind, variant and input shape.
func NewKey(kind, variant string, shape shapes.Shape) Key {
	dims := make([]string, shape.Rank())
	for axis := range dims {
		if name := shape.AxisName(axis); name != "" {
			dims[axis] = name
		} else {
			dims[axis] = fmt.Sprint(shape.Dimensions[axis])
		}
	}
	return Key{Kind: kind, Variant: variant, Shape: strings.Join(dims, "x"), DType: shape.DType}
}

// String implements fmt.Stringer.
func (k Key) String() string {
	if k.Variant == "" {
		return fmt.Sprintf("%s/%s[%s]", k.Kind, k.DType, k.Shape)
	}
	return fmt.Sprintf("%s(%s)/%s[%s]", k.Kind, k.Variant, k.DType, k.Shape)
}

// Definition is what a Cache compiles.
type Definition struct {
	// Name of the computation.
	Name string

	// Fn builds the computation.
	Fn graph.Fn

	// Specs is the declared input specification, possibly with symbolic axes.
	Specs []shapes.Shape

	// InputShapes are the concrete shapes of the fixture's inputs, checked against Specs before compiling.
	// Table.For sets it.
	InputShapes []shapes.Shape
}

// Builder returns the Definition for a fixture of the kind it is registered for, given the
// shapes of the fixture's inputs.
type Builder func(key Key, inputShapes []shapes.Shape) (Definition, error)

// Slot enumerates the executables held by a Cache.
type Slot int

const (
	SlotEager Slot = iota
	SlotAccelerated
	SlotUnaccelerated
	numSlots
)

// String implements fmt.Stringer.
func (s Slot) String() string {
	switch s {
	case SlotEager:
		return "eager"
	case SlotAccelerated:
		return "accelerated"
	case SlotUnaccelerated:
		return "unaccelerated"
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

type slot struct {
	mu     sync.Mutex
	exec   backends.Executable
	builds int
}

// Cache holds the lazily built executables of one fixture.
type Cache struct {
	key     Key
	def     Definition
	backend backends.Backend
	slots   [numSlots]slot
}

// New creates an empty Cache for the definition. Nothing is built until requested.
func New(key Key, def Definition, backend backends.Backend) *Cache {
	return &Cache{key: key, def: def, backend: backend}
}

// Key of the fixture.
func (c *Cache) Key() Key { return c.key }

// Eager returns the executable running the computation eagerly.
func (c *Cache) Eager() (backends.Executable, error) {
	return c.get(SlotEager, func() (backends.Executable, error) {
		return c.backend.Eager(c.def.Name, c.def.Fn), nil
	})
}

// Accelerated returns the executable compiled with the acceleration passes enabled.
func (c *Cache) Accelerated() (backends.Executable, error) {
	return c.get(SlotAccelerated, func() (backends.Executable, error) { return c.compile(true) })
}

// Unaccelerated returns the executable compiled with the acceleration passes disabled.
func (c *Cache) Unaccelerated() (backends.Executable, error) {
	return c.get(SlotUnaccelerated, func() (backends.Executable, error) { return c.compile(false) })
}

// NumBuilds returns how many times the slot was built. It's at most 1 unless a build failed.
func (c *Cache) NumBuilds(s Slot) int {
	c.slots[s].mu.Lock()
	defer c.slots[s].mu.Unlock()
	return c.slots[s].builds
}

func (c *Cache) get(s Slot, build func() (backends.Executable, error)) (backends.Executable, error) {
	sl := &c.slots[s]
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.exec != nil {
		return sl.exec, nil
	}
	sl.builds++
	exec, err := build()
	if err != nil {
		return nil, errors.WithMessagef(err, "building %s executable for %s", s, c.key)
	}
	if exec == nil {
		return nil, errors.Errorf("building %s executable for %s: backend returned nil", s, c.key)
	}
	klog.V(1).Infof("compcache: built %s executable for %s", s, c.key)
	sl.exec = exec
	return exec, nil
}

func (c *Cache) compile(accelerate bool) (backends.Executable, error) {
	if _, err := shapes.ExtractAllBindings(c.def.Specs, c.def.InputShapes); err != nil {
		return nil, errors.Wrapf(ErrSpecMismatch, "specification %v, inputs %v: %v", c.def.Specs, c.def.InputShapes, err)
	}
	g, err := graph.Build(c.def.Name, c.def.Fn, c.def.Specs)
	if err != nil {
		return nil, err
	}
	return c.backend.Compile(g, backends.CompileOptions{Accelerate: accelerate})
}

// Table maps fixture keys to their caches.
type Table struct {
	backend backends.Backend

	mu       sync.Mutex
	builders map[string]Builder
	caches   map[Key]*Cache
}

// NewTable creates an empty table whose caches use backend.
func NewTable(backend backends.Backend) *Table {
	return &Table{
		backend:  backend,
		builders: make(map[string]Builder),
		caches:   make(map[Key]*Cache),
	}
}

// Backend used to build executables.
func (t *Table) Backend() backends.Backend { return t.backend }

// RegisterKind registers the builder for fixtures of the given kind. Registering a kind twice replaces the builder.
func (t *Table) RegisterKind(kind string, builder Builder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.builders[kind] = builder
}

// HasKind returns whether a builder is registered for kind.
func (t *Table) HasKind(kind string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, found := t.builders[kind]
	return found
}

// For returns the cache of the fixture, creating it on first use with the inputs shapes given.
func (t *Table) For(key Key, inputShapes []shapes.Shape) (*Cache, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cache, found := t.caches[key]; found {
		return cache, nil
	}
	builder, found := t.builders[key.Kind]
	if !found {
		return nil, errors.Errorf("compcache: no builder registered for fixture kind %q", key.Kind)
	}
	def, err := builder(key, inputShapes)
	if err != nil {
		return nil, errors.WithMessagef(err, "compcache: defining %s", key)
	}
	if def.Fn == nil {
		return nil, errors.Errorf("compcache: builder for %q returned a definition without Fn", key.Kind)
	}
	def.InputShapes = slices.Clone(inputShapes)
	cache := New(key, def, t.backend)
	t.caches[key] = cache
	return cache, nil
}

// NumEntries returns the number of caches created.
func (t *Table) NumEntries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.caches)
}

// NumBuilds returns the total number of executables built, over all caches and slots.
func (t *Table) NumBuilds() int {
	t.mu.Lock()
	caches := make([]*Cache, 0, len(t.caches))
	for _, cache := range t.caches {
		caches = append(caches, cache)
	}
	t.mu.Unlock()
	var count int
	for _, cache := range caches {
		for s := range numSlots {
			count += cache.NumBuilds(s)
		}
	}
	return count
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stages

import (
	"testing"

	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(
		Stage{Name: "capture"},
		Stage{Name: "fold", Options: map[string]string{"FLAGS_fold_transposes": "true"}},
		Stage{Name: "layout"},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"capture", "fold", "layout"}, r.Names())
	require.Equal(t, 3, r.Len())

	fold, found := r.Lookup("fold")
	require.True(t, found)
	require.Equal(t, "true", fold.Options["FLAGS_fold_transposes"])
	_, found = r.Lookup("missing")
	require.False(t, found)

	prev, found := r.Previous(fold)
	require.True(t, found)
	require.Equal(t, "capture", prev.Name)
	capture, _ := r.Lookup("capture")
	_, found = r.Previous(capture)
	require.False(t, found)

	require.Panics(t, func() { r.Previous(&Stage{Name: "missing"}) })

	err = r.Register(Stage{Name: "fold"})
	require.Error(t, err)
	require.True(t, errors.Is(err, config.ErrConfiguration))
	require.Error(t, r.Register(Stage{}))
	require.Panics(t, func() { MustNewRegistry(Stage{Name: "a"}, Stage{Name: "a"}) })
}

func TestSelector(t *testing.T) {
	r := MustNewRegistry(Stage{Name: "A"}, Stage{Name: "B"})

	stage, err := NewSelector(r, config.Config{}).Current()
	require.NoError(t, err)
	require.Nil(t, stage)

	stage, err = NewSelector(r, config.Config{StageName: "B"}).Current()
	require.NoError(t, err)
	require.Equal(t, "B", stage.Name)

	_, err = NewSelector(r, config.Config{StageName: "C"}).Current()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStage))
	assert.True(t, errors.Is(err, config.ErrConfiguration))
	assert.Contains(t, err.Error(), "A, B")

	require.Panics(t, func() { NewSelector(r, config.Config{StageName: "C"}).MustCurrent() })
}

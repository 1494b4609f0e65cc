// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) LookupFn {
	return func(key string) (string, bool) {
		value, found := env[key]
		return value, found
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(mapLookup(nil))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	assert.Empty(t, cfg.StageName)
	assert.False(t, cfg.BisectionEnabled)
	assert.True(t, cfg.AccelEnabled)
	assert.True(t, cfg.ReferenceViaCompilation)
	assert.Equal(t, 10*time.Minute, cfg.BisectionTimeout)
	assert.Nil(t, cfg.Float16Tol)
	assert.Nil(t, cfg.Float32Tol)
}

func TestLoad(t *testing.T) {
	cfg, err := Load(mapLookup(map[string]string{
		StageNameEnv:               " fold ",
		BisectionEnabledEnv:        "Yes",
		BisectionTimeoutEnv:        "90s",
		AccelEnabledEnv:            "off",
		ReferenceViaCompilationEnv: "0",
		Float16TolEnv:              "not-a-number",
		Float32TolEnv:              "0.01",
		RunIDEnv:                   "run-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "fold", cfg.StageName)
	assert.True(t, cfg.BisectionEnabled)
	assert.Equal(t, 90*time.Second, cfg.BisectionTimeout)
	assert.False(t, cfg.AccelEnabled)
	assert.False(t, cfg.ReferenceViaCompilation)
	assert.Nil(t, cfg.Float16Tol, "unparsable tolerances fall back to the default")
	require.NotNil(t, cfg.Float32Tol)
	assert.Equal(t, 0.01, *cfg.Float32Tol)
	assert.Equal(t, "run-1", cfg.RunID)
}

func TestLoadErrors(t *testing.T) {
	for _, env := range []map[string]string{
		{BisectionEnabledEnv: "maybe"},
		{AccelEnabledEnv: "2"},
		{BisectionTimeoutEnv: "forever"},
		{BisectionTimeoutEnv: "-1s"},
	} {
		_, err := Load(mapLookup(env))
		require.Error(t, err, "env=%v", env)
		require.True(t, errors.Is(err, ErrConfiguration), "env=%v: %v", env, err)
	}
}

func TestNonFiniteTolerances(t *testing.T) {
	for _, value := range []string{"NaN", "nan", "Inf", "+Inf", "-Inf", "-0.5"} {
		cfg, err := Load(mapLookup(map[string]string{Float16TolEnv: value, Float32TolEnv: value}))
		require.NoError(t, err, "tolerance %q", value)
		assert.Nil(t, cfg.Float16Tol, "tolerance %q must fall back to the default", value)
		assert.Nil(t, cfg.Float32Tol, "tolerance %q must fall back to the default", value)
	}
	cfg, err := Load(mapLookup(map[string]string{Float16TolEnv: "0.05"}))
	require.NoError(t, err)
	require.NotNil(t, cfg.Float16Tol)
	assert.Equal(t, 0.05, *cfg.Float16Tol)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(StageNameEnv, "capture")
	t.Setenv(Float32TolEnv, "1e-3")
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "capture", cfg.StageName)
	require.NotNil(t, cfg.Float32Tol)
	require.Equal(t, 1e-3, *cfg.Float32Tol)
}

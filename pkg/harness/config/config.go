// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config reads the harness configuration from the environment.
//
// All values are optional:
//
//   - STAGE_NAME: the current pipeline stage. Empty or absent disables bisection.
//   - BISECTION_ENABLED: re-run the previous stage to tell new failures from inherited ones. Default false.
//   - BISECTION_TIMEOUT: maximum duration of the bisection child process. Default 10m.
//   - ACCEL_ENABLED: whether the candidate path compiles with acceleration. Default true.
//   - REFERENCE_VIA_COMPILATION: reference path uses the unaccelerated compilation instead of eager execution.
//     Default true.
//   - FLOAT16_TOL, FLOAT32_TOL: comparison tolerance (atol and rtol) overrides.
//   - STAGECHECK_RUN_ID: correlation id shared by a process and its bisection children.
//
// Boolean values accept 1/0, true/false, yes/no and on/off, case-insensitive.
package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the environment variables.
const (
	StageNameEnv               = "STAGE_NAME"
	BisectionEnabledEnv        = "BISECTION_ENABLED"
	BisectionTimeoutEnv        = "BISECTION_TIMEOUT"
	AccelEnabledEnv            = "ACCEL_ENABLED"
	ReferenceViaCompilationEnv = "REFERENCE_VIA_COMPILATION"
	Float16TolEnv              = "FLOAT16_TOL"
	Float32TolEnv              = "FLOAT32_TOL"
	RunIDEnv                   = "STAGECHECK_RUN_ID"
)

// DefaultBisectionTimeout bounds the bisection child process if BISECTION_TIMEOUT is not set.
const DefaultBisectionTimeout = 10 * time.Minute

// ErrConfiguration is the cause of every configuration error: they are fatal and never retried.
var ErrConfiguration = errors.New("configuration error")

// LookupFn looks up an environment variable, with the same semantics as os.LookupEnv.
type LookupFn func(key string) (string, bool)

// Config holds the parsed harness configuration.
type Config struct {
	StageName               string
	BisectionEnabled        bool
	BisectionTimeout        time.Duration
	AccelEnabled            bool
	ReferenceViaCompilation bool

	// Float16Tol and Float32Tol are nil if not overridden or if the override couldn't be parsed.
	Float16Tol, Float32Tol *float64

	RunID string
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		BisectionTimeout:        DefaultBisectionTimeout,
		AccelEnabled:            true,
		ReferenceViaCompilation: true,
	}
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load reads the configuration using lookup. Malformed booleans or durations return an error
// wrapping ErrConfiguration. Malformed tolerances are ignored (with a warning) and the default is used.
func Load(lookup LookupFn) (Config, error) {
	cfg := Default()
	var err error
	cfg.StageName = strings.TrimSpace(get(lookup, StageNameEnv))
	if cfg.BisectionEnabled, err = parseBool(lookup, BisectionEnabledEnv, false); err != nil {
		return cfg, err
	}
	if cfg.AccelEnabled, err = parseBool(lookup, AccelEnabledEnv, true); err != nil {
		return cfg, err
	}
	if cfg.ReferenceViaCompilation, err = parseBool(lookup, ReferenceViaCompilationEnv, true); err != nil {
		return cfg, err
	}
	if value := get(lookup, BisectionTimeoutEnv); value != "" {
		cfg.BisectionTimeout, err = time.ParseDuration(value)
		if err != nil || cfg.BisectionTimeout <= 0 {
			return cfg, errors.Wrapf(ErrConfiguration, "invalid duration %q for %s", value, BisectionTimeoutEnv)
		}
	}
	cfg.Float16Tol = parseTolerance(lookup, Float16TolEnv)
	cfg.Float32Tol = parseTolerance(lookup, Float32TolEnv)
	cfg.RunID = get(lookup, RunIDEnv)
	return cfg, nil
}

func get(lookup LookupFn, key string) string {
	value, found := lookup(key)
	if !found {
		return ""
	}
	return strings.TrimSpace(value)
}

// ParseBool parses the boolean-like values accepted in the configuration.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "t", "y":
		return true, nil
	case "0", "false", "no", "off", "f", "n":
		return false, nil
	}
	return false, errors.Errorf("invalid boolean value %q", value)
}

func parseBool(lookup LookupFn, key string, defaultValue bool) (bool, error) {
	value := get(lookup, key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := ParseBool(value)
	if err != nil {
		return defaultValue, errors.Wrapf(ErrConfiguration, "%s=%q: %v", key, value, err)
	}
	return b, nil
}

func parseTolerance(lookup LookupFn, key string) *float64 {
	value := get(lookup, key)
	if value == "" {
		return nil
	}
	tol, err := strconv.ParseFloat(value, 64)
	if err != nil || tol < 0 || math.IsNaN(tol) || math.IsInf(tol, 0) {
		klog.Warningf("ignoring invalid tolerance %s=%q, using the default", key, value)
		return nil
	}
	return &tol
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/stagecheck/backends/simplego"
	"github.com/gomlx/stagecheck/pkg/harness"
	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/gomlx/stagecheck/pkg/harness/dump"
	"github.com/gomlx/stagecheck/pkg/harness/fixture"
	"github.com/gomlx/stagecheck/pkg/harness/stages"
	"github.com/gomlx/stagecheck/suites/transpose"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupWithFlags(t *testing.T) {
	*flagStage, *flagBisect = "fold", true
	defer func() { *flagStage, *flagBisect = "", false }()

	t.Setenv(config.StageNameEnv, "")
	require.NoError(t, os.Unsetenv(config.StageNameEnv))
	t.Setenv(config.BisectionEnabledEnv, "false")

	value, found := lookupWithFlags(config.StageNameEnv)
	require.True(t, found)
	assert.Equal(t, "fold", value)

	// The environment takes precedence: it is how bisection children are configured.
	value, found = lookupWithFlags(config.BisectionEnabledEnv)
	require.True(t, found)
	assert.Equal(t, "false", value)

	t.Setenv(config.StageNameEnv, "layout")
	value, _ = lookupWithFlags(config.StageNameEnv)
	assert.Equal(t, "layout", value)

	cfg, err := config.Load(lookupWithFlags)
	require.NoError(t, err)
	assert.Equal(t, "layout", cfg.StageName)
	assert.False(t, cfg.BisectionEnabled)
}

func TestStagesTable(t *testing.T) {
	rendered := stagesTable(transpose.Pipeline()).Render()
	for _, name := range transpose.Pipeline().Names() {
		assert.Contains(t, rendered, name)
	}
	assert.Contains(t, rendered, "FLAGS_fold_transposes=true")
}

func testResults() []caseResult {
	return []caseResult{
		{Name: "transpose/Float32/3x4/perm_1_0", Outcome: fixture.OutcomePassed, Duration: time.Millisecond},
		{Name: "transpose/Int32/3x4/perm_1_0", Outcome: fixture.OutcomeFailed, Err: errors.New("values differ")},
		{Name: "transpose/Int64/3x4/perm_1_0", Outcome: fixture.OutcomeFailed, Err: errors.New("values differ")},
		{Name: "transpose/Uint8/3x4/perm_1_0", Outcome: fixture.OutcomeFailed, Err: errors.New("values differ")},
		{Name: "transpose/Bool/3x4/perm_1_0", Outcome: fixture.OutcomeSkipped},
	}
}

func TestFailuresTable(t *testing.T) {
	assert.Nil(t, failuresTable(testResults()[:1], 0))

	rendered := failuresTable(testResults(), 1).Render()
	assert.Contains(t, rendered, "transpose/Int32/3x4/perm_1_0")
	assert.NotContains(t, rendered, "transpose/Int64/3x4/perm_1_0")
	assert.Contains(t, rendered, "2 more failures")

	rendered = failuresTable(testResults(), 0).Render()
	assert.Contains(t, rendered, "transpose/Uint8/3x4/perm_1_0")
	assert.NotContains(t, rendered, "more failures")
}

func TestReport(t *testing.T) {
	env := &harness.Env{RunID: "run-0", Backend: must.M1(simplego.New(""))}
	data, err := newReport(env, testResults(), 2*time.Second).canonicalJSON()
	require.NoError(t, err)
	// Canonical form: sorted keys, no whitespace.
	assert.True(t, strings.HasPrefix(string(data), `{"backend":"go","cases":[`), "got %s", data)
	assert.NotContains(t, string(data), "\n")

	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-0", decoded.RunID)
	assert.Empty(t, decoded.Stage)
	assert.Equal(t, int64(2000), decoded.ElapsedMs)
	assert.Equal(t, map[string]int{"passed": 1, "failed": 3, "skipped": 1}, decoded.Counts)
	require.Len(t, decoded.Cases, 5)
	assert.Equal(t, "values differ", decoded.Cases[1].Error)
	assert.Equal(t, int64(1000), decoded.Cases[0].DurationUs)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeReport(path, env, testResults(), 2*time.Second))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestDumpsPerStage(t *testing.T) {
	assert.Equal(t, "", stageDumpDir("", &stages.Stage{Name: "fold"}))
	assert.Equal(t, "dumps", stageDumpDir("dumps", nil))
	assert.Equal(t, filepath.Join("dumps", "fold"), stageDumpDir("dumps", &stages.Stage{Name: "fold"}))

	cases, err := transpose.Filter(transpose.Cases(), `^transpose/Float32/3x4/perm_1_0$`)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	dumpDir := t.TempDir()
	for _, stageName := range []string{"fold", "layout"} {
		cfg := config.Default()
		cfg.StageName = stageName
		env, err := harness.NewEnv(cfg, transpose.Pipeline(), must.M1(simplego.New("")),
			harness.WithSetenv(func(string, string) error { return nil }))
		require.NoError(t, err)
		// No kinds registered: every case fails, and only its inputs are dumped.
		results := runCases(context.Background(), env, cases, false, dumpDir)
		require.Len(t, results, 1)
		require.Equal(t, fixture.OutcomeFailed, results[0].Outcome)
		_, err = os.Stat(filepath.Join(dumpDir, stageName, dump.FileName(cases[0].Key())))
		require.NoError(t, err, "stage %s", stageName)
	}
	entries, err := os.ReadDir(dumpDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the per-stage subdirectories are created")
}


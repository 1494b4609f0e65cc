// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gomlx/stagecheck/pkg/harness"
	"github.com/gomlx/stagecheck/pkg/harness/dump"
	"github.com/gomlx/stagecheck/pkg/harness/fixture"
	"github.com/gomlx/stagecheck/pkg/harness/stages"
	"github.com/gomlx/stagecheck/suites/transpose"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// caseResult is the outcome of one case.
type caseResult struct {
	Name     string
	Outcome  fixture.Outcome
	Err      error
	Duration time.Duration
}

// stageDumpDir returns the directory where the failing cases of the stage are dumped: a subdirectory of dumpDir
// named after the stage, so a bisection child (re-run with the same -dump_dir) never mixes its dumps with the
// parent's.
func stageDumpDir(dumpDir string, stage *stages.Stage) string {
	if dumpDir == "" || stage == nil {
		return dumpDir
	}
	return filepath.Join(dumpDir, stage.Name)
}

// runCases runs the cases in order. If dumpDir is set, the tensors of the failing cases are written to
// stageDumpDir(dumpDir, env.Stage).
func runCases(ctx context.Context, env *harness.Env, cases []transpose.Case, withProgressBar bool, dumpDir string) []caseResult {
	var bar *progressbar.ProgressBar
	if withProgressBar {
		description := "cases"
		if env.Stage != nil {
			description = env.Stage.Name
		}
		bar = progressbar.NewOptions(len(cases),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	dumpDir = stageDumpDir(dumpDir, env.Stage)
	results := make([]caseResult, 0, len(cases))
	for _, c := range cases {
		start := time.Now()
		f := env.Fixture(c.Spec())
		outcome, err := f.Run(ctx)
		results = append(results, caseResult{Name: c.Name(), Outcome: outcome, Err: err, Duration: time.Since(start)})
		if err != nil {
			klog.V(1).Infof("%s: %v", c.Name(), err)
		}
		if outcome == fixture.OutcomeFailed && dumpDir != "" {
			if _, dumpErr := dump.Fixture(dumpDir, f); dumpErr != nil {
				klog.Warningf("%s: failed to dump tensors: %+v", c.Name(), dumpErr)
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return results
}

func countOutcomes(results []caseResult) map[fixture.Outcome]int {
	counts := make(map[fixture.Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}

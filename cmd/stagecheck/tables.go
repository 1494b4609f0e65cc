// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/stagecheck/pkg/harness"
	"github.com/gomlx/stagecheck/pkg/harness/fixture"
	"github.com/gomlx/stagecheck/pkg/harness/stages"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// tableWithReds is a table where some rows can be highlighted in red.
type tableWithReds struct {
	Table *lgtable.Table
	Count int
	Reds  map[int]bool
}

func (t *tableWithReds) Row(isRed bool, row ...string) {
	if isRed {
		t.Reds[t.Count] = true
	}
	t.Table.Row(row...)
	t.Count++
}

func newTable(headers []string, alignments ...lipgloss.Position) *tableWithReds {
	t := &tableWithReds{Reds: make(map[int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			if t.Reds[row] {
				s = redRowStyle
			} else if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	if len(headers) > 0 {
		t.Table.Headers(headers...)
	}
	return t
}

func formatOptions(options map[string]string) string {
	parts := make([]string, 0, len(options))
	for _, name := range slices.Sorted(maps.Keys(options)) {
		parts = append(parts, fmt.Sprintf("%s=%s", name, options[name]))
	}
	return strings.Join(parts, "\n")
}

func stagesTable(registry *stages.Registry) *lgtable.Table {
	t := newTable([]string{"#", "Stage", "Options"}, lipgloss.Right, lipgloss.Left)
	for ii, stage := range registry.Stages() {
		t.Row(false, fmt.Sprint(ii), stage.Name, formatOptions(stage.Options))
	}
	return t.Table
}

func summaryTable(env *harness.Env, results []caseResult, elapsed time.Duration) *lgtable.Table {
	counts := countOutcomes(results)
	t := newTable(nil, lipgloss.Right, lipgloss.Left)
	t.Row(false, "run id", env.RunID)
	t.Row(false, "stage", env.Stage.String())
	t.Row(false, "bisection", fmt.Sprint(env.Bisection.Enabled()))
	t.Row(false, "backend", env.Backend.Description())
	t.Row(false, "cases", humanize.Comma(int64(len(results))))
	t.Row(false, "passed", humanize.Comma(int64(counts[fixture.OutcomePassed])))
	t.Row(counts[fixture.OutcomeFailed] > 0, "failed", humanize.Comma(int64(counts[fixture.OutcomeFailed])))
	t.Row(false, "skipped", humanize.Comma(int64(counts[fixture.OutcomeSkipped])))
	t.Row(false, "executables built", humanize.Comma(int64(env.Table.NumBuilds())))
	t.Row(false, "elapsed", elapsed.Round(time.Millisecond).String())
	return t.Table
}

// failuresTable lists up to maxRows failed cases, or returns nil if there are none.
func failuresTable(results []caseResult, maxRows int) *lgtable.Table {
	t := newTable([]string{"Case", "Error"}, lipgloss.Left)
	var numFailures int
	for _, r := range results {
		if r.Outcome != fixture.OutcomeFailed {
			continue
		}
		numFailures++
		if maxRows > 0 && numFailures > maxRows {
			continue
		}
		t.Row(true, r.Name, fmt.Sprint(r.Err))
	}
	if numFailures == 0 {
		return nil
	}
	if maxRows > 0 && numFailures > maxRows {
		t.Row(false, "...", fmt.Sprintf("%s more failures", humanize.Comma(int64(numFailures-maxRows))))
	}
	return t.Table
}

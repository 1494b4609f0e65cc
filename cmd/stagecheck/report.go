// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/gomlx/stagecheck/pkg/harness"
	"github.com/pkg/errors"
)

// report is the JSON form of the results of a run.
type report struct {
	RunID     string            `json:"run_id"`
	Stage     string            `json:"stage,omitempty"`
	Backend   string            `json:"backend"`
	Flags     map[string]string `json:"flags"`
	ElapsedMs int64             `json:"elapsed_ms"`
	Counts    map[string]int    `json:"counts"`
	Cases     []caseReport      `json:"cases"`
}

type caseReport struct {
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	DurationUs int64  `json:"duration_us"`
}

func newReport(env *harness.Env, results []caseResult, elapsed time.Duration) *report {
	r := &report{
		RunID:     env.RunID,
		Backend:   env.Backend.Name(),
		Flags:     env.Backend.Flags(),
		ElapsedMs: elapsed.Milliseconds(),
		Counts:    make(map[string]int),
		Cases:     make([]caseReport, 0, len(results)),
	}
	if env.Stage != nil {
		r.Stage = env.Stage.Name
	}
	for outcome, count := range countOutcomes(results) {
		r.Counts[outcome.String()] = count
	}
	for _, result := range results {
		c := caseReport{Name: result.Name, Outcome: result.Outcome.String(), DurationUs: result.Duration.Microseconds()}
		if result.Err != nil {
			c.Error = result.Err.Error()
		}
		r.Cases = append(r.Cases, c)
	}
	return r
}

// canonicalJSON serializes the report in the JSON canonical form (RFC 8785), so reports of runs with the
// same results are byte-identical up to the run id and timings.
func (r *report) canonicalJSON() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "serializing report")
	}
	canonical, err := jsoncanonicalizer.Transform(data)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalizing report")
	}
	return canonical, nil
}

func writeReport(path string, env *harness.Env, results []caseResult, elapsed time.Duration) error {
	data, err := newReport(env, results, elapsed).canonicalJSON()
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing report to %q", path)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// stagecheck runs the transpose regression suite in-process, for the current stage of the compiler pipeline.
//
// The stage and bisection can be selected with flags or with the STAGE_NAME and BISECTION_ENABLED environment
// variables; the environment takes precedence, since that is how the bisection child process is configured.
// The child process is this same binary, re-executed with the same arguments.
//
// Exit codes: 0 if all cases passed (or were skipped), 1 if any case failed, 2 on configuration errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/stagecheck/backends"
	_ "github.com/gomlx/stagecheck/backends/simplego"
	"github.com/gomlx/stagecheck/pkg/harness"
	"github.com/gomlx/stagecheck/pkg/harness/config"
	"github.com/gomlx/stagecheck/pkg/harness/fixture"
	"github.com/gomlx/stagecheck/suites/transpose"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

// Exit codes.
const (
	exitPassed        = 0
	exitFailed        = 1
	exitConfiguration = 2
)

var (
	flagList   = flag.Bool("list", false, "List the stages of the pipeline and exit.")
	flagStage  = flag.String("stage", "", "Stage to run, if STAGE_NAME is not set.")
	flagBisect = flag.Bool("bisect", false, "Enable bisection, if BISECTION_ENABLED is not set: "+
		"cases are skipped if the previous stage already fails.")
	flagFilter   = flag.String("filter", "", "Regular expression selecting the cases to run by name.")
	flagReport   = flag.String("report", "", "If set, write the results as canonical JSON to this file.")
	flagFailures = flag.Int("max_failures", 20, "Maximum number of failures detailed in the output. 0 for all.")
	flagQuiet    = flag.Bool("quiet", false, "Disable the progress bar.")
	flagDumpDir  = flag.String("dump_dir", "", "If set, the inputs and outputs of failing cases are written "+
		"to this directory as NumPy .npz files.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	os.Exit(run())
}

// lookupWithFlags returns the environment value if set, otherwise the value given by the command-line flags.
func lookupWithFlags(key string) (string, bool) {
	if value, found := os.LookupEnv(key); found {
		return value, true
	}
	switch key {
	case config.StageNameEnv:
		if *flagStage != "" {
			return *flagStage, true
		}
	case config.BisectionEnabledEnv:
		if *flagBisect {
			return "true", true
		}
	}
	return "", false
}

func run() int {
	registry := transpose.Pipeline()
	output := termenv.NewOutput(os.Stdout)
	lipgloss.SetColorProfile(output.Profile)
	if *flagList {
		fmt.Println(stagesTable(registry).Render())
		return exitPassed
	}

	cfg, err := config.Load(lookupWithFlags)
	if err != nil {
		klog.Errorf("%+v", err)
		return exitConfiguration
	}
	backend, err := backends.New()
	if err != nil {
		klog.Errorf("%+v", err)
		return exitConfiguration
	}
	env, err := harness.NewEnv(cfg, registry, backend)
	if err != nil {
		klog.Errorf("%+v", err)
		return exitConfiguration
	}
	cases, err := transpose.Filter(transpose.Cases(), *flagFilter)
	if err != nil {
		klog.Errorf("%+v", err)
		return exitConfiguration
	}
	transpose.Register(env, cases)

	start := time.Now()
	results := runCases(context.Background(), env, cases, !*flagQuiet && output.Profile != termenv.Ascii, *flagDumpDir)
	elapsed := time.Since(start)

	fmt.Println(titleStyle.Render("stagecheck"))
	fmt.Println(summaryTable(env, results, elapsed).Render())
	if failures := failuresTable(results, *flagFailures); failures != nil {
		fmt.Println(titleStyle.Render("Failures"))
		fmt.Println(failures.Render())
	}
	if *flagReport != "" {
		must.M(writeReport(*flagReport, env, results, elapsed))
		klog.V(1).Infof("report written to %q", *flagReport)
	}
	if countOutcomes(results)[fixture.OutcomeFailed] > 0 {
		return exitFailed
	}
	return exitPassed
}

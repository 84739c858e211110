// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// lotus-aa: flow- and field-sensitive points-to analysis with on-the-fly call
// graph discovery.
// -config     Path of a yaml configuration file.
// -cgout      Given a path for a .dot file, writes the resolved call graph there.
// -ssaout     Given a path for a folder, writes the ssa representation of each
//             package there.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/tools/go/ssa"

	"github.com/Yanhaoxi/lotus-zju-sub003/analysis"
	"github.com/Yanhaoxi/lotus-zju-sub003/analysis/config"
	"github.com/Yanhaoxi/lotus-zju-sub003/analysis/lotusaa"
	render "github.com/Yanhaoxi/lotus-zju-sub003/analysis/rendering"
	"github.com/Yanhaoxi/lotus-zju-sub003/internal/formatutil"
)

var (
	configPath = flag.String("config", "", "Config file path for the analysis")
	cgOut      = flag.String("cgout", "", "Output file for the resolved call graph (graphviz)")
	ssaOut     = flag.String("ssaout", "", "Output folder for the ssa representation of the program")
	buildmode  = ssa.BuilderMode(0)
)

func init() {
	flag.Var(&buildmode, "build", ssa.BuilderModeDoc)
}

const usage = ` Run the points-to analysis on your packages.
Usage:
    lotus-aa [options] <package path(s)>
Examples:
% lotus-aa -config config.yaml package...
Run without config to use the default analysis parameters.
`

func main() {
	flag.Parse()

	if flag.NArg() == 0 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := config.NewDefault()
	if *configPath != "" {
		config.SetGlobalConfig(*configPath)
		loaded, err := config.LoadGlobal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not load config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	logger := config.NewLogGroup(cfg)

	logger.Infof(formatutil.Faint("Reading sources"))
	program, err := analysis.LoadProgram(nil, "", buildmode, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load program: %v\n", err)
		os.Exit(1)
	}

	state, err := lotusaa.NewAnalyzerState(program.Program, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize analysis: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	result, err := lotusaa.Analyze(state)
	duration := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("Analysis took %3.4f s", duration.Seconds())

	if cfg.PrintPointsTo {
		lotusaa.ReportPointsTo(os.Stdout, result)
	}
	if cfg.PrintCallGraph {
		lotusaa.ReportCallGraph(os.Stdout, result)
		lotusaa.ReportUnresolved(os.Stdout, result)
	}
	if cfg.Verbose() {
		lotusaa.ReportCycles(os.Stdout, result)
	}

	if *cgOut != "" {
		logger.Infof("Writing call graph to %s", *cgOut)
		if err := render.GraphvizToFile(cfg, result.CallGraph, *cgOut); err != nil {
			fmt.Fprintf(os.Stderr, "could not write call graph: %v\n", err)
			os.Exit(1)
		}
	}
	if *ssaOut != "" {
		logger.Infof("Writing ssa representation to %s", *ssaOut)
		if err := render.OutputSsaPackages(program.Program, *ssaOut); err != nil {
			fmt.Fprintf(os.Stderr, "could not write ssa: %v\n", err)
			os.Exit(1)
		}
	}
}

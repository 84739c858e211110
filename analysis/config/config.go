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

package config

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config groups all the user-facing settings of the pointer analysis.
// If some field is not defined in the config file, it will be empty/zero in the struct.
// private fields are not populated from a yaml file, but computed after initialization
type Config struct {
	Options

	sourceFile string

	// if the PkgFilter is specified
	pkgFilterRegex *regexp.Regexp
}

type Options struct {
	// PkgFilter restricts which packages get their functions analyzed. Functions in
	// non-matching packages are still call-graph nodes but are treated as unanalyzed.
	PkgFilter string `yaml:"pkg-filter"`

	// EnableCallGraph turns on the iterative on-the-fly call-graph construction. When
	// false the analysis runs a single pass over the statically resolvable call graph.
	EnableCallGraph bool `yaml:"enable-call-graph"`

	// GlobalHeuristic enables the pre-pass that records constants stored to globals, so
	// that loads from never-overwritten globals resolve to their initializers.
	GlobalHeuristic bool `yaml:"global-heuristic"`

	// MaxCGIterations bounds the number of outer analyze-merge-refine rounds.
	// If it is <= 0 the default is used.
	MaxCGIterations int `yaml:"max-cg-iterations"`

	// MaxCallees bounds the number of resolved targets kept per indirect call site.
	// A site exceeding the bound is left unresolved. If <= 0 the default is used.
	MaxCallees int `yaml:"max-callees"`

	// NumThreads is the size of the function-analysis worker pool. 0 selects the
	// number of available CPUs.
	NumThreads int `yaml:"num-threads"`

	// MaxValuesPerBlock caps the reaching values collected from a single basic block
	// during a memory query. -1 means unlimited.
	MaxValuesPerBlock int `yaml:"max-values-per-block"`

	// MaxBlocksPerQuery caps the number of dominating blocks walked during a memory
	// query. -1 means unlimited.
	MaxBlocksPerQuery int `yaml:"max-blocks-per-query"`

	// MaxValuesPerQuery caps the total values collected by a single memory query.
	// -1 means unlimited.
	MaxValuesPerQuery int `yaml:"max-values-per-query"`

	// MaxPhiFrontier caps the number of weak join entries placed per store.
	// -1 means unlimited.
	MaxPhiFrontier int `yaml:"max-phi-frontier"`

	// MaxPointsToSize caps the cardinality of a resolved points-to set; larger sets
	// collapse to the unknown object. If <= 0 the default is used.
	MaxPointsToSize int `yaml:"max-points-to-size"`

	// MaxAccessPathDepth caps the breadth-first search that measures how far an object
	// is from the arguments of a call site. If <= 0 the default is used.
	MaxAccessPathDepth int `yaml:"max-access-path-depth"`

	// MaxSummaryDepth bounds the access-path level of entries kept in a function
	// interface summary. If <= 0 the default is used.
	MaxSummaryDepth int `yaml:"max-summary-depth"`

	// MaxSummarySize bounds the number of inputs and outputs kept in a function
	// interface summary. If <= 0 the default is used.
	MaxSummarySize int `yaml:"max-summary-size"`

	// PrintPointsTo prints the resolved points-to set of every pointer value.
	PrintPointsTo bool `yaml:"print-points-to"`

	// PrintCallGraph prints the resolved targets of every indirect call site.
	PrintCallGraph bool `yaml:"print-call-graph"`

	// Loglevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`

	// Suppress warnings
	SilenceWarn bool `yaml:"silence-warn"`
}

// NewDefault returns a config with the documented default settings.
func NewDefault() *Config {
	return &Config{
		sourceFile: "",
		Options: Options{
			PkgFilter:          "",
			EnableCallGraph:    true,
			GlobalHeuristic:    true,
			MaxCGIterations:    DefaultMaxCGIterations,
			MaxCallees:         DefaultMaxCallees,
			NumThreads:         0,
			MaxValuesPerBlock:  DefaultMaxValuesPerBlock,
			MaxBlocksPerQuery:  DefaultMaxBlocksPerQuery,
			MaxValuesPerQuery:  DefaultMaxValuesPerQuery,
			MaxPhiFrontier:     DefaultMaxPhiFrontier,
			MaxPointsToSize:    DefaultMaxPointsToSize,
			MaxAccessPathDepth: DefaultMaxAccessPathDepth,
			MaxSummaryDepth:    DefaultMaxSummaryDepth,
			MaxSummarySize:     DefaultMaxSummarySize,
			PrintPointsTo:      false,
			PrintCallGraph:     false,
			LogLevel:           int(InfoLevel),
			SilenceWarn:        false,
		},
	}
}

// Load reads a configuration from a file
func Load(filename string) (*Config, error) {
	cfg := NewDefault()
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config file: %w", err)
	}

	cfg.sourceFile = filename

	// If logLevel has not been specified (i.e. it is 0) set the default to Info
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}

	applyDefaults(&cfg.Options)

	if cfg.PkgFilter != "" {
		r, err := regexp.Compile(cfg.PkgFilter)
		if err == nil {
			cfg.pkgFilterRegex = r
		}
	}

	return cfg, nil
}

// applyDefaults replaces unset bound options by their defaults. The per-block,
// per-query and phi-frontier caps keep 0 as given and accept -1 for unlimited,
// so only their zero-from-omission case is patched through yaml by NewDefault.
func applyDefaults(o *Options) {
	if o.MaxCGIterations <= 0 {
		o.MaxCGIterations = DefaultMaxCGIterations
	}
	if o.MaxCallees <= 0 {
		o.MaxCallees = DefaultMaxCallees
	}
	if o.MaxPointsToSize <= 0 {
		o.MaxPointsToSize = DefaultMaxPointsToSize
	}
	if o.MaxAccessPathDepth <= 0 {
		o.MaxAccessPathDepth = DefaultMaxAccessPathDepth
	}
	if o.MaxSummaryDepth <= 0 {
		o.MaxSummaryDepth = DefaultMaxSummaryDepth
	}
	if o.MaxSummarySize <= 0 {
		o.MaxSummarySize = DefaultMaxSummarySize
	}
}

// Workers returns the effective worker pool size.
func (c Config) Workers() int {
	if c.NumThreads <= 0 {
		return runtime.NumCPU()
	}
	return c.NumThreads
}

// RelPath returns filename path relative to the config source file
func (c Config) RelPath(filename string) string {
	return path.Join(path.Dir(c.sourceFile), filename)
}

// MatchPkgFilter returns true if the package name pkgname matches the package filter set in the config file. If no
// package filter has been set in the config file, the regex will match anything and return true. This function safely
// considers the case where a filter has been specified by the user, but it could not be compiled to a regex. The safe
// case is to check whether the package filter string is a prefix of the pkgname
func (c Config) MatchPkgFilter(pkgname string) bool {
	if c.pkgFilterRegex != nil {
		return c.pkgFilterRegex.MatchString(pkgname)
	} else if c.PkgFilter != "" {
		return strings.HasPrefix(pkgname, c.PkgFilter)
	} else {
		return true
	}
}

// Verbose returns true is the configuration verbosity setting is larger than Info (i.e. Debug or Trace)
func (c Config) Verbose() bool {
	return c.LogLevel >= int(DebugLevel)
}

// Unlimited reports whether a cap option set to n disables the bound.
func Unlimited(n int) bool {
	return n < 0
}

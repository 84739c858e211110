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

package lotusaa

import (
	"fmt"
	"go/types"
	"sync"

	"github.com/Yanhaoxi/lotus-zju-sub003/analysis/config"
	"golang.org/x/tools/go/ssa"
)

// AnalyzerState groups everything shared by the function analyses of one run: the
// program, the configuration, the logger, the sentinel values, and the caches that
// are safe to share across worker goroutines. One run builds one state; nothing in
// it is process-global.
type AnalyzerState struct {
	Program *ssa.Program
	Config  *config.Config
	Logger  *config.LogGroup

	Sentinels *Sentinels

	sizes types.Sizes

	// domMu guards domCache. Dominance information is computed on demand, once per
	// function, and shared between workers.
	domMu    sync.Mutex
	domCache map[*ssa.Function]*domInfo

	// globalMu guards globalStores, filled by the global heuristic pre-pass and read
	// by memory queries afterwards.
	globalMu     sync.Mutex
	globalStores map[*ssa.Global]*globalInfo
}

// globalInfo summarizes the stores to one global across the whole program.
type globalInfo struct {
	// consts are the constant-like values stored to the global.
	consts []ssa.Value
	// tainted is set when a store of a non-constant value was seen, in which case
	// the constant cache must not be used.
	tainted bool
}

// NewAnalyzerState creates the state for one analysis run.
func NewAnalyzerState(prog *ssa.Program, cfg *config.Config, logger *config.LogGroup) (*AnalyzerState, error) {
	if prog == nil {
		return nil, fmt.Errorf("cannot create analyzer state without a program")
	}
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if logger == nil {
		logger = config.NewLogGroup(cfg)
	}
	var sizes types.Sizes = types.SizesFor("gc", "amd64")
	return &AnalyzerState{
		Program:      prog,
		Config:       cfg,
		Logger:       logger,
		Sentinels:    newSentinels(),
		sizes:        sizes,
		domCache:     map[*ssa.Function]*domInfo{},
		globalStores: map[*ssa.Global]*globalInfo{},
	}, nil
}

// Sizeof returns the byte size of t under the program's data layout.
func (s *AnalyzerState) Sizeof(t types.Type) int64 {
	return s.sizes.Sizeof(t)
}

// FieldOffset returns the byte offset of field i of the struct type t.
func (s *AnalyzerState) FieldOffset(t *types.Struct, i int) int64 {
	fields := make([]*types.Var, t.NumFields())
	for j := 0; j < t.NumFields(); j++ {
		fields[j] = t.Field(j)
	}
	return s.sizes.Offsetsof(fields)[i]
}

// recordGlobalStore feeds the global heuristic: v was stored to g somewhere in the
// program. Constant-like values (constants, functions, globals) are cached; any
// other value marks the global as not constant-resolvable.
func (s *AnalyzerState) recordGlobalStore(g *ssa.Global, v ssa.Value) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	info := s.globalStores[g]
	if info == nil {
		info = &globalInfo{}
		s.globalStores[g] = info
	}
	switch v.(type) {
	case *ssa.Const, *ssa.Function, *ssa.Global:
		info.consts = append(info.consts, v)
	default:
		info.tainted = true
	}
}

// taintGlobal marks g as not constant-resolvable, used when the address of the
// global escapes into memory or a call.
func (s *AnalyzerState) taintGlobal(g *ssa.Global) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	info := s.globalStores[g]
	if info == nil {
		info = &globalInfo{}
		s.globalStores[g] = info
	}
	info.tainted = true
}

// constGlobalValues returns the cached constant stores to g, or nil when the global
// heuristic is off, the global was never seen, or a non-constant store taints it.
func (s *AnalyzerState) constGlobalValues(g *ssa.Global) []ssa.Value {
	if !s.Config.GlobalHeuristic {
		return nil
	}
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	info := s.globalStores[g]
	if info == nil || info.tainted {
		return nil
	}
	return info.consts
}

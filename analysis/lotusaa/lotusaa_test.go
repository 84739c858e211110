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
	"go/token"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/Yanhaoxi/lotus-zju-sub003/analysis/config"
	"github.com/Yanhaoxi/lotus-zju-sub003/internal/pkgutil"
)

// buildState compiles source to ssa and prepares an analyzer state with the
// default configuration.
func buildState(t *testing.T, source string) (*AnalyzerState, *ssa.Program) {
	t.Helper()
	prog, _, err := pkgutil.BuildSSAFromSource(source, ssa.BuilderMode(0))
	require.NoError(t, err)
	cfg := config.NewDefault()
	cfg.LogLevel = int(config.ErrLevel)
	state, err := NewAnalyzerState(prog, cfg, nil)
	require.NoError(t, err)
	return state, prog
}

// analyzeFunc runs a standalone analysis of the named function, without the
// interprocedural scheduler.
func analyzeFunc(t *testing.T, state *AnalyzerState, prog *ssa.Program, name string) *FuncAnalysis {
	t.Helper()
	f := findFunction(t, prog, name)
	fa := NewFuncAnalysis(state, f)
	require.NoError(t, fa.Run(nil, nil))
	return fa
}

func findFunction(t *testing.T, prog *ssa.Program, name string) *ssa.Function {
	t.Helper()
	for f := range ssautil.AllFunctions(prog) {
		if f.Name() == name && f.Blocks != nil {
			return f
		}
	}
	t.Fatalf("no function named %s in the program", name)
	return nil
}

// loadsIn returns the load instructions of f in block and instruction order.
func loadsIn(f *ssa.Function) []*ssa.UnOp {
	var loads []*ssa.UnOp
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if u, ok := instr.(*ssa.UnOp); ok && u.Op == token.MUL {
				loads = append(loads, u)
			}
		}
	}
	return loads
}

// allocsIn returns the heap allocations of f in source order.
func allocsIn(f *ssa.Function) []*ssa.Alloc {
	var allocs []*ssa.Alloc
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if a, ok := instr.(*ssa.Alloc); ok && a.Heap {
				allocs = append(allocs, a)
			}
		}
	}
	return allocs
}

// callSitesIn returns the non-builtin call sites of f.
func callSitesIn(f *ssa.Function) []ssa.CallInstruction {
	var sites []ssa.CallInstruction
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			call, ok := instr.(ssa.CallInstruction)
			if !ok {
				continue
			}
			if _, isBuiltin := call.Common().Value.(*ssa.Builtin); isBuiltin {
				continue
			}
			sites = append(sites, call)
		}
	}
	return sites
}

func constIntVals(t *testing.T, vals []ssa.Value) []int64 {
	t.Helper()
	var out []int64
	for _, v := range vals {
		if c, ok := v.(*ssa.Const); ok && c.Value != nil {
			out = append(out, c.Int64())
		}
	}
	return out
}

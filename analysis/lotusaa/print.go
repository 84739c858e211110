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
	"io"
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"

	"github.com/Yanhaoxi/lotus-zju-sub003/internal/formatutil"
	"github.com/Yanhaoxi/lotus-zju-sub003/internal/funcutil"
	"github.com/Yanhaoxi/lotus-zju-sub003/internal/graphutil"
)

// ReportPointsTo writes the resolved points-to sets of every analyzed function to
// w, one line per value.
func ReportPointsTo(w io.Writer, r *Result) {
	for _, f := range sortedFuncs(r) {
		fa := r.Funcs[f]
		fmt.Fprintf(w, "%s %s\n", formatutil.Bold("function"), formatutil.Sanitize(f.String()))
		names := make([]ssa.Value, 0, len(fa.Graph.results))
		for v := range fa.Graph.results {
			names = append(names, v)
		}
		sort.Slice(names, func(i, j int) bool { return names[i].Name() < names[j].Name() })
		for _, v := range names {
			targets, unknown := fa.Graph.ResultOf(v).Resolve(fa.Graph)
			if unknown {
				fmt.Fprintf(w, "  %s -> %s\n",
					formatutil.Sanitize(v.Name()), formatutil.Yellow("unknown"))
				continue
			}
			parts := funcutil.Map(targets, func(t Locator) string {
				return formatutil.Sanitize(t.String())
			})
			fmt.Fprintf(w, "  %s -> {%s}\n", formatutil.Sanitize(v.Name()), strings.Join(parts, ", "))
		}
	}
}

// ReportCallGraph writes the discovered call graph to w: one line per caller,
// followed by its callees. Recursion back edges are marked.
func ReportCallGraph(w io.Writer, r *Result) {
	cg := r.CallGraph
	fmt.Fprintf(w, "%s (%d functions, %d iterations)\n",
		formatutil.Bold("call graph"), len(cg.Functions()), r.Iterations)
	funcs := append([]*ssa.Function(nil), cg.Functions()...)
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].String() < funcs[j].String() })
	for _, f := range funcs {
		callees := cg.Callees(f)
		if len(callees) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s\n", formatutil.Sanitize(f.String()))
		for _, callee := range callees {
			mark := ""
			if cg.IsBackEdge(f, callee) {
				mark = " " + formatutil.Red("(recursive)")
			}
			fmt.Fprintf(w, "  -> %s%s\n", formatutil.Sanitize(callee.String()), mark)
		}
	}
}

// ReportCycles enumerates the elementary cycles of the call graph, which name the
// recursive groups the analysis stabilized by iteration.
func ReportCycles(w io.Writer, r *Result) {
	cgraph := r.CallGraph.ToCGraph()
	cycles := graphutil.FindAllElementaryCycles(cgraph)
	if len(cycles) == 0 {
		fmt.Fprintf(w, "no cycles in the call graph\n")
		return
	}
	fmt.Fprintf(w, "%s (%d)\n", formatutil.Bold("call graph cycles"), len(cycles))
	funcs := r.CallGraph.Functions()
	for _, cycle := range cycles {
		parts := funcutil.Map(cycle, func(id int64) string {
			return formatutil.Sanitize(funcs[id].Name())
		})
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, " -> "))
	}
}

// ReportUnresolved lists the call sites whose targets never resolved: interface
// dispatch and function values the analysis could not name.
func ReportUnresolved(w io.Writer, r *Result) {
	count := 0
	for _, f := range sortedFuncs(r) {
		fa := r.Funcs[f]
		for _, b := range f.Blocks {
			for _, instr := range b.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				common := call.Common()
				if common.StaticCallee() != nil {
					continue
				}
				if _, isBuiltin := common.Value.(*ssa.Builtin); isBuiltin {
					continue
				}
				if len(fa.siteTargets[call]) > 0 {
					continue
				}
				count++
				pos := r.State.Program.Fset.Position(call.Pos())
				fmt.Fprintf(w, "  %s in %s at %s\n",
					formatutil.Yellow(formatutil.Sanitize(call.String())),
					formatutil.Sanitize(f.String()), pos)
			}
		}
	}
	if count == 0 {
		fmt.Fprintf(w, "all call sites resolved\n")
	}
}

func sortedFuncs(r *Result) []*ssa.Function {
	funcs := make([]*ssa.Function, 0, len(r.Funcs))
	for f := range r.Funcs {
		funcs = append(funcs, f)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].String() < funcs[j].String() })
	return funcs
}

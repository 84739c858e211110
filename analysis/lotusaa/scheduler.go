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
	"go/token"
	"sort"
	"sync"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Result is the outcome of a whole-program run: the per-function analyses of the
// last round, the final summaries, and the discovered call graph.
type Result struct {
	State      *AnalyzerState
	Funcs      map[*ssa.Function]*FuncAnalysis
	Summaries  map[*ssa.Function]*FuncSummary
	CallGraph  *CallGraphState
	Iterations int
}

// PointsTo returns the resolved points-to set of v inside f, and whether the set
// degraded to unknown.
func (r *Result) PointsTo(f *ssa.Function, v ssa.Value) ([]Locator, bool) {
	fa := r.Funcs[f]
	if fa == nil {
		return nil, true
	}
	return fa.Graph.ResultOf(v).Resolve(fa.Graph)
}

// CallTargets returns the resolved callees of a call site inside f.
func (r *Result) CallTargets(f *ssa.Function, site ssa.CallInstruction) []*ssa.Function {
	fa := r.Funcs[f]
	if fa == nil {
		return nil
	}
	return fa.siteTargets[site]
}

// CallGraphSSA exports the resolved call graph as a callgraph.Graph, one edge per
// (site, callee) pair, so it can feed tooling written against x/tools callgraphs.
func (r *Result) CallGraphSSA() *callgraph.Graph {
	g := callgraph.New(nil)
	for _, f := range sortedFuncs(r) {
		fa := r.Funcs[f]
		caller := g.CreateNode(f)
		for _, b := range f.Blocks {
			for _, instr := range b.Instrs {
				site, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				for _, callee := range fa.siteTargets[site] {
					callgraph.AddEdge(caller, site, g.CreateNode(callee))
				}
			}
		}
	}
	return g
}

// Analyze runs the interprocedural analysis over every function of the program
// that passes the package filter. Summaries propagate bottom-up over the call
// graph; indirect calls resolved during a round extend the graph for the next one,
// up to the configured iteration bound.
func Analyze(state *AnalyzerState) (*Result, error) {
	funcs := analyzableFunctions(state)
	if len(funcs) == 0 {
		return nil, fmt.Errorf("no functions to analyze")
	}
	state.Logger.Infof("analyzing %d functions with %d workers", len(funcs), state.Config.Workers())

	if state.Config.GlobalHeuristic {
		scanGlobalStores(state, funcs)
	}

	cg := NewCallGraphState()
	for _, f := range funcs {
		cg.AddFunction(f)
	}
	inSet := map[*ssa.Function]bool{}
	for _, f := range funcs {
		inSet[f] = true
	}
	for _, f := range funcs {
		for _, b := range f.Blocks {
			for _, instr := range b.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				if callee := call.Common().StaticCallee(); callee != nil && inSet[callee] {
					cg.AddEdge(f, callee)
				}
			}
		}
	}

	analyses := map[*ssa.Function]*FuncAnalysis{}
	summaries := map[*ssa.Function]*FuncSummary{}
	// indirect accumulates the caller-discovered targets of value calls, fed back
	// into the analyses of later rounds. Sites that exceed MaxCallees saturate and
	// stay unresolved.
	indirect := map[ssa.CallInstruction][]*ssa.Function{}
	saturated := map[ssa.CallInstruction]bool{}

	dirty := map[*ssa.Function]bool{}
	for _, f := range funcs {
		dirty[f] = true
	}

	maxIterations := state.Config.MaxCGIterations
	if !state.Config.EnableCallGraph {
		// A single bottom-up pass over the static edges, no refinement.
		maxIterations = 1
	}

	iterations := 0
	for len(dirty) > 0 && iterations < maxIterations {
		iterations++
		cg.DetectBackEdges()

		work := make([]*ssa.Function, 0, len(dirty))
		order := cg.TopoOrder()
		// Bottom-up: callees before callers.
		for i := len(order) - 1; i >= 0; i-- {
			if dirty[order[i]] {
				work = append(work, order[i])
			}
		}
		state.Logger.Debugf("call graph iteration %d: %d functions to analyze", iterations, len(work))
		dirty = map[*ssa.Function]bool{}

		runRound(state, cg, work, analyses, summaries, indirect, dirty)

		if state.Config.EnableCallGraph {
			// Refinement: let every caller evaluate the call dependencies its callees
			// exported, turning caller-held function values into new edges. Functions
			// whose sites gained targets are marked dirty inside.
			refineCallDeps(state, cg, analyses, summaries, indirect, saturated, inSet, dirty)
		}
	}

	if len(dirty) > 0 && state.Config.EnableCallGraph {
		state.Logger.Warnf("call graph did not converge after %d iterations (%d functions still dirty)",
			iterations, len(dirty))
	}

	return &Result{
		State:      state,
		Funcs:      analyses,
		Summaries:  summaries,
		CallGraph:  cg,
		Iterations: iterations,
	}, nil
}

// analyzableFunctions returns the program's source functions that pass the package
// filter, in a stable order.
func analyzableFunctions(state *AnalyzerState) []*ssa.Function {
	var funcs []*ssa.Function
	for f := range ssautil.AllFunctions(state.Program) {
		if f.Blocks == nil {
			continue
		}
		if pkg := f.Package(); pkg != nil && !state.Config.MatchPkgFilter(pkg.Pkg.Path()) {
			continue
		}
		funcs = append(funcs, f)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].String() < funcs[j].String() })
	return funcs
}

// scanGlobalStores runs the global heuristic pre-pass: record every store to a
// global, and taint globals whose address leaks anywhere other than a direct load
// or store.
func scanGlobalStores(state *AnalyzerState, funcs []*ssa.Function) {
	for _, f := range funcs {
		for _, b := range f.Blocks {
			for _, instr := range b.Instrs {
				if st, ok := instr.(*ssa.Store); ok {
					if gl, isGlobal := st.Addr.(*ssa.Global); isGlobal {
						state.recordGlobalStore(gl, st.Val)
						// Storing the address of another global aliases it; its
						// constant cache can no longer be trusted.
						if vg, isGlobal := st.Val.(*ssa.Global); isGlobal {
							state.taintGlobal(vg)
						}
						continue
					}
				}
				if un, ok := instr.(*ssa.UnOp); ok && un.Op == token.MUL {
					if _, isGlobal := un.X.(*ssa.Global); isGlobal {
						continue
					}
				}
				for _, op := range instr.Operands(nil) {
					if gl, isGlobal := (*op).(*ssa.Global); isGlobal {
						state.taintGlobal(gl)
					}
				}
			}
		}
	}
}

// runRound analyzes the work set in parallel. A function is scheduled only after
// all its non-recursive callees in the same round have completed, so each analysis
// sees the freshest callee summaries. Summary fingerprint changes mark the
// function's callers dirty for the next round.
func runRound(state *AnalyzerState, cg *CallGraphState, work []*ssa.Function,
	analyses map[*ssa.Function]*FuncAnalysis, summaries map[*ssa.Function]*FuncSummary,
	indirect map[ssa.CallInstruction][]*ssa.Function, dirty map[*ssa.Function]bool) {

	inWork := map[*ssa.Function]bool{}
	for _, f := range work {
		inWork[f] = true
	}

	var queueMu sync.Mutex
	ready := make([]*ssa.Function, 0, len(work))
	cond := sync.NewCond(&queueMu)
	pending := map[*ssa.Function]int{}
	remaining := len(work)

	for _, f := range work {
		n := 0
		for _, callee := range cg.Callees(f) {
			if callee != f && inWork[callee] && !cg.IsBackEdge(f, callee) {
				n++
			}
		}
		pending[f] = n
		if n == 0 {
			ready = append(ready, f)
		}
	}

	// resultsMu guards summaries, analyses and dirty during the round.
	var resultsMu sync.Mutex

	snapshot := func() map[*ssa.Function]*FuncSummary {
		resultsMu.Lock()
		defer resultsMu.Unlock()
		snap := make(map[*ssa.Function]*FuncSummary, len(summaries))
		for k, v := range summaries {
			snap[k] = v
		}
		return snap
	}

	complete := func(f *ssa.Function, fa *FuncAnalysis) {
		resultsMu.Lock()
		prev := summaries[f]
		analyses[f] = fa
		summaries[f] = fa.Summary
		if prev == nil || prev.Fingerprint != fa.Summary.Fingerprint {
			for _, caller := range cg.Callers(f) {
				// A caller scheduled after f in this round already sees the new
				// summary; only callers that ran first, or were not scheduled at
				// all, need another pass.
				if inWork[caller] && caller != f && !cg.IsBackEdge(caller, f) {
					continue
				}
				dirty[caller] = true
			}
		}
		resultsMu.Unlock()

		queueMu.Lock()
		remaining--
		for _, caller := range cg.Callers(f) {
			if !inWork[caller] || cg.IsBackEdge(caller, f) || caller == f {
				continue
			}
			pending[caller]--
			if pending[caller] == 0 {
				ready = append(ready, caller)
			}
		}
		cond.Broadcast()
		queueMu.Unlock()
	}

	var wg sync.WaitGroup
	for w := 0; w < state.Config.Workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				queueMu.Lock()
				for len(ready) == 0 && remaining > 0 {
					cond.Wait()
				}
				if remaining == 0 && len(ready) == 0 {
					queueMu.Unlock()
					return
				}
				f := ready[len(ready)-1]
				ready = ready[:len(ready)-1]
				queueMu.Unlock()

				fa := NewFuncAnalysis(state, f)
				if err := fa.Run(snapshot(), indirect); err != nil {
					state.Logger.Errorf("analysis of %s failed: %v", f, err)
				}
				complete(f, fa)
			}
		}()
	}
	wg.Wait()
}

// refineCallDeps evaluates, in every caller, the input-dependent call sites its
// callees exported, and feeds newly named functions back as targets and call
// graph edges.
func refineCallDeps(state *AnalyzerState, cg *CallGraphState,
	analyses map[*ssa.Function]*FuncAnalysis, summaries map[*ssa.Function]*FuncSummary,
	indirect map[ssa.CallInstruction][]*ssa.Function, saturated map[ssa.CallInstruction]bool,
	inSet map[*ssa.Function]bool, dirty map[*ssa.Function]bool) {

	addTarget := func(owner *ssa.Function, site ssa.CallInstruction, target *ssa.Function) {
		if !inSet[target] || saturated[site] {
			return
		}
		cur := indirect[site]
		for _, t := range cur {
			if t == target {
				return
			}
		}
		if len(cur) >= state.Config.MaxCallees {
			// Over the bound the site degrades to unresolved: the owner's next
			// analysis sees no targets and clobbers conservatively.
			saturated[site] = true
			delete(indirect, site)
			dirty[owner] = true
			state.Logger.Debugf("%s in %s exceeded max-callees, left unresolved", site, owner)
			return
		}
		indirect[site] = append(cur, target)
		cg.AddEdge(owner, target)
		dirty[owner] = true
		if summaries[target] == nil {
			dirty[target] = true
		}
		state.Logger.Debugf("resolved %s -> %s (site in %s)", site, target, owner)
	}

	// Callees before callers, the order the analysis rounds use.
	order := cg.TopoOrder()
	for i := len(order) - 1; i >= 0; i-- {
		caller := order[i]
		fa := analyses[caller]
		if fa == nil {
			continue
		}

		// Targets the caller resolved by itself during its own round.
		for site, targets := range fa.siteTargets {
			if site.Common().StaticCallee() != nil {
				continue
			}
			for _, t := range targets {
				addTarget(caller, site, t)
			}
		}

		// Call dependencies exported by the callees of each resolved site: read the
		// dependency's path in this caller's memory and track the values to
		// functions.
		for site, targets := range fa.siteTargets {
			for _, callee := range targets {
				s := summaries[callee]
				if s == nil {
					continue
				}
				for _, dep := range s.CallDeps {
					vals, ok := fa.evalReadPath(site, dep.Path)
					if !ok {
						continue
					}
					for _, v := range vals {
						if state.Sentinels.IsSentinel(v) {
							continue
						}
						for _, src := range fa.Graph.TrackRightValue(v) {
							if target, isFn := src.(*ssa.Function); isFn {
								addTarget(callee, dep.Site, target)
							}
						}
					}
				}
			}
		}
	}
}

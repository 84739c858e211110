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
	"sort"

	"golang.org/x/tools/go/ssa"

	"github.com/Yanhaoxi/lotus-zju-sub003/internal/graphutil"
)

// CallGraphState is the call graph under construction: functions as nodes, the
// caller-to-callee edges discovered so far, and the subset of edges classified as
// recursion back edges. Back edges are excluded from the topological order so
// summaries of recursive groups stabilize by iteration instead of deadlocking the
// schedule.
type CallGraphState struct {
	funcs []*ssa.Function
	index map[*ssa.Function]int

	callees map[*ssa.Function]map[*ssa.Function]bool
	callers map[*ssa.Function]map[*ssa.Function]bool

	backEdges map[*ssa.Function]map[*ssa.Function]bool
}

func NewCallGraphState() *CallGraphState {
	return &CallGraphState{
		index:     map[*ssa.Function]int{},
		callees:   map[*ssa.Function]map[*ssa.Function]bool{},
		callers:   map[*ssa.Function]map[*ssa.Function]bool{},
		backEdges: map[*ssa.Function]map[*ssa.Function]bool{},
	}
}

// AddFunction registers f as a node. Idempotent.
func (cg *CallGraphState) AddFunction(f *ssa.Function) {
	if _, ok := cg.index[f]; ok {
		return
	}
	cg.index[f] = len(cg.funcs)
	cg.funcs = append(cg.funcs, f)
}

// AddEdge records a caller-to-callee edge, registering both endpoints. It reports
// whether the edge is new.
func (cg *CallGraphState) AddEdge(caller, callee *ssa.Function) bool {
	cg.AddFunction(caller)
	cg.AddFunction(callee)
	if cg.callees[caller][callee] {
		return false
	}
	if cg.callees[caller] == nil {
		cg.callees[caller] = map[*ssa.Function]bool{}
	}
	cg.callees[caller][callee] = true
	if cg.callers[callee] == nil {
		cg.callers[callee] = map[*ssa.Function]bool{}
	}
	cg.callers[callee][caller] = true
	return true
}

// Functions returns the registered functions in registration order.
func (cg *CallGraphState) Functions() []*ssa.Function { return cg.funcs }

// Callees returns f's direct callees, sorted by position in the graph.
func (cg *CallGraphState) Callees(f *ssa.Function) []*ssa.Function {
	return cg.sorted(cg.callees[f])
}

// Callers returns f's direct callers, sorted by position in the graph.
func (cg *CallGraphState) Callers(f *ssa.Function) []*ssa.Function {
	return cg.sorted(cg.callers[f])
}

func (cg *CallGraphState) sorted(set map[*ssa.Function]bool) []*ssa.Function {
	out := make([]*ssa.Function, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return cg.index[out[i]] < cg.index[out[j]] })
	return out
}

// IsBackEdge reports whether caller→callee was classified as a recursion back
// edge by the last DetectBackEdges.
func (cg *CallGraphState) IsBackEdge(caller, callee *ssa.Function) bool {
	return cg.backEdges[caller][callee]
}

// DetectBackEdges reclassifies the graph's edges. Only edges inside a strongly
// connected component can be back edges, so components are computed first and the
// depth-first classification runs on intra-component edges alone.
func (cg *CallGraphState) DetectBackEdges() {
	cg.backEdges = map[*ssa.Function]map[*ssa.Function]bool{}

	succ := func(f *ssa.Function) []*ssa.Function { return cg.Callees(f) }
	comp := map[*ssa.Function]int{}
	for i, scc := range graphutil.StronglyConnectedComponents(cg.funcs, succ) {
		for _, f := range scc {
			comp[f] = i
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[*ssa.Function]int{}

	var visit func(f *ssa.Function)
	visit = func(f *ssa.Function) {
		color[f] = grey
		for _, g := range cg.Callees(f) {
			if comp[g] != comp[f] {
				continue
			}
			switch color[g] {
			case white:
				visit(g)
			case grey:
				if cg.backEdges[f] == nil {
					cg.backEdges[f] = map[*ssa.Function]bool{}
				}
				cg.backEdges[f][g] = true
			}
		}
		color[f] = black
	}
	for _, f := range cg.funcs {
		if color[f] == white {
			visit(f)
		}
	}
}

// TopoOrder returns the functions in topological order of the graph with back
// edges removed: every caller precedes its non-recursive callees. Used in reverse
// for the bottom-up summary schedule.
func (cg *CallGraphState) TopoOrder() []*ssa.Function {
	indeg := map[*ssa.Function]int{}
	for _, f := range cg.funcs {
		indeg[f] = 0
	}
	for caller, set := range cg.callees {
		for callee := range set {
			if cg.backEdges[caller][callee] {
				continue
			}
			indeg[callee]++
		}
	}

	queue := make([]*ssa.Function, 0, len(cg.funcs))
	for _, f := range cg.funcs {
		if indeg[f] == 0 {
			queue = append(queue, f)
		}
	}
	order := make([]*ssa.Function, 0, len(cg.funcs))
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		order = append(order, f)
		for _, g := range cg.Callees(f) {
			if cg.backEdges[f][g] {
				continue
			}
			indeg[g]--
			if indeg[g] == 0 {
				queue = append(queue, g)
			}
		}
	}
	// Residual cycles can only come from graph mutations since the last back edge
	// detection; append the leftovers in registration order.
	if len(order) < len(cg.funcs) {
		placed := map[*ssa.Function]bool{}
		for _, f := range order {
			placed[f] = true
		}
		for _, f := range cg.funcs {
			if !placed[f] {
				order = append(order, f)
			}
		}
	}
	return order
}

// ToCGraph exports the call graph for rendering and cycle enumeration.
func (cg *CallGraphState) ToCGraph() graphutil.CGraph {
	adjacency := map[int64][]int64{}
	labels := map[int64]string{}
	for _, f := range cg.funcs {
		id := int64(cg.index[f])
		labels[id] = f.String()
		for _, g := range cg.Callees(f) {
			adjacency[id] = append(adjacency[id], int64(cg.index[g]))
		}
	}
	return graphutil.NewCGraph(adjacency, labels)
}

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
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// PTGraph holds the points-to facts of one function: its abstract memory objects
// and the points-to result of every pointer value. Each value receives its result
// exactly once; the graph is in single-assignment form like the IR it models.
type PTGraph struct {
	state *AnalyzerState
	fn    *ssa.Function

	objects      []*MemObject
	objectBySite map[ssa.Value]*MemObject

	results map[ssa.Value]*PTResult

	// pending holds placeholder results handed out for values that were referenced
	// before their defining instruction was processed (phi edges on loop back
	// edges). The placeholder is linked to the real result when it is assigned.
	pending map[ssa.Value]*PTResult

	// frozen is set when the function analysis is complete; from then on result
	// resolution may cache.
	frozen bool

	pseudoParams []*PseudoParam

	// loadedValues records, for each load instruction, the values its memory query
	// produced. TrackRightValue follows these edges.
	loadedValues map[ssa.Value][]ssa.Value

	// loadCategories backs load-load matching: the first load of each (cell set,
	// version) category is recorded so later must-equal loads alias its result.
	loadCategories map[string]ssa.Value

	// apDepth memoizes the object-to-call-site distance per call site.
	apDepth map[ssa.CallInstruction]map[*MemObject]int
}

// NewPTGraph creates an empty points-to graph for fn.
func NewPTGraph(state *AnalyzerState, fn *ssa.Function) *PTGraph {
	return &PTGraph{
		state:          state,
		fn:             fn,
		objectBySite:   map[ssa.Value]*MemObject{},
		results:        map[ssa.Value]*PTResult{},
		pending:        map[ssa.Value]*PTResult{},
		loadedValues:   map[ssa.Value][]ssa.Value{},
		loadCategories: map[string]ssa.Value{},
		apDepth:        map[ssa.CallInstruction]map[*MemObject]int{},
	}
}

// Func returns the function the graph describes.
func (g *PTGraph) Func() *ssa.Function { return g.fn }

// State returns the shared analyzer state.
func (g *PTGraph) State() *AnalyzerState { return g.state }

// Objects returns the graph's objects in creation order.
func (g *PTGraph) Objects() []*MemObject { return g.objects }

// EnsureObject returns the object introduced by site, creating it with the given
// kind on first use. One site maps to exactly one object.
func (g *PTGraph) EnsureObject(site ssa.Value, kind ObjKind) *MemObject {
	if obj, ok := g.objectBySite[site]; ok {
		return obj
	}
	obj := &MemObject{
		kind:  kind,
		site:  site,
		fn:    g.fn,
		index: len(g.objects),
	}
	g.objects = append(g.objects, obj)
	g.objectBySite[site] = obj
	return obj
}

// NewObject creates a fresh object not keyed by any site, used to materialize
// callee-escaped objects at call sites.
func (g *PTGraph) NewObject(site ssa.Value, kind ObjKind) *MemObject {
	obj := &MemObject{
		kind:  kind,
		site:  site,
		fn:    g.fn,
		index: len(g.objects),
	}
	g.objects = append(g.objects, obj)
	return obj
}

func (g *PTGraph) nextPseudoIndex() int { return len(g.pseudoParams) }

func (g *PTGraph) registerPseudoParam(p *PseudoParam) {
	g.pseudoParams = append(g.pseudoParams, p)
}

// PseudoParams returns the pseudo parameters created for the function so far, in
// creation order.
func (g *PTGraph) PseudoParams() []*PseudoParam { return g.pseudoParams }

// HasResult reports whether v has been assigned a points-to result.
func (g *PTGraph) HasResult(v ssa.Value) bool {
	_, ok := g.results[v]
	return ok
}

// AddPointsTo assigns v a fresh result with the single direct target loc. Assigning
// a result to a value twice is a bug in the analysis, not an input problem, and
// panics.
func (g *PTGraph) AddPointsTo(v ssa.Value, loc Locator) *PTResult {
	r := NewPTResult()
	r.AddTarget(loc)
	g.assign(v, r)
	return r
}

// DerivePointsTo assigns v a fresh result pointing to everything from resolves to,
// shifted by delta bytes.
func (g *PTGraph) DerivePointsTo(v ssa.Value, from *PTResult, delta int64) *PTResult {
	r := NewPTResult()
	if from == nil {
		r.SetUnknown()
	} else {
		r.AddDerived(from, delta)
	}
	g.assign(v, r)
	return r
}

// AssignResult makes v share the existing result r.
func (g *PTGraph) AssignResult(v ssa.Value, r *PTResult) {
	g.assign(v, r)
}

func (g *PTGraph) assign(v ssa.Value, r *PTResult) {
	if _, ok := g.results[v]; ok {
		panic(fmt.Sprintf("points-to result assigned twice to %s in %s", v.Name(), g.fn))
	}
	g.results[v] = r
	if p, ok := g.pending[v]; ok {
		p.AddDerived(r, 0)
		delete(g.pending, v)
	}
}

// Freeze marks the graph complete: leftover forward references resolve to unknown
// and result resolution starts caching.
func (g *PTGraph) Freeze() {
	for _, p := range g.pending {
		p.SetUnknown()
	}
	g.pending = map[ssa.Value]*PTResult{}
	g.frozen = true
}

// unknownResult returns a fresh collapsed result.
func (g *PTGraph) unknownResult() *PTResult {
	r := NewPTResult()
	r.SetUnknown()
	return r
}

// ResultOf returns the points-to result of v, deriving one on demand for base
// pointers whose targets follow from their own shape: nil constants, globals,
// parameters, free variables and pseudo parameters. Values the analysis cannot
// model resolve to the unknown result.
func (g *PTGraph) ResultOf(v ssa.Value) *PTResult {
	if r, ok := g.results[v]; ok {
		return r
	}
	if p, ok := g.pending[v]; ok {
		return p
	}
	if r, isBase := g.basePointerResult(v); isBase {
		g.results[v] = r
		return r
	}
	// An instruction of this function not yet processed: hand out a placeholder
	// that the later assignment fills in.
	if instr, ok := v.(ssa.Instruction); ok && !g.frozen && instr.Parent() == g.fn {
		p := NewPTResult()
		g.pending[v] = p
		return p
	}
	r := g.unknownResult()
	g.results[v] = r
	return r
}

func (g *PTGraph) basePointerResult(v ssa.Value) (*PTResult, bool) {
	switch x := v.(type) {
	case *ssa.Const:
		if x.IsNil() {
			r := NewPTResult()
			r.AddTarget(Locator{Obj: g.state.Sentinels.NullObject})
			return r, true
		}
		return g.unknownResult(), true
	case *ssa.Global:
		obj := g.EnsureObject(x, KindSymbolic)
		r := NewPTResult()
		r.AddTarget(Locator{Obj: obj})
		return r, true
	case *ssa.Parameter, *ssa.FreeVar:
		obj := g.EnsureObject(x, KindSymbolic)
		r := NewPTResult()
		r.AddTarget(Locator{Obj: obj})
		return r, true
	case *PseudoParam:
		obj := g.EnsureObject(x, KindSymbolic)
		r := NewPTResult()
		r.AddTarget(Locator{Obj: obj})
		return r, true
	case *ssa.Function:
		// Code pointers: one immutable object per function.
		obj := g.EnsureObject(x, KindConcrete)
		r := NewPTResult()
		r.AddTarget(Locator{Obj: obj})
		return r, true
	default:
		if g.state.Sentinels.IsSentinel(v) {
			return g.unknownResult(), true
		}
		return nil, false
	}
}

// recordLoadedValues attaches the memory query outcome to a load, so value tracking
// can follow loads to their sources.
func (g *PTGraph) recordLoadedValues(load ssa.Value, vals []ssa.Value) {
	if len(vals) == 0 {
		return
	}
	g.loadedValues[load] = vals
}

// LoadedValues returns the values a load instruction may have produced.
func (g *PTGraph) LoadedValues(load ssa.Value) []ssa.Value {
	return g.loadedValues[load]
}

// LoadValuesAt reads the cells that ptr may address at the program point at. The
// second return is false when the pointer or any of its cells degrades to unknown.
func (g *PTGraph) LoadValuesAt(ptr ssa.Value, at ssa.Instruction) ([]ssa.Value, bool) {
	targets, unknown := g.ResultOf(ptr).Resolve(g)
	if unknown {
		return nil, false
	}
	var out []ssa.Value
	seen := map[ssa.Value]bool{}
	for _, t := range targets {
		if t.Obj == g.state.Sentinels.NullObject {
			continue
		}
		if t.Obj == g.state.Sentinels.UnknownObject {
			return nil, false
		}
		cell := t.Obj.FindLocator(t.Offset, true)
		vals, ok := cell.ReachingValues(g, at)
		if !ok {
			return nil, false
		}
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out, true
}

// fillEntryValue supplies the content of a cell that no write reaches: constant
// globals yield their recorded initializers, symbolic objects a caller-supplied
// pseudo parameter, concrete objects the free or undefined sentinel. It reports
// whether anything was supplied.
func (g *PTGraph) fillEntryValue(l *ObjectLocator, add func(ssa.Value) bool) bool {
	switch l.obj.kind {
	case KindSymbolic:
		if glob, ok := l.obj.site.(*ssa.Global); ok && l.offset == 0 {
			if consts := g.state.constGlobalValues(glob); len(consts) > 0 {
				for _, c := range consts {
					if !add(c) {
						return false
					}
				}
				return true
			}
		}
		p := l.obj.findOrCreatePseudoParam(l.offset, g)
		return add(p)
	case KindConcrete:
		if l.obj.IsReallyAllocated() {
			return add(g.state.Sentinels.UndefValue)
		}
		return add(g.state.Sentinels.FreeValue)
	default:
		return false
	}
}

// TrackRightValue resolves v to the set of values it may take at runtime, looking
// through phis, conversions and loads. The visited set makes the walk safe on phi
// cycles. Values with no further structure (functions, constants, parameters,
// pseudo parameters, call results) are returned as is.
func (g *PTGraph) TrackRightValue(v ssa.Value) []ssa.Value {
	var out []ssa.Value
	seenOut := map[ssa.Value]bool{}
	visited := map[ssa.Value]bool{}

	var walk func(ssa.Value)
	emit := func(x ssa.Value) {
		if !seenOut[x] {
			seenOut[x] = true
			out = append(out, x)
		}
	}
	walk = func(x ssa.Value) {
		if visited[x] {
			return
		}
		visited[x] = true
		// Values with recorded contents (loads, call results, extracts) resolve
		// to the values they carry.
		if loaded, ok := g.loadedValues[x]; ok {
			for _, lv := range loaded {
				walk(lv)
			}
			return
		}
		switch y := x.(type) {
		case *ssa.Phi:
			for _, e := range y.Edges {
				walk(e)
			}
		case *ssa.ChangeType:
			walk(y.X)
		case *ssa.Convert:
			walk(y.X)
		case *ssa.MakeInterface:
			walk(y.X)
		case *ssa.ChangeInterface:
			walk(y.X)
		case *ssa.TypeAssert:
			walk(y.X)
		case *ssa.MakeClosure:
			emit(y.Fn)
		default:
			emit(y)
		}
	}
	walk(v)
	return out
}

// loadCategoryKey canonicalizes the state a load observes: the sorted cells it
// reads plus the version of each cell at the load. Two loads with equal keys must
// produce the same value.
func (g *PTGraph) loadCategoryKey(ptr ssa.Value, at ssa.Instruction) (string, bool) {
	targets, unknown := g.ResultOf(ptr).Resolve(g)
	if unknown || len(targets) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.Obj == g.state.Sentinels.NullObject {
			continue
		}
		if t.Obj == g.state.Sentinels.UnknownObject {
			return "", false
		}
		cell := t.Obj.FindLocator(t.Offset, true)
		ver, found := cell.Version(at)
		if !found {
			// Entry content: versions of entry cells are stable, keyed by the cell alone.
			parts = append(parts, fmt.Sprintf("%s@entry", cell))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s@%p:%p", cell, ver.Pos, ver.Val))
	}
	if len(parts) == 0 {
		return "", false
	}
	sort.Strings(parts)
	return strings.Join(parts, "|"), true
}

// MatchLoad returns the earlier load that must produce the same value as a load of
// ptr at the given point, if one was recorded. Otherwise it records load as the
// representative of its category.
func (g *PTGraph) MatchLoad(load ssa.Value, ptr ssa.Value, at ssa.Instruction) (ssa.Value, bool) {
	key, ok := g.loadCategoryKey(ptr, at)
	if !ok {
		return nil, false
	}
	if prev, ok := g.loadCategories[key]; ok {
		return prev, true
	}
	g.loadCategories[key] = load
	return nil, false
}

// SameValue reports whether pointers a and b must alias at the program point at:
// they resolve to the same cells and each cell has the same version.
func (g *PTGraph) SameValue(a, b ssa.Value, at ssa.Instruction) bool {
	if a == b {
		return true
	}
	ka, oka := g.loadCategoryKey(a, at)
	kb, okb := g.loadCategoryKey(b, at)
	return oka && okb && ka == kb
}

// AccessPathDepth returns the shortest dereference distance from the arguments and
// globals of a call site to obj: 1 for objects directly pointed to by an argument
// or a global, one more per pointer field traversed. Returns -1 when obj is not
// reachable within the configured bound. The search runs once per call site and is
// memoized.
func (g *PTGraph) AccessPathDepth(call ssa.CallInstruction, obj *MemObject) int {
	if depths, ok := g.apDepth[call]; ok {
		if d, ok := depths[obj]; ok {
			return d
		}
		return -1
	}

	depths := map[*MemObject]int{}
	g.apDepth[call] = depths

	var frontier []*MemObject
	addRoot := func(r *PTResult) {
		targets, unknown := r.Resolve(g)
		if unknown {
			return
		}
		for _, t := range targets {
			if t.Obj.kind == KindNull || t.Obj.kind == KindUnknown {
				continue
			}
			if _, ok := depths[t.Obj]; !ok {
				depths[t.Obj] = 1
				frontier = append(frontier, t.Obj)
			}
		}
	}

	for _, arg := range call.Common().Args {
		if pointerLike(arg.Type()) {
			addRoot(g.ResultOf(arg))
		}
	}
	if callee := call.Common().Value; callee != nil && pointerLike(callee.Type()) {
		addRoot(g.ResultOf(callee))
	}
	// Globals are reachable by any callee without being passed.
	for _, o := range g.objects {
		if _, ok := o.site.(*ssa.Global); ok {
			if _, seen := depths[o]; !seen {
				depths[o] = 1
				frontier = append(frontier, o)
			}
		}
	}

	maxDepth := g.state.Config.MaxAccessPathDepth
	for depth := 1; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []*MemObject
		for _, cur := range frontier {
			for _, off := range cur.Offsets() {
				cell := cur.locators[off]
				for _, entries := range cell.entries {
					for _, e := range entries {
						targets, unknown := g.ResultOf(e.Val).Resolve(g)
						if unknown {
							continue
						}
						for _, t := range targets {
							if t.Obj.kind == KindNull || t.Obj.kind == KindUnknown {
								continue
							}
							if _, ok := depths[t.Obj]; !ok {
								depths[t.Obj] = depth + 1
								next = append(next, t.Obj)
							}
						}
					}
				}
			}
		}
		frontier = next
	}

	if d, ok := depths[obj]; ok {
		return d
	}
	return -1
}

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
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// pointerLike reports whether values of type t are tracked by the points-to
// analysis: everything that contains a pointer the program can follow.
func pointerLike(t types.Type) bool {
	switch u := t.Underlying().(type) {
	case *types.Pointer, *types.Slice, *types.Map, *types.Chan, *types.Signature, *types.Interface:
		return true
	case *types.Basic:
		return u.Kind() == types.UnsafePointer
	}
	return false
}

// synthValue is an analysis-created value with a points-to result of its own, used
// to materialize summary outputs (addresses of instantiated objects, shifted
// arguments) in a caller's graph.
type synthValue struct {
	name string
	typ  types.Type
	fn   *ssa.Function
}

func (s *synthValue) Name() string   { return s.name }
func (s *synthValue) String() string { return s.name }
func (s *synthValue) Type() types.Type {
	if s.typ != nil {
		return s.typ
	}
	return types.Typ[types.Invalid]
}
func (s *synthValue) Parent() *ssa.Function         { return s.fn }
func (s *synthValue) Referrers() *[]ssa.Instruction { return nil }
func (s *synthValue) Pos() token.Pos                { return token.NoPos }

// FuncAnalysis runs the flow-sensitive points-to analysis of one function. It
// consumes a snapshot of callee summaries and per-site call targets, and produces
// the function's points-to graph, its own summary, and the call targets it
// resolved.
type FuncAnalysis struct {
	state *AnalyzerState
	fn    *ssa.Function

	Graph *PTGraph

	// summaries is the read-only snapshot of callee summaries for this round.
	summaries map[*ssa.Function]*FuncSummary

	// knownTargets carries the per-site indirect targets discovered in earlier
	// rounds; the analysis applies their summaries like static callees.
	knownTargets map[ssa.CallInstruction][]*ssa.Function

	// siteTargets accumulates the targets resolved for each call site this round.
	siteTargets map[ssa.CallInstruction][]*ssa.Function

	// pendingCallDeps maps call sites to the parameter or pseudo-parameter values
	// their callee value traces to; the summary exports them for callers.
	pendingCallDeps map[ssa.CallInstruction][]ssa.Value

	// callReturns records, per call site and result slot, the caller-side values a
	// summary application produced, so extracts and value tracking see through
	// calls.
	callReturns map[ssa.CallInstruction][][]ssa.Value

	Summary *FuncSummary
}

// NewFuncAnalysis prepares an analysis of fn.
func NewFuncAnalysis(state *AnalyzerState, fn *ssa.Function) *FuncAnalysis {
	return &FuncAnalysis{
		state:           state,
		fn:              fn,
		Graph:           NewPTGraph(state, fn),
		summaries:       map[*ssa.Function]*FuncSummary{},
		knownTargets:    map[ssa.CallInstruction][]*ssa.Function{},
		siteTargets:     map[ssa.CallInstruction][]*ssa.Function{},
		pendingCallDeps: map[ssa.CallInstruction][]ssa.Value{},
		callReturns:     map[ssa.CallInstruction][][]ssa.Value{},
	}
}

// Run analyzes the function bottom-up over its dominator tree. summaries and
// knownTargets are snapshots owned by the caller; Run never mutates them.
func (fa *FuncAnalysis) Run(summaries map[*ssa.Function]*FuncSummary,
	knownTargets map[ssa.CallInstruction][]*ssa.Function) error {
	if fa.fn.Blocks == nil {
		return fmt.Errorf("function %s has no body", fa.fn)
	}
	if summaries != nil {
		fa.summaries = summaries
	}
	if knownTargets != nil {
		fa.knownTargets = knownTargets
	}

	for _, b := range fa.fn.DomPreorder() {
		for _, instr := range b.Instrs {
			fa.processInstr(instr)
		}
	}
	fa.Graph.Freeze()
	fa.resolveCallSites()
	fa.Summary = buildSummary(fa)
	return nil
}

func (fa *FuncAnalysis) processInstr(instr ssa.Instruction) {
	g := fa.Graph
	switch v := instr.(type) {
	case *ssa.Alloc:
		obj := g.EnsureObject(v, KindConcrete)
		g.AddPointsTo(v, Locator{Obj: obj})

	case *ssa.MakeSlice:
		g.AddPointsTo(v, Locator{Obj: g.EnsureObject(v, KindConcrete)})
	case *ssa.MakeMap:
		g.AddPointsTo(v, Locator{Obj: g.EnsureObject(v, KindConcrete)})
	case *ssa.MakeChan:
		g.AddPointsTo(v, Locator{Obj: g.EnsureObject(v, KindConcrete)})
	case *ssa.MakeClosure:
		g.AddPointsTo(v, Locator{Obj: g.EnsureObject(v, KindConcrete)})

	case *ssa.FieldAddr:
		g.DerivePointsTo(v, g.ResultOf(v.X), fa.fieldAddrOffset(v))

	case *ssa.IndexAddr:
		g.DerivePointsTo(v, g.ResultOf(v.X), fa.indexAddrOffset(v))

	case *ssa.UnOp:
		if v.Op == token.MUL {
			fa.processLoad(v)
		}

	case *ssa.Store:
		fa.processStore(v)

	case *ssa.Phi:
		if pointerLike(v.Type()) {
			r := NewPTResult()
			for _, e := range v.Edges {
				r.AddDerived(g.ResultOf(e), 0)
			}
			g.AssignResult(v, r)
		}

	case *ssa.ChangeType:
		fa.alias(v, v.X)
	case *ssa.Convert:
		fa.alias(v, v.X)
	case *ssa.MakeInterface:
		fa.alias(v, v.X)
	case *ssa.ChangeInterface:
		fa.alias(v, v.X)
	case *ssa.Slice:
		fa.alias(v, v.X)
	case *ssa.TypeAssert:
		if !v.CommaOk {
			fa.alias(v, v.X)
		}

	case *ssa.Extract:
		fa.processExtract(v)

	case *ssa.Call:
		fa.processCall(v)
	case *ssa.Go:
		fa.processCall(v)
	case *ssa.Defer:
		fa.processCall(v)
	}

	// Anything pointer-like the dispatch did not model may point anywhere.
	if val, ok := instr.(ssa.Value); ok && pointerLike(val.Type()) && !g.HasResult(val) {
		g.AssignResult(val, g.unknownResult())
	}
}

func (fa *FuncAnalysis) alias(v ssa.Value, from ssa.Value) {
	if pointerLike(v.Type()) {
		fa.Graph.DerivePointsTo(v, fa.Graph.ResultOf(from), 0)
	}
}

// fieldAddrOffset returns the byte offset of the selected field.
func (fa *FuncAnalysis) fieldAddrOffset(v *ssa.FieldAddr) int64 {
	ptr, ok := v.X.Type().Underlying().(*types.Pointer)
	if !ok {
		return 0
	}
	st, ok := ptr.Elem().Underlying().(*types.Struct)
	if !ok {
		return 0
	}
	return fa.state.FieldOffset(st, v.Field)
}

// indexAddrOffset returns the byte offset of the selected element for constant
// indices. Variable indices summarize the whole array at offset 0.
func (fa *FuncAnalysis) indexAddrOffset(v *ssa.IndexAddr) int64 {
	c, ok := v.Index.(*ssa.Const)
	if !ok || c.Value == nil {
		return 0
	}
	var elem types.Type
	switch u := v.X.Type().Underlying().(type) {
	case *types.Pointer:
		arr, ok := u.Elem().Underlying().(*types.Array)
		if !ok {
			return 0
		}
		elem = arr.Elem()
	case *types.Slice:
		elem = u.Elem()
	default:
		return 0
	}
	return c.Int64() * fa.state.Sizeof(elem)
}

func (fa *FuncAnalysis) processLoad(v *ssa.UnOp) {
	g := fa.Graph

	// A load from the same cells at the same versions as an earlier load produces
	// the same value: alias the earlier load instead of re-reading.
	if prev, ok := g.MatchLoad(v, v.X, v); ok {
		g.recordLoadedValues(v, g.LoadedValues(prev))
		if pointerLike(v.Type()) {
			g.DerivePointsTo(v, g.ResultOf(prev), 0)
		}
		return
	}

	vals, ok := g.LoadValuesAt(v.X, v)
	if !ok {
		if pointerLike(v.Type()) {
			g.AssignResult(v, g.unknownResult())
		}
		return
	}
	g.recordLoadedValues(v, vals)

	if !pointerLike(v.Type()) {
		return
	}
	sent := fa.state.Sentinels
	r := NewPTResult()
	for _, w := range vals {
		switch w {
		case sent.FreeValue, sent.UndefValue:
			// Uninitialized cell: points to nothing.
		case sent.NoValue, sent.SummaryValue:
			r.SetUnknown()
		default:
			r.AddDerived(g.ResultOf(w), 0)
		}
	}
	g.AssignResult(v, r)
}

func (fa *FuncAnalysis) processStore(s *ssa.Store) {
	g := fa.Graph
	targets, unknown := g.ResultOf(s.Addr).Resolve(g)
	if unknown {
		fa.state.Logger.Tracef("store through unknown pointer at %s in %s", s, fa.fn)
		return
	}
	kind := StrongUpdate
	if len(targets) != 1 {
		kind = WeakUpdate
	}
	for _, t := range targets {
		if t.Obj.kind == KindNull || t.Obj.kind == KindUnknown {
			continue
		}
		cell := t.Obj.FindLocator(t.Offset, true)
		cell.StoreValue(g, s.Val, s, kind)
		if pointerLike(s.Val.Type()) {
			t.Obj.MarkPointer(t.Offset)
		}
	}
}

func (fa *FuncAnalysis) processExtract(v *ssa.Extract) {
	g := fa.Graph
	call, ok := v.Tuple.(*ssa.Call)
	if !ok {
		return
	}
	slots := fa.callReturns[call]
	if v.Index >= len(slots) || slots[v.Index] == nil {
		return
	}
	vals := slots[v.Index]
	g.recordLoadedValues(v, vals)
	if !pointerLike(v.Type()) {
		return
	}
	sent := fa.state.Sentinels
	r := NewPTResult()
	for _, w := range vals {
		if sent.IsSentinel(w) {
			r.SetUnknown()
			continue
		}
		r.AddDerived(g.ResultOf(w), 0)
	}
	g.AssignResult(v, r)
}

// actualArgs returns the caller-side arguments aligned with the callee's
// parameters; for interface dispatch the receiver is prepended.
func actualArgs(call ssa.CallInstruction) []ssa.Value {
	common := call.Common()
	if common.IsInvoke() {
		args := make([]ssa.Value, 0, len(common.Args)+1)
		args = append(args, common.Value)
		return append(args, common.Args...)
	}
	return common.Args
}

func (fa *FuncAnalysis) processCall(call ssa.CallInstruction) {
	common := call.Common()

	if b, ok := common.Value.(*ssa.Builtin); ok {
		fa.processBuiltin(call, b)
		return
	}

	var callees []*ssa.Function
	if sc := common.StaticCallee(); sc != nil {
		callees = []*ssa.Function{sc}
	} else {
		callees = fa.knownTargets[call]
	}
	fa.siteTargets[call] = append([]*ssa.Function(nil), callees...)

	nResults := common.Signature().Results().Len()
	slots := make([][]ssa.Value, nResults)

	applied := 0
	complete := len(callees) > 0
	for _, callee := range callees {
		s := fa.summaries[callee]
		if s == nil || s.Opaque {
			complete = false
			continue
		}
		fa.applySummary(call, s, slots, len(callees) == 1)
		applied++
	}

	if applied == 0 || !complete {
		fa.clobberCallArgs(call)
	}
	fa.callReturns[call] = slots

	// The call's own value: nothing for go and defer, the single result or the
	// tuple otherwise. Tuples flow through extracts.
	v, isValue := call.(*ssa.Call)
	if !isValue {
		return
	}
	if nResults == 1 {
		vals := slots[0]
		fa.Graph.recordLoadedValues(v, vals)
		if pointerLike(v.Type()) {
			sent := fa.state.Sentinels
			r := NewPTResult()
			if applied == 0 || !complete {
				r.SetUnknown()
			}
			for _, w := range vals {
				if sent.IsSentinel(w) {
					r.SetUnknown()
					continue
				}
				r.AddDerived(fa.Graph.ResultOf(w), 0)
			}
			fa.Graph.AssignResult(v, r)
		}
	}
	// Multi-result calls are handled per-slot by processExtract; the tuple value
	// itself gets no points-to result.
}

// processBuiltin models the builtins with aliasing behavior; the rest have no
// effect on the points-to state.
func (fa *FuncAnalysis) processBuiltin(call ssa.CallInstruction, b *ssa.Builtin) {
	g := fa.Graph
	args := call.Common().Args
	switch b.Name() {
	case "append":
		v, isValue := call.(*ssa.Call)
		if !isValue {
			return
		}
		// The result aliases the first argument or a fresh backing array.
		r := NewPTResult()
		if len(args) > 0 {
			r.AddDerived(g.ResultOf(args[0]), 0)
		}
		r.AddTarget(Locator{Obj: g.EnsureObject(v, KindConcrete)})
		g.AssignResult(v, r)
	case "copy":
		fa.processCopy(call, args)
	}
}

// processCopy transfers the element values of the source slice into the cells of
// the destination. Elements without pointers carry no analysis state.
func (fa *FuncAnalysis) processCopy(call ssa.CallInstruction, args []ssa.Value) {
	if len(args) != 2 {
		return
	}
	st, ok := args[0].Type().Underlying().(*types.Slice)
	if !ok || !pointerLike(st.Elem()) {
		return
	}
	g := fa.Graph
	sent := fa.state.Sentinels
	vals, ok := g.LoadValuesAt(args[1], call)
	if !ok {
		vals = []ssa.Value{sent.NoValue}
	}
	targets, unknown := g.ResultOf(args[0]).Resolve(g)
	if unknown {
		return
	}
	for _, t := range targets {
		if t.Obj.kind == KindNull || t.Obj.kind == KindUnknown {
			continue
		}
		cell := t.Obj.FindLocator(t.Offset, true)
		for _, w := range vals {
			if w == sent.FreeValue || w == sent.UndefValue {
				continue
			}
			cell.StoreValue(g, w, call, WeakUpdate)
		}
		t.Obj.MarkPointer(t.Offset)
	}
}

// clobberCallArgs accounts for a callee the analysis knows nothing about: memory
// reachable from pointer arguments may have been overwritten.
func (fa *FuncAnalysis) clobberCallArgs(call ssa.CallInstruction) {
	g := fa.Graph
	sent := fa.state.Sentinels
	for _, arg := range actualArgs(call) {
		if !pointerLike(arg.Type()) {
			continue
		}
		targets, unknown := g.ResultOf(arg).Resolve(g)
		if unknown {
			continue
		}
		for _, t := range targets {
			if t.Obj.kind == KindNull || t.Obj.kind == KindUnknown {
				continue
			}
			cell := t.Obj.FindLocator(t.Offset, true)
			cell.StoreValue(g, sent.NoValue, call, WeakUpdate)
		}
	}
}

// loadStep reads the cells at base's targets shifted by offset, at the call site.
func (fa *FuncAnalysis) loadStep(base ssa.Value, offset int64, at ssa.Instruction) ([]ssa.Value, bool) {
	g := fa.Graph
	targets, unknown := g.ResultOf(base).Resolve(g)
	if unknown {
		return nil, false
	}
	var out []ssa.Value
	seen := map[ssa.Value]bool{}
	for _, t := range targets {
		if t.Obj.kind == KindNull {
			continue
		}
		if t.Obj.kind == KindUnknown {
			return nil, false
		}
		cell := t.Obj.FindLocator(t.Offset+offset, true)
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

// evalReadPath evaluates a summary read path in this caller at the call site,
// returning the values the callee would observe.
func (fa *FuncAnalysis) evalReadPath(call ssa.CallInstruction, path AccessPath) ([]ssa.Value, bool) {
	cur, ok := fa.pathRoots(call, path)
	if !ok {
		return nil, false
	}
	sent := fa.state.Sentinels
	for _, off := range path.Offsets {
		var next []ssa.Value
		seen := map[ssa.Value]bool{}
		for _, v := range cur {
			if sent.IsSentinel(v) {
				return nil, false
			}
			vals, ok := fa.loadStep(v, off, call)
			if !ok {
				return nil, false
			}
			for _, w := range vals {
				if !seen[w] {
					seen[w] = true
					next = append(next, w)
				}
			}
		}
		cur = next
	}
	return cur, true
}

// evalWritePath locates the caller cells a summary write path names: all offsets
// but the last are dereferences, the last is the written cell.
func (fa *FuncAnalysis) evalWritePath(call ssa.CallInstruction, path AccessPath) ([]*ObjectLocator, bool) {
	if len(path.Offsets) == 0 {
		return nil, false
	}
	cur, ok := fa.pathRoots(call, path)
	if !ok {
		return nil, false
	}
	sent := fa.state.Sentinels
	for _, off := range path.Offsets[:len(path.Offsets)-1] {
		var next []ssa.Value
		for _, v := range cur {
			if sent.IsSentinel(v) {
				return nil, false
			}
			vals, ok := fa.loadStep(v, off, call)
			if !ok {
				return nil, false
			}
			next = append(next, vals...)
		}
		cur = next
	}

	last := path.Offsets[len(path.Offsets)-1]
	var cells []*ObjectLocator
	for _, v := range cur {
		if sent.IsSentinel(v) {
			return nil, false
		}
		targets, unknown := fa.Graph.ResultOf(v).Resolve(fa.Graph)
		if unknown {
			return nil, false
		}
		for _, t := range targets {
			if t.Obj.kind == KindNull || t.Obj.kind == KindUnknown {
				continue
			}
			cells = append(cells, t.Obj.FindLocator(t.Offset+last, true))
		}
	}
	return cells, true
}

func (fa *FuncAnalysis) pathRoots(call ssa.CallInstruction, path AccessPath) ([]ssa.Value, bool) {
	switch path.Kind {
	case RootParam:
		args := actualArgs(call)
		if path.Param >= len(args) {
			return nil, false
		}
		return []ssa.Value{args[path.Param]}, true
	case RootGlobal:
		return []ssa.Value{path.Global}, true
	default:
		return nil, false
	}
}

// applySummary replays a callee summary at a call site: binds the callee's inputs
// to what this caller holds at the site, materializes the callee's escaped
// objects, performs its caller-visible writes, and collects its return values into
// slots. soleCallee enables strong updates for single-target writes.
func (fa *FuncAnalysis) applySummary(call ssa.CallInstruction, s *FuncSummary,
	slots [][]ssa.Value, soleCallee bool) {
	g := fa.Graph
	sent := fa.state.Sentinels

	// Bind inputs.
	inVals := make([][]ssa.Value, len(s.Inputs))
	for i, in := range s.Inputs {
		vals, ok := fa.evalReadPath(call, in.Path)
		if !ok {
			inVals[i] = []ssa.Value{sent.NoValue}
			continue
		}
		inVals[i] = vals
	}

	// Materialize escaped objects.
	objs := make([]*MemObject, len(s.Escaped))
	for i, esc := range s.Escaped {
		objs[i] = g.NewObject(call.Common().Value, esc.kind)
	}

	// decode expands one summary value into caller-side values.
	decode := func(ov OutValue) []ssa.Value {
		switch ov.Kind {
		case OutConst:
			return []ssa.Value{ov.Val}
		case OutObject:
			addr := &synthValue{
				name: fmt.Sprintf("%s.obj%d+%d", s.Fn.Name(), ov.Object, ov.Offset),
				fn:   fa.fn,
			}
			g.AddPointsTo(addr, Locator{Obj: objs[ov.Object], Offset: ov.Offset})
			return []ssa.Value{addr}
		case OutParam:
			args := actualArgs(call)
			if ov.Param >= len(args) {
				return []ssa.Value{sent.NoValue}
			}
			actual := args[ov.Param]
			if ov.Offset == 0 {
				return []ssa.Value{actual}
			}
			shifted := &synthValue{
				name: fmt.Sprintf("%s.arg%d+%d", s.Fn.Name(), ov.Param, ov.Offset),
				typ:  actual.Type(),
				fn:   fa.fn,
			}
			g.DerivePointsTo(shifted, g.ResultOf(actual), ov.Offset)
			return []ssa.Value{shifted}
		case OutInput:
			if ov.Input < len(inVals) {
				return inVals[ov.Input]
			}
			return []ssa.Value{sent.NoValue}
		default:
			return []ssa.Value{sent.NoValue}
		}
	}

	for _, out := range s.Outputs {
		switch out.Path.Kind {
		case RootReturn:
			if out.Path.Index < len(slots) {
				for _, ov := range out.Values {
					slots[out.Path.Index] = append(slots[out.Path.Index], decode(ov)...)
				}
			}
		case RootEscaped:
			if len(out.Path.Offsets) != 1 {
				continue
			}
			cell := objs[out.Path.Index].FindLocator(out.Path.Offsets[0], true)
			for _, ov := range out.Values {
				for _, v := range decode(ov) {
					cell.StoreValue(g, v, call, WeakUpdate)
					if !sent.IsSentinel(v) && pointerLike(v.Type()) {
						objs[out.Path.Index].MarkPointer(out.Path.Offsets[0])
					}
				}
			}
		default:
			cells, ok := fa.evalWritePath(call, out.Path)
			if !ok {
				continue
			}
			var vals []ssa.Value
			for _, ov := range out.Values {
				vals = append(vals, decode(ov)...)
			}
			kind := WeakUpdate
			if soleCallee && len(cells) == 1 && len(vals) == 1 {
				kind = StrongUpdate
			}
			for _, cell := range cells {
				for _, v := range vals {
					cell.StoreValue(g, v, call, kind)
					if !sent.IsSentinel(v) && pointerLike(v.Type()) {
						cell.obj.MarkPointer(cell.offset)
					}
				}
			}
		}
	}
}

// resolveCallSites runs after the instruction pass: for every call through a
// value, track the value back to the functions it can hold, and record the sites
// whose targets only a caller can name.
func (fa *FuncAnalysis) resolveCallSites() {
	g := fa.Graph
	for _, b := range fa.fn.Blocks {
		for _, instr := range b.Instrs {
			call, ok := instr.(ssa.CallInstruction)
			if !ok {
				continue
			}
			common := call.Common()
			if common.StaticCallee() != nil || common.IsInvoke() {
				continue
			}
			if _, isBuiltin := common.Value.(*ssa.Builtin); isBuiltin {
				continue
			}
			known := map[*ssa.Function]bool{}
			for _, f := range fa.siteTargets[call] {
				known[f] = true
			}
			for _, src := range g.TrackRightValue(common.Value) {
				switch x := src.(type) {
				case *ssa.Function:
					if !known[x] {
						known[x] = true
						fa.siteTargets[call] = append(fa.siteTargets[call], x)
					}
				case *ssa.Parameter, *PseudoParam:
					fa.pendingCallDeps[call] = append(fa.pendingCallDeps[call], x)
				case *ssa.Call:
					// A function returned by another call: resolve through the
					// producing call's summaries.
					for _, producer := range fa.siteTargets[x] {
						ps := fa.summaries[producer]
						if ps == nil {
							continue
						}
						for _, ov := range ps.ReturnValues(0) {
							if ov.Kind == OutConst {
								if f, isFn := ov.Val.(*ssa.Function); isFn && !known[f] {
									known[f] = true
									fa.siteTargets[call] = append(fa.siteTargets[call], f)
								}
							}
						}
					}
				}
			}
		}
	}
}

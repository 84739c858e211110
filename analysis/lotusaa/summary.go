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
	"hash/fnv"
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// RootKind says where an access path starts.
type RootKind int

const (
	// RootParam paths start at a parameter of the function.
	RootParam RootKind = iota
	// RootGlobal paths start at a global variable slot.
	RootGlobal
	// RootReturn paths name a result slot of the function.
	RootReturn
	// RootEscaped paths start at an object the function allocated and leaked.
	RootEscaped
)

// AccessPath names a memory location relative to a function's interface: a root
// followed by byte offsets, one per pointer dereference. For reads the last offset
// is itself a load; for writes the last offset is the written cell.
type AccessPath struct {
	Kind    RootKind
	Param   int         // parameter index for RootParam
	Global  *ssa.Global // for RootGlobal
	Index   int         // result index for RootReturn, object index for RootEscaped
	Offsets []int64
}

// Level returns the dereference depth of the path.
func (p AccessPath) Level() int { return len(p.Offsets) }

func (p AccessPath) String() string {
	var root string
	switch p.Kind {
	case RootParam:
		root = fmt.Sprintf("arg%d", p.Param)
	case RootGlobal:
		root = p.Global.String()
	case RootReturn:
		root = fmt.Sprintf("ret%d", p.Index)
	case RootEscaped:
		root = fmt.Sprintf("esc%d", p.Index)
	}
	if len(p.Offsets) == 0 {
		return root
	}
	parts := make([]string, len(p.Offsets))
	for i, o := range p.Offsets {
		parts[i] = fmt.Sprintf("%d", o)
	}
	return root + "." + strings.Join(parts, ".")
}

// child returns the path extended by one dereference offset.
func (p AccessPath) child(offset int64) AccessPath {
	offsets := make([]int64, len(p.Offsets)+1)
	copy(offsets, p.Offsets)
	offsets[len(p.Offsets)] = offset
	return AccessPath{Kind: p.Kind, Param: p.Param, Global: p.Global, Index: p.Index, Offsets: offsets}
}

// OutKind classifies the values a summary exposes to callers.
type OutKind int

const (
	// OutConst is a function-independent value: a constant, a function, or a global.
	OutConst OutKind = iota
	// OutObject is a pointer to an escaped object (plus an offset into it).
	OutObject
	// OutParam is a pointer derived from a parameter: the actual argument shifted
	// by an offset.
	OutParam
	// OutInput passes through a value the function read from caller memory.
	OutInput
	// OutUnknown is a value the summary cannot express.
	OutUnknown
)

// OutValue is one value visible at a summary output.
type OutValue struct {
	Kind   OutKind
	Val    ssa.Value // OutConst
	Object int       // OutObject: escaped object index
	Offset int64     // OutObject, OutParam
	Param  int       // OutParam
	Input  int       // OutInput: input item index
}

func (v OutValue) String() string {
	switch v.Kind {
	case OutConst:
		return "const:" + v.Val.Name()
	case OutObject:
		return fmt.Sprintf("obj:%d+%d", v.Object, v.Offset)
	case OutParam:
		return fmt.Sprintf("arg%d+%d", v.Param, v.Offset)
	case OutInput:
		return fmt.Sprintf("in:%d", v.Input)
	default:
		return "unknown"
	}
}

// InputItem is a cell the function reads from caller memory before writing it,
// represented inside the function by a pseudo parameter.
type InputItem struct {
	Path   AccessPath
	Pseudo *PseudoParam
}

// OutputItem is one effect visible to the caller: the values the named location
// may hold when the function returns.
type OutputItem struct {
	Path   AccessPath
	Values []OutValue
}

// CallDep is a call site whose targets depend on a value the caller supplies: the
// path evaluates, in the caller, to the functions called at the site.
type CallDep struct {
	Path AccessPath
	Site ssa.CallInstruction
}

// FuncSummary is the interface summary of one analyzed function: what it reads
// from and writes to caller-visible memory, which objects leak out of it, which
// functions it calls per site, and which call sites can only be resolved by its
// callers. The fingerprint condenses the caller-visible parts; callers are
// re-analyzed only when it changes.
type FuncSummary struct {
	Fn *ssa.Function

	Inputs  []InputItem
	Outputs []OutputItem

	// Escaped holds the objects that outlive the call, in the index space used by
	// OutObject values and RootEscaped paths.
	Escaped []*MemObject

	// SiteTargets are the call targets this analysis round resolved per site.
	SiteTargets map[ssa.CallInstruction][]*ssa.Function

	// CallDeps are the call sites whose targets the callers must supply.
	CallDeps []CallDep

	// Opaque marks a summary that exceeded the size bound: callers must treat the
	// function as unanalyzed instead of effect-free.
	Opaque bool

	Fingerprint uint64
}

// ReturnValues returns the output values of result slot i.
func (s *FuncSummary) ReturnValues(i int) []OutValue {
	for _, out := range s.Outputs {
		if out.Path.Kind == RootReturn && out.Path.Index == i && len(out.Path.Offsets) == 0 {
			return out.Values
		}
	}
	return nil
}

// computeFingerprint hashes the caller-visible shape of the summary.
func (s *FuncSummary) computeFingerprint() uint64 {
	h := fnv.New64a()
	write := func(format string, args ...any) {
		fmt.Fprintf(h, format, args...)
	}
	write("opaque:%t;", s.Opaque)
	write("in:%d;", len(s.Inputs))
	for _, in := range s.Inputs {
		write("%s;", in.Path)
	}
	write("out:%d;", len(s.Outputs))
	for _, out := range s.Outputs {
		write("%s=", out.Path)
		for _, v := range out.Values {
			write("%s,", v)
		}
		write(";")
	}
	write("deps:%d;", len(s.CallDeps))
	for _, d := range s.CallDeps {
		write("%s;", d.Path)
	}

	targets := make([]string, 0, len(s.SiteTargets))
	for site, funcs := range s.SiteTargets {
		names := make([]string, len(funcs))
		for i, f := range funcs {
			names[i] = f.String()
		}
		sort.Strings(names)
		targets = append(targets, fmt.Sprintf("%v->%s", site.Pos(), strings.Join(names, ",")))
	}
	sort.Strings(targets)
	for _, t := range targets {
		write("%s;", t)
	}
	return h.Sum64()
}

// summaryBuilder derives a FuncSummary from a completed function analysis.
type summaryBuilder struct {
	fa *FuncAnalysis
	g  *PTGraph

	escapedIdx map[*MemObject]int
	inputIdx   map[*PseudoParam]int
	pathCache  map[*MemObject]*AccessPath

	summary *FuncSummary
}

func buildSummary(fa *FuncAnalysis) *FuncSummary {
	b := &summaryBuilder{
		fa:         fa,
		g:          fa.Graph,
		escapedIdx: map[*MemObject]int{},
		inputIdx:   map[*PseudoParam]int{},
		pathCache:  map[*MemObject]*AccessPath{},
		summary: &FuncSummary{
			Fn:          fa.fn,
			SiteTargets: fa.siteTargets,
		},
	}
	b.collectInputs()
	b.collectEscaped()
	b.collectOutputs()
	b.collectCallDeps()
	b.finalize()
	return b.summary
}

// pathOf computes the access path of a symbolic or global-rooted object, chaining
// through the pseudo parameters it was reached by. Returns nil when the object has
// no caller-expressible path (e.g. it was produced by an unanalyzed call) or the
// path exceeds the summary depth bound.
func (b *summaryBuilder) pathOf(obj *MemObject) *AccessPath {
	if p, ok := b.pathCache[obj]; ok {
		return p
	}
	// Break chains that loop through recursive structures.
	b.pathCache[obj] = nil

	var path *AccessPath
	switch site := obj.site.(type) {
	case *ssa.Parameter:
		for i, param := range b.fa.fn.Params {
			if param == site {
				path = &AccessPath{Kind: RootParam, Param: i}
				break
			}
		}
	case *ssa.Global:
		path = &AccessPath{Kind: RootGlobal, Global: site}
	case *PseudoParam:
		if parent := b.pathOf(site.obj); parent != nil {
			child := parent.child(site.offset)
			path = &child
		}
	}
	if path != nil && path.Level() > b.fa.state.Config.MaxSummaryDepth {
		path = nil
	}
	b.pathCache[obj] = path
	return path
}

func (b *summaryBuilder) collectInputs() {
	for _, p := range b.g.PseudoParams() {
		parent := b.pathOf(p.obj)
		if parent == nil {
			continue
		}
		path := parent.child(p.offset)
		if path.Level() > b.fa.state.Config.MaxSummaryDepth {
			continue
		}
		b.inputIdx[p] = len(b.summary.Inputs)
		b.summary.Inputs = append(b.summary.Inputs, InputItem{Path: path, Pseudo: p})
	}
}

// collectEscaped finds the concrete objects that outlive the function: objects
// reachable from returned values, from cells of symbolic or global memory, or from
// cells of other escaped objects.
func (b *summaryBuilder) collectEscaped() {
	var work []*MemObject
	seen := map[*MemObject]bool{}

	addTargets := func(r *PTResult) {
		targets, unknown := r.Resolve(b.g)
		if unknown {
			return
		}
		for _, t := range targets {
			if t.Obj.kind == KindConcrete && !seen[t.Obj] {
				seen[t.Obj] = true
				work = append(work, t.Obj)
			}
		}
	}

	for _, ret := range returnInstrs(b.fa.fn) {
		for _, res := range ret.Results {
			if pointerLike(res.Type()) {
				addTargets(b.g.ResultOf(res))
			}
		}
	}
	// Values written into caller-visible memory escape.
	for _, obj := range b.g.Objects() {
		if obj.kind != KindSymbolic {
			continue
		}
		for _, off := range obj.UpdatedOffsets() {
			for _, v := range b.exitValues(obj, off) {
				if pointerLike(v.Type()) {
					addTargets(b.g.ResultOf(v))
				}
			}
		}
	}

	for len(work) > 0 {
		obj := work[len(work)-1]
		work = work[:len(work)-1]
		b.escapedIdx[obj] = len(b.summary.Escaped)
		b.summary.Escaped = append(b.summary.Escaped, obj)
		for _, off := range obj.UpdatedOffsets() {
			for _, v := range b.exitValues(obj, off) {
				if pointerLike(v.Type()) {
					addTargets(b.g.ResultOf(v))
				}
			}
		}
	}
}

// exitValues returns the values the cell (obj, offset) may hold at function exit,
// the union over all return points.
func (b *summaryBuilder) exitValues(obj *MemObject, offset int64) []ssa.Value {
	cell := obj.FindLocator(offset, false)
	if cell == nil {
		return nil
	}
	var out []ssa.Value
	seen := map[ssa.Value]bool{}
	for _, ret := range returnInstrs(b.fa.fn) {
		vals, ok := cell.ReachingValues(b.g, ret)
		if !ok {
			return []ssa.Value{b.fa.state.Sentinels.NoValue}
		}
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// encodeValue translates a function-internal value into summary terms. Values with
// no expressible shape become OutUnknown.
func (b *summaryBuilder) encodeValue(v ssa.Value) []OutValue {
	sent := b.fa.state.Sentinels
	switch x := v.(type) {
	case *ssa.Const, *ssa.Function, *ssa.Global:
		return []OutValue{{Kind: OutConst, Val: v}}
	case *ssa.Parameter:
		for i, param := range b.fa.fn.Params {
			if param == x {
				return []OutValue{{Kind: OutParam, Param: i}}
			}
		}
		return []OutValue{{Kind: OutUnknown}}
	case *PseudoParam:
		if idx, ok := b.inputIdx[x]; ok {
			return []OutValue{{Kind: OutInput, Input: idx}}
		}
		return []OutValue{{Kind: OutUnknown}}
	}
	if v == sent.FreeValue || v == sent.UndefValue {
		// Uninitialized content transfers as nothing observable.
		return nil
	}
	if sent.IsSentinel(v) {
		return []OutValue{{Kind: OutUnknown}}
	}
	if !pointerLike(v.Type()) {
		return []OutValue{{Kind: OutUnknown}}
	}

	targets, unknown := b.g.ResultOf(v).Resolve(b.g)
	if unknown {
		return []OutValue{{Kind: OutUnknown}}
	}
	var out []OutValue
	for _, t := range targets {
		switch {
		case t.Obj.kind == KindNull:
			// Nil transfers as itself; callers already model nil.
		case t.Obj.kind == KindConcrete:
			if idx, ok := b.escapedIdx[t.Obj]; ok {
				out = append(out, OutValue{Kind: OutObject, Object: idx, Offset: t.Offset})
			} else {
				out = append(out, OutValue{Kind: OutUnknown})
			}
		case t.Obj.kind == KindSymbolic:
			switch site := t.Obj.site.(type) {
			case *ssa.Parameter:
				found := false
				for i, param := range b.fa.fn.Params {
					if param == site {
						out = append(out, OutValue{Kind: OutParam, Param: i, Offset: t.Offset})
						found = true
						break
					}
				}
				if !found {
					out = append(out, OutValue{Kind: OutUnknown})
				}
			default:
				out = append(out, OutValue{Kind: OutUnknown})
			}
		default:
			out = append(out, OutValue{Kind: OutUnknown})
		}
	}
	if len(out) == 0 && len(targets) == 0 {
		return nil
	}
	return out
}

// encodeCellValues encodes the exit content of one cell, merging duplicates.
func (b *summaryBuilder) encodeCellValues(vals []ssa.Value) []OutValue {
	var out []OutValue
	seen := map[OutValue]bool{}
	for _, v := range vals {
		for _, ov := range b.encodeValue(v) {
			if !seen[ov] {
				seen[ov] = true
				out = append(out, ov)
			}
		}
	}
	return out
}

func (b *summaryBuilder) collectOutputs() {
	// Result slots.
	returns := returnInstrs(b.fa.fn)
	if len(returns) > 0 {
		nResults := b.fa.fn.Signature.Results().Len()
		for i := 0; i < nResults; i++ {
			var vals []ssa.Value
			for _, ret := range returns {
				if i < len(ret.Results) {
					vals = append(vals, b.g.TrackRightValue(ret.Results[i])...)
				}
			}
			values := b.encodeCellValues(vals)
			if len(values) > 0 {
				b.summary.Outputs = append(b.summary.Outputs, OutputItem{
					Path:   AccessPath{Kind: RootReturn, Index: i},
					Values: values,
				})
			}
		}
	}

	// Writes into caller memory, rooted at parameters and globals.
	for _, obj := range b.g.Objects() {
		if obj.kind != KindSymbolic {
			continue
		}
		parent := b.pathOf(obj)
		if parent == nil {
			continue
		}
		for _, off := range obj.UpdatedOffsets() {
			path := parent.child(off)
			if path.Level() > b.fa.state.Config.MaxSummaryDepth {
				continue
			}
			values := b.encodeCellValues(b.exitValues(obj, off))
			if len(values) > 0 {
				b.summary.Outputs = append(b.summary.Outputs, OutputItem{Path: path, Values: values})
			}
		}
	}

	// Cells of escaped objects, so callers can reconstruct leaked structures.
	for idx, obj := range b.summary.Escaped {
		for _, off := range obj.UpdatedOffsets() {
			values := b.encodeCellValues(b.exitValues(obj, off))
			if len(values) > 0 {
				b.summary.Outputs = append(b.summary.Outputs, OutputItem{
					Path:   AccessPath{Kind: RootEscaped, Index: idx, Offsets: []int64{off}},
					Values: values,
				})
			}
		}
	}
}

// collectCallDeps records the call sites whose targets trace to a parameter or to
// caller memory, for the callers to resolve.
func (b *summaryBuilder) collectCallDeps() {
	for site, deps := range b.fa.pendingCallDeps {
		for _, dep := range deps {
			switch x := dep.(type) {
			case *ssa.Parameter:
				for i, param := range b.fa.fn.Params {
					if param == x {
						b.summary.CallDeps = append(b.summary.CallDeps,
							CallDep{Path: AccessPath{Kind: RootParam, Param: i}, Site: site})
						break
					}
				}
			case *PseudoParam:
				parent := b.pathOf(x.obj)
				if parent == nil {
					continue
				}
				path := parent.child(x.offset)
				if path.Level() > b.fa.state.Config.MaxSummaryDepth {
					continue
				}
				b.summary.CallDeps = append(b.summary.CallDeps, CallDep{Path: path, Site: site})
			}
		}
	}
}

// finalize trims the summary to the configured size bound and seals the
// fingerprint. A summary over the bound degrades to an opaque one: callers treat
// calls to it like calls to an unanalyzed function.
func (b *summaryBuilder) finalize() {
	s := b.summary
	max := b.fa.state.Config.MaxSummarySize
	if len(s.Inputs) > max || len(s.Outputs) > max {
		s.Inputs = nil
		s.Outputs = nil
		s.Escaped = nil
		s.CallDeps = nil
		s.Opaque = true
	}
	sort.Slice(s.Outputs, func(i, j int) bool {
		return s.Outputs[i].Path.String() < s.Outputs[j].Path.String()
	})
	s.Fingerprint = s.computeFingerprint()
}

// returnInstrs collects the return instructions of f.
func returnInstrs(f *ssa.Function) []*ssa.Return {
	var out []*ssa.Return
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if ret, ok := instr.(*ssa.Return); ok {
				out = append(out, ret)
			}
		}
	}
	return out
}

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

	"github.com/Yanhaoxi/lotus-zju-sub003/analysis/config"
	"golang.org/x/tools/go/ssa"
)

// UpdateKind distinguishes writes that overwrite a cell from writes that may only
// be one of several reaching definitions.
type UpdateKind int

const (
	// StrongUpdate kills every older definition of the cell on paths through it.
	StrongUpdate UpdateKind = iota
	// WeakUpdate adds a possible definition without killing older ones.
	WeakUpdate
)

func (k UpdateKind) String() string {
	if k == StrongUpdate {
		return "strong"
	}
	return "weak"
}

// LocValue is one definition recorded in a cell: the stored value, the defining
// instruction (nil for merge entries placed at a join block's entry), and whether
// the definition was strong or weak.
type LocValue struct {
	Val    ssa.Value
	Pos    ssa.Instruction
	Update UpdateKind
}

// ObjectLocator is one addressable cell of a memory object: the pair of the object
// and a byte offset. It versions its content per basic block, in SSA style: each
// block holds the ordered list of definitions made in it, and queries walk the
// dominator tree to find the definitions reaching a program point.
type ObjectLocator struct {
	obj    *MemObject
	offset int64

	entries map[*ssa.BasicBlock][]LocValue
}

// Object returns the owning memory object.
func (l *ObjectLocator) Object() *MemObject { return l.obj }

// Offset returns the cell's byte offset.
func (l *ObjectLocator) Offset() int64 { return l.offset }

func (l *ObjectLocator) String() string {
	return fmt.Sprintf("%s+%d", l.obj.String(), l.offset)
}

// StoreValue records a write of val to the cell at instr. A strong update also
// places weak merge entries at the iterated dominance frontier of the defining
// block, so that queries from non-dominated blocks see the definition as one
// possibility. Storing the same value at the same instruction again promotes a
// weak entry to strong instead of duplicating it.
func (l *ObjectLocator) StoreValue(g *PTGraph, val ssa.Value, instr ssa.Instruction, kind UpdateKind) {
	b := instr.Block()
	if b == nil {
		return
	}
	if l.entries == nil {
		l.entries = map[*ssa.BasicBlock][]LocValue{}
	}
	for i, e := range l.entries[b] {
		if e.Pos == instr && e.Val == val {
			if kind == StrongUpdate && e.Update == WeakUpdate {
				l.entries[b][i].Update = StrongUpdate
			}
			return
		}
	}
	l.entries[b] = append(l.entries[b], LocValue{Val: val, Pos: instr, Update: kind})
	l.obj.MarkUpdated(l.offset)

	if kind != StrongUpdate {
		return
	}
	info := g.state.DomInfo(b.Parent())
	if info == nil {
		return
	}
	for _, j := range info.iteratedFrontier(b, g.state.Config.MaxPhiFrontier) {
		if l.hasMergeEntry(j, val) {
			continue
		}
		l.entries[j] = append(l.entries[j], LocValue{Val: val, Pos: nil, Update: WeakUpdate})
	}
}

func (l *ObjectLocator) hasMergeEntry(b *ssa.BasicBlock, val ssa.Value) bool {
	for _, e := range l.entries[b] {
		if e.Pos == nil && e.Val == val {
			return true
		}
	}
	return false
}

// ReachingValues collects the definitions of the cell that reach the program point
// at, newest first, by walking up the dominator tree from at's block. A strong
// definition terminates the walk. The walk degrades (returns ok == false) when one
// of the configured caps is exceeded, in which case the caller must treat the cell
// content as unknown. When no definition reaches the point the result depends on
// the owning object: a read-only constant global yields its cached initializers, a
// symbolic object yields a pseudo parameter standing for the caller-supplied
// content, and a concrete object yields the free or undefined sentinel.
func (l *ObjectLocator) ReachingValues(g *PTGraph, at ssa.Instruction) (vals []ssa.Value, ok bool) {
	cfg := g.state.Config
	b := at.Block()
	if b == nil {
		return nil, false
	}

	seen := map[ssa.Value]bool{}
	add := func(v ssa.Value) bool {
		if seen[v] {
			return true
		}
		if !config.Unlimited(cfg.MaxValuesPerQuery) && len(vals) >= cfg.MaxValuesPerQuery {
			return false
		}
		seen[v] = true
		vals = append(vals, v)
		return true
	}

	blocks := 0
	limit := instrIndex(b, at)
	for cur := b; cur != nil; cur = cur.Idom() {
		if !config.Unlimited(cfg.MaxBlocksPerQuery) && blocks >= cfg.MaxBlocksPerQuery {
			return nil, false
		}
		blocks++

		entries := l.entries[cur]
		inBlock := 0
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if cur == b && e.Pos != nil && limit >= 0 && instrIndex(cur, e.Pos) >= limit {
				continue
			}
			if !config.Unlimited(cfg.MaxValuesPerBlock) && inBlock >= cfg.MaxValuesPerBlock {
				return nil, false
			}
			inBlock++
			if !add(e.Val) {
				return nil, false
			}
			if e.Update == StrongUpdate {
				return vals, true
			}
		}
		limit = -1
	}

	// No strong definition reaches the entry block: the cell may still hold what the
	// environment put there.
	if g.fillEntryValue(l, add) {
		return vals, true
	}
	return nil, false
}

// Version returns the newest definition of the cell reaching at, for must-alias
// comparisons. found is false when nothing reaches the point, in which case two
// cells can only be compared through their entry fallback.
func (l *ObjectLocator) Version(at ssa.Instruction) (v LocValue, found bool) {
	b := at.Block()
	if b == nil {
		return LocValue{}, false
	}
	limit := instrIndex(b, at)
	for cur := b; cur != nil; cur = cur.Idom() {
		entries := l.entries[cur]
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if cur == b && e.Pos != nil && limit >= 0 && instrIndex(cur, e.Pos) >= limit {
				continue
			}
			return e, true
		}
		limit = -1
	}
	return LocValue{}, false
}

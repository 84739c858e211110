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

	"golang.org/x/tools/go/ssa"

	"github.com/Yanhaoxi/lotus-zju-sub003/internal/funcutil"
)

// ObjKind classifies abstract memory objects.
type ObjKind int

const (
	// KindConcrete objects stand for memory allocated inside the analyzed function,
	// one object per allocation site.
	KindConcrete ObjKind = iota

	// KindSymbolic objects stand for memory whose identity is not visible in the
	// analyzed function: memory reachable from parameters, globals, or the results
	// of unanalyzed calls.
	KindSymbolic

	// KindNull is the target of nil pointers.
	KindNull

	// KindUnknown absorbs out-of-model memory.
	KindUnknown
)

func (k ObjKind) String() string {
	switch k {
	case KindConcrete:
		return "concrete"
	case KindSymbolic:
		return "symbolic"
	case KindNull:
		return "null"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// MemObject is an abstract memory object, identified by its allocation (or
// introduction) site within one function's points-to graph. Its addressable cells
// are ObjectLocators, keyed by byte offset and created on demand.
type MemObject struct {
	kind  ObjKind
	site  ssa.Value
	fn    *ssa.Function
	index int

	locators map[int64]*ObjectLocator

	// updatedOffsets records the offsets written through this object; pointerOffsets
	// the offsets where a pointer value was stored. Both feed summary collection.
	updatedOffsets map[int64]bool
	pointerOffsets map[int64]bool

	// pseudoParams, for symbolic objects, holds one placeholder per offset read
	// before any write.
	pseudoParams map[int64]*PseudoParam
}

// Kind returns the object's classification.
func (m *MemObject) Kind() ObjKind { return m.kind }

// Site returns the value that introduced the object: an allocation instruction for
// concrete objects, a parameter, global, pseudo parameter or call for symbolic ones.
func (m *MemObject) Site() ssa.Value { return m.site }

// Func returns the function whose points-to graph owns the object.
func (m *MemObject) Func() *ssa.Function { return m.fn }

// Index returns the dense per-graph index of the object.
func (m *MemObject) Index() int { return m.index }

func (m *MemObject) String() string {
	switch m.kind {
	case KindNull:
		return "<null>"
	case KindUnknown:
		return "<unknown>"
	}
	site := "?"
	if m.site != nil {
		site = m.site.Name()
	}
	return fmt.Sprintf("%s#%d(%s)", m.kind, m.index, site)
}

// FindLocator returns the cell of the object at the given byte offset. When create
// is false and the cell does not exist, it returns nil. The null and unknown
// objects have no cells.
func (m *MemObject) FindLocator(offset int64, create bool) *ObjectLocator {
	if m.kind == KindNull || m.kind == KindUnknown {
		return nil
	}
	if loc, ok := m.locators[offset]; ok {
		return loc
	}
	if !create {
		return nil
	}
	if m.locators == nil {
		m.locators = map[int64]*ObjectLocator{}
	}
	loc := &ObjectLocator{obj: m, offset: offset}
	m.locators[offset] = loc
	return loc
}

// Offsets returns the offsets of the object's existing cells in increasing order.
func (m *MemObject) Offsets() []int64 {
	offsets := make([]int64, 0, len(m.locators))
	for o := range m.locators {
		offsets = append(offsets, o)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// MarkUpdated records that the cell at offset was written through this object.
func (m *MemObject) MarkUpdated(offset int64) {
	if m.updatedOffsets == nil {
		m.updatedOffsets = map[int64]bool{}
	}
	m.updatedOffsets[offset] = true
}

// MarkPointer records that the cell at offset held a pointer value.
func (m *MemObject) MarkPointer(offset int64) {
	if m.pointerOffsets == nil {
		m.pointerOffsets = map[int64]bool{}
	}
	m.pointerOffsets[offset] = true
}

// UpdatedOffsets returns, in increasing order, the offsets written through the object.
func (m *MemObject) UpdatedOffsets() []int64 {
	return funcutil.SetToOrderedSlice(m.updatedOffsets)
}

// IsReallyAllocated reports whether the object's memory is known to be allocated at
// its site, so that reads on paths with no prior write see uninitialized memory
// rather than memory prepared by a caller.
func (m *MemObject) IsReallyAllocated() bool {
	if m.kind != KindConcrete {
		return false
	}
	switch m.site.(type) {
	case *ssa.Alloc, *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan, *ssa.MakeClosure:
		return true
	}
	return false
}

// findOrCreatePseudoParam returns the placeholder for the caller-supplied content of
// the symbolic object's cell at offset, creating it on first use. nextIndex numbers
// pseudo parameters within the owning graph.
func (m *MemObject) findOrCreatePseudoParam(offset int64, g *PTGraph) *PseudoParam {
	if m.kind != KindSymbolic {
		return nil
	}
	if p, ok := m.pseudoParams[offset]; ok {
		return p
	}
	if m.pseudoParams == nil {
		m.pseudoParams = map[int64]*PseudoParam{}
	}
	p := &PseudoParam{
		obj:    m,
		offset: offset,
		index:  g.nextPseudoIndex(),
	}
	m.pseudoParams[offset] = p
	g.registerPseudoParam(p)
	return p
}

// PseudoParams returns the object's pseudo parameters in offset order.
func (m *MemObject) PseudoParams() []*PseudoParam {
	offsets := make([]int64, 0, len(m.pseudoParams))
	for o := range m.pseudoParams {
		offsets = append(offsets, o)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	params := make([]*PseudoParam, len(offsets))
	for i, o := range offsets {
		params[i] = m.pseudoParams[o]
	}
	return params
}

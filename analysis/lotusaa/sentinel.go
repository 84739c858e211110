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

// sentinelValue is a distinguished value that can stand in for a program value in a
// memory cell. Sentinels implement ssa.Value so that they mix freely with program
// values in locator entries and points-to queries.
type sentinelValue struct {
	name string
}

func (s *sentinelValue) Name() string                  { return s.name }
func (s *sentinelValue) String() string                { return s.name }
func (s *sentinelValue) Type() types.Type              { return types.Typ[types.Invalid] }
func (s *sentinelValue) Parent() *ssa.Function         { return nil }
func (s *sentinelValue) Referrers() *[]ssa.Instruction { return nil }
func (s *sentinelValue) Pos() token.Pos                { return token.NoPos }

// Sentinels holds the distinguished values and objects of one analysis instance.
// They are created once per AnalyzerState and compared by pointer identity, so two
// analysis instances never share or race on them.
type Sentinels struct {
	// FreeValue marks a read of a concrete object on a path where the object was
	// never actually allocated, a free variable of that path.
	FreeValue ssa.Value

	// NoValue marks a memory cell clobbered by a call whose effect is unknown.
	NoValue ssa.Value

	// UndefValue marks a cell of an allocated object that no store reaches.
	UndefValue ssa.Value

	// SummaryValue stands for a value that is represented in a function summary.
	SummaryValue ssa.Value

	// NullObject is the target of nil pointers.
	NullObject *MemObject

	// UnknownObject absorbs every points-to query that exceeds a bound or escapes the
	// modeled memory.
	UnknownObject *MemObject
}

func newSentinels() *Sentinels {
	s := &Sentinels{
		FreeValue:    &sentinelValue{name: "free"},
		NoValue:      &sentinelValue{name: "novalue"},
		UndefValue:   &sentinelValue{name: "undef"},
		SummaryValue: &sentinelValue{name: "summary"},
	}
	s.NullObject = &MemObject{kind: KindNull, index: -1}
	s.UnknownObject = &MemObject{kind: KindUnknown, index: -2}
	return s
}

// IsSentinel reports whether v is one of the distinguished cell values.
func (s *Sentinels) IsSentinel(v ssa.Value) bool {
	return v == s.FreeValue || v == s.NoValue || v == s.UndefValue || v == s.SummaryValue
}

// PseudoParam is a placeholder for a value supplied by the caller: the content of a
// symbolic object's cell at a given offset on entry to the function. Pseudo
// parameters implement ssa.Value so loads from symbolic memory produce a value that
// the rest of the analysis can track like any other.
type PseudoParam struct {
	obj    *MemObject
	offset int64
	typ    types.Type
	index  int
}

// Object returns the symbolic object this pseudo parameter reads from.
func (p *PseudoParam) Object() *MemObject { return p.obj }

// Offset returns the cell offset this pseudo parameter reads from.
func (p *PseudoParam) Offset() int64 { return p.offset }

func (p *PseudoParam) Name() string { return fmt.Sprintf("pseudo%d", p.index) }

func (p *PseudoParam) String() string {
	return fmt.Sprintf("pseudo%d = caller[%s+%d]", p.index, p.obj.String(), p.offset)
}

func (p *PseudoParam) Type() types.Type {
	if p.typ != nil {
		return p.typ
	}
	return types.Typ[types.Invalid]
}

func (p *PseudoParam) Parent() *ssa.Function {
	if p.obj == nil {
		return nil
	}
	return p.obj.fn
}

func (p *PseudoParam) Referrers() *[]ssa.Instruction { return nil }
func (p *PseudoParam) Pos() token.Pos                { return token.NoPos }

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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trivialMain = `
package main

func main() {}
`

func emptyGraph(t *testing.T) *PTGraph {
	t.Helper()
	state, prog := buildState(t, trivialMain)
	return NewPTGraph(state, findFunction(t, prog, "main"))
}

func TestResolveDirect(t *testing.T) {
	g := emptyGraph(t)
	obj := g.NewObject(nil, KindConcrete)

	r := NewPTResult()
	r.AddTarget(Locator{Obj: obj, Offset: 8})
	r.AddTarget(Locator{Obj: obj, Offset: 8})

	targets, unknown := r.Resolve(g)
	require.False(t, unknown)
	require.Len(t, targets, 1)
	assert.Equal(t, Locator{Obj: obj, Offset: 8}, targets[0])
}

func TestResolveDerivedOffsets(t *testing.T) {
	g := emptyGraph(t)
	obj := g.NewObject(nil, KindConcrete)

	base := NewPTResult()
	base.AddTarget(Locator{Obj: obj, Offset: 0})
	field := NewPTResult()
	field.AddDerived(base, 16)

	targets, unknown := field.Resolve(g)
	require.False(t, unknown)
	require.Len(t, targets, 1)
	assert.Equal(t, int64(16), targets[0].Offset)
}

func TestResolveConvergingCycle(t *testing.T) {
	g := emptyGraph(t)
	obj := g.NewObject(nil, KindConcrete)

	// r1 and r2 derive from each other with no offset shift: the fixed point is
	// r1's own target.
	r1 := NewPTResult()
	r2 := NewPTResult()
	r1.AddTarget(Locator{Obj: obj, Offset: 0})
	r1.AddDerived(r2, 0)
	r2.AddDerived(r1, 0)

	targets, unknown := r1.Resolve(g)
	require.False(t, unknown)
	require.Len(t, targets, 1)
	assert.Equal(t, obj, targets[0].Obj)
}

func TestResolveDivergingCycleDegrades(t *testing.T) {
	g := emptyGraph(t)
	obj := g.NewObject(nil, KindConcrete)

	// Every trip around the cycle shifts the offset: the target set would grow
	// forever, so resolution must degrade to unknown instead of hanging.
	r1 := NewPTResult()
	r2 := NewPTResult()
	r1.AddTarget(Locator{Obj: obj, Offset: 0})
	r1.AddDerived(r2, 8)
	r2.AddDerived(r1, 8)

	_, unknown := r1.Resolve(g)
	assert.True(t, unknown)
}

func TestResolveUnknownPropagates(t *testing.T) {
	g := emptyGraph(t)

	r1 := NewPTResult()
	r1.SetUnknown()
	r2 := NewPTResult()
	r2.AddDerived(r1, 0)

	_, unknown := r2.Resolve(g)
	assert.True(t, unknown)
}

func TestResolveCachesOnlyAfterFreeze(t *testing.T) {
	g := emptyGraph(t)
	obj := g.NewObject(nil, KindConcrete)

	base := NewPTResult()
	base.AddTarget(Locator{Obj: obj, Offset: 0})
	r := NewPTResult()
	r.AddDerived(base, 0)

	targets, unknown := r.Resolve(g)
	require.False(t, unknown)
	require.Len(t, targets, 1)

	// Before the graph is frozen, later additions must still be observed.
	base.AddTarget(Locator{Obj: obj, Offset: 24})
	targets, unknown = r.Resolve(g)
	require.False(t, unknown)
	assert.Len(t, targets, 2)

	g.Freeze()
	targets, unknown = r.Resolve(g)
	require.False(t, unknown)
	assert.Len(t, targets, 2)
}

func TestResolveSizeCapDegrades(t *testing.T) {
	state, prog := buildState(t, trivialMain)
	state.Config.MaxPointsToSize = 3
	g := NewPTGraph(state, findFunction(t, prog, "main"))

	r := NewPTResult()
	for i := 0; i < 5; i++ {
		r.AddTarget(Locator{Obj: g.NewObject(nil, KindConcrete), Offset: 0})
	}

	_, unknown := r.Resolve(g)
	assert.True(t, unknown)
}

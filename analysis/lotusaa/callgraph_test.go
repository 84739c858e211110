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
	"golang.org/x/tools/go/ssa"

	"github.com/Yanhaoxi/lotus-zju-sub003/internal/graphutil"
)

// namedFuncs builds a program with n bodies so the call graph tests have real
// functions to wire.
func namedFuncs(t *testing.T, names ...string) []*ssa.Function {
	t.Helper()
	src := "package main\n\nfunc main() {}\n"
	for _, name := range names {
		src += "func " + name + "() {}\n"
	}
	_, prog := buildState(t, src)
	funcs := make([]*ssa.Function, len(names))
	for i, name := range names {
		funcs[i] = findFunction(t, prog, name)
	}
	return funcs
}

func TestAddEdgeIsIdempotent(t *testing.T) {
	fs := namedFuncs(t, "a", "b")
	cg := NewCallGraphState()

	assert.True(t, cg.AddEdge(fs[0], fs[1]))
	assert.False(t, cg.AddEdge(fs[0], fs[1]))
	assert.Equal(t, []*ssa.Function{fs[1]}, cg.Callees(fs[0]))
	assert.Equal(t, []*ssa.Function{fs[0]}, cg.Callers(fs[1]))
}

func TestTopoOrderCallersFirst(t *testing.T) {
	fs := namedFuncs(t, "a", "b", "c")
	cg := NewCallGraphState()
	cg.AddEdge(fs[0], fs[1])
	cg.AddEdge(fs[1], fs[2])
	cg.AddEdge(fs[0], fs[2])
	cg.DetectBackEdges()

	order := cg.TopoOrder()
	require.Len(t, order, 3)
	pos := map[*ssa.Function]int{}
	for i, f := range order {
		pos[f] = i
	}
	assert.Less(t, pos[fs[0]], pos[fs[1]])
	assert.Less(t, pos[fs[1]], pos[fs[2]])
}

func TestBackEdgeDetection(t *testing.T) {
	fs := namedFuncs(t, "a", "b", "c", "d")
	cg := NewCallGraphState()
	// a -> b -> c -> b forms a cycle; d hangs off c outside it.
	cg.AddEdge(fs[0], fs[1])
	cg.AddEdge(fs[1], fs[2])
	cg.AddEdge(fs[2], fs[1])
	cg.AddEdge(fs[2], fs[3])
	cg.DetectBackEdges()

	assert.False(t, cg.IsBackEdge(fs[0], fs[1]))
	assert.False(t, cg.IsBackEdge(fs[2], fs[3]))
	// Exactly one edge of the cycle is classified back.
	assert.NotEqual(t, cg.IsBackEdge(fs[1], fs[2]), cg.IsBackEdge(fs[2], fs[1]))

	// With the back edge ignored the order is complete and acyclic.
	order := cg.TopoOrder()
	assert.Len(t, order, 4)
}

func TestSelfRecursionIsBackEdge(t *testing.T) {
	fs := namedFuncs(t, "a")
	cg := NewCallGraphState()
	cg.AddEdge(fs[0], fs[0])
	cg.DetectBackEdges()

	assert.True(t, cg.IsBackEdge(fs[0], fs[0]))
	assert.Len(t, cg.TopoOrder(), 1)
}

func TestToCGraphRoundTrip(t *testing.T) {
	fs := namedFuncs(t, "a", "b", "c")
	cg := NewCallGraphState()
	cg.AddEdge(fs[0], fs[1])
	cg.AddEdge(fs[1], fs[2])
	cg.AddEdge(fs[2], fs[0])

	cycles := graphutil.FindAllElementaryCycles(cg.ToCGraph())
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0], 4)
}

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
)

func TestLoadFromUnwrittenAllocationIsUndefined(t *testing.T) {
	state, prog := buildState(t, `
package main

func f() int {
	x := new(int)
	return *x
}

func main() { f() }
`)
	fa := analyzeFunc(t, state, prog, "f")
	loads := loadsIn(fa.fn)
	require.Len(t, loads, 1)

	// The object is allocated but no store reaches the load, so the cell reads as
	// undefined, not as a free variable.
	vals := fa.Graph.LoadedValues(loads[0])
	require.Len(t, vals, 1)
	assert.Equal(t, state.Sentinels.UndefValue, vals[0])
}

func TestAllocPointsToItsObject(t *testing.T) {
	state, prog := buildState(t, `
package main

func f() *int {
	return new(int)
}

func main() { f() }
`)
	fa := analyzeFunc(t, state, prog, "f")
	allocs := allocsIn(fa.fn)
	require.Len(t, allocs, 1)

	targets, unknown := fa.Graph.ResultOf(allocs[0]).Resolve(fa.Graph)
	require.False(t, unknown)
	require.Len(t, targets, 1)
	assert.Equal(t, allocs[0], targets[0].Obj.Site())
	assert.Equal(t, int64(0), targets[0].Offset)
}

func TestFieldSensitivity(t *testing.T) {
	state, prog := buildState(t, `
package main

type pair struct {
	a *int
	b *int
}

func f() (*int, *int) {
	p := &pair{}
	x := new(int)
	y := new(int)
	p.a = x
	p.b = y
	return p.a, p.b
}

func main() { f() }
`)
	fa := analyzeFunc(t, state, prog, "f")
	loads := loadsIn(fa.fn)
	require.Len(t, loads, 2)

	ta, unknown := fa.Graph.ResultOf(loads[0]).Resolve(fa.Graph)
	require.False(t, unknown)
	require.Len(t, ta, 1)
	tb, unknown := fa.Graph.ResultOf(loads[1]).Resolve(fa.Graph)
	require.False(t, unknown)
	require.Len(t, tb, 1)

	// The two fields hold distinct allocations.
	assert.NotEqual(t, ta[0].Obj, tb[0].Obj)
}

func TestStrongUpdateOverwrites(t *testing.T) {
	state, prog := buildState(t, `
package main

func f() int {
	x := new(*int)
	a := new(int)
	b := new(int)
	*x = a
	*x = b
	return **x
}

func main() { f() }
`)
	fa := analyzeFunc(t, state, prog, "f")
	allocs := allocsIn(fa.fn)
	require.Len(t, allocs, 3)

	var ptrLoad *ssa.UnOp
	for _, l := range loadsIn(fa.fn) {
		if pointerLike(l.Type()) {
			ptrLoad = l
		}
	}
	require.NotNil(t, ptrLoad)

	// The second store kills the first: only b's object remains.
	targets, unknown := fa.Graph.ResultOf(ptrLoad).Resolve(fa.Graph)
	require.False(t, unknown)
	require.Len(t, targets, 1)
	assert.Equal(t, allocs[2], targets[0].Obj.Site())
}

func TestWeakUpdateKeepsBothBranches(t *testing.T) {
	state, prog := buildState(t, `
package main

func f(c bool) *int {
	x := new(*int)
	a := new(int)
	b := new(int)
	if c {
		*x = a
	} else {
		*x = b
	}
	return *x
}

func main() { f(true) }
`)
	fa := analyzeFunc(t, state, prog, "f")
	allocs := allocsIn(fa.fn)
	require.Len(t, allocs, 3)

	var ptrLoad *ssa.UnOp
	for _, l := range loadsIn(fa.fn) {
		if pointerLike(l.Type()) {
			ptrLoad = l
		}
	}
	require.NotNil(t, ptrLoad)

	targets, unknown := fa.Graph.ResultOf(ptrLoad).Resolve(fa.Graph)
	require.False(t, unknown)
	require.Len(t, targets, 2)
	sites := map[ssa.Value]bool{targets[0].Obj.Site(): true, targets[1].Obj.Site(): true}
	assert.True(t, sites[allocs[1]])
	assert.True(t, sites[allocs[2]])
}

func TestLoadsShareCategory(t *testing.T) {
	state, prog := buildState(t, `
package main

func f() (int, int) {
	x := new(int)
	*x = 1
	u := *x
	v := *x
	return u, v
}

func main() { f() }
`)
	fa := analyzeFunc(t, state, prog, "f")
	loads := loadsIn(fa.fn)
	require.Len(t, loads, 2)

	// Both loads read the same cell at the same version: both carry the stored
	// constant.
	assert.Equal(t, []int64{1}, constIntVals(t, fa.Graph.LoadedValues(loads[0])))
	assert.Equal(t, []int64{1}, constIntVals(t, fa.Graph.LoadedValues(loads[1])))
}

func TestLoadAfterStoreSeesNewValue(t *testing.T) {
	state, prog := buildState(t, `
package main

func f() (int, int) {
	x := new(int)
	*x = 1
	u := *x
	*x = 2
	v := *x
	return u, v
}

func main() { f() }
`)
	fa := analyzeFunc(t, state, prog, "f")
	loads := loadsIn(fa.fn)
	require.Len(t, loads, 2)

	assert.Equal(t, []int64{1}, constIntVals(t, fa.Graph.LoadedValues(loads[0])))
	assert.Equal(t, []int64{2}, constIntVals(t, fa.Graph.LoadedValues(loads[1])))
}

func TestParameterYieldsSymbolicObject(t *testing.T) {
	state, prog := buildState(t, `
package main

func f(p *int) int {
	return *p
}

func main() { f(new(int)) }
`)
	fa := analyzeFunc(t, state, prog, "f")
	p := fa.fn.Params[0]

	targets, unknown := fa.Graph.ResultOf(p).Resolve(fa.Graph)
	require.False(t, unknown)
	require.Len(t, targets, 1)
	assert.Equal(t, KindSymbolic, targets[0].Obj.Kind())

	// Reading the parameter's cell produces a pseudo parameter standing for the
	// caller-supplied content.
	loads := loadsIn(fa.fn)
	require.Len(t, loads, 1)
	vals := fa.Graph.LoadedValues(loads[0])
	require.Len(t, vals, 1)
	_, isPseudo := vals[0].(*PseudoParam)
	assert.True(t, isPseudo)
}

func TestUnmodeledValueDegradesToUnknown(t *testing.T) {
	state, prog := buildState(t, `
package main

func f(m map[string]*int) *int {
	return m["k"]
}

func main() { f(nil) }
`)
	fa := analyzeFunc(t, state, prog, "f")
	var ret *ssa.Return
	for _, b := range fa.fn.Blocks {
		for _, instr := range b.Instrs {
			if r, ok := instr.(*ssa.Return); ok {
				ret = r
			}
		}
	}
	require.NotNil(t, ret)
	require.Len(t, ret.Results, 1)

	_, unknown := fa.Graph.ResultOf(ret.Results[0]).Resolve(fa.Graph)
	assert.True(t, unknown)
}

func TestCopyTransfersSliceElements(t *testing.T) {
	state, prog := buildState(t, `
package main

func f() *int {
	x := new(int)
	src := []*int{x}
	dst := make([]*int, 1)
	copy(dst, src)
	return dst[0]
}

func main() { f() }
`)
	fa := analyzeFunc(t, state, prog, "f")

	var xAlloc *ssa.Alloc
	for _, a := range allocsIn(fa.fn) {
		if a.Comment == "new" {
			xAlloc = a
		}
	}
	require.NotNil(t, xAlloc)

	loads := loadsIn(fa.fn)
	require.Len(t, loads, 1)

	// The element written through the source slice reaches the read through the
	// destination.
	assert.Contains(t, fa.Graph.LoadedValues(loads[0]), ssa.Value(xAlloc))
	targets, unknown := fa.Graph.ResultOf(loads[0]).Resolve(fa.Graph)
	require.False(t, unknown)
	require.Len(t, targets, 1)
	assert.Equal(t, ssa.Value(xAlloc), targets[0].Obj.Site())
}

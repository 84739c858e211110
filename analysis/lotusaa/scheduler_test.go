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

func analyzeProgram(t *testing.T, source string) (*Result, *ssa.Program) {
	t.Helper()
	state, prog := buildState(t, source)
	result, err := Analyze(state)
	require.NoError(t, err)
	return result, prog
}

func TestConstantFlowsThroughCall(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

func set(p *int) {
	*p = 5
}

func main() {
	x := new(int)
	set(x)
	y := *x
	_ = y
}
`)
	mainFn := findFunction(t, prog, "main")
	fa := result.Funcs[mainFn]
	require.NotNil(t, fa)

	loads := loadsIn(mainFn)
	require.Len(t, loads, 1)
	// The callee's write is visible at the load in the caller.
	assert.Equal(t, []int64{5}, constIntVals(t, fa.Graph.LoadedValues(loads[0])))
}

func TestCalleeAllocationsReachCaller(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

func pick(c bool) *int {
	x := new(int)
	y := new(int)
	if c {
		return x
	}
	return y
}

func main() {
	p := pick(true)
	_ = *p
}
`)
	mainFn := findFunction(t, prog, "main")
	fa := result.Funcs[mainFn]
	require.NotNil(t, fa)

	sites := callSitesIn(mainFn)
	require.Len(t, sites, 1)
	call, ok := sites[0].(*ssa.Call)
	require.True(t, ok)

	// Both allocations of the callee escape through the return value.
	targets, unknown := result.PointsTo(mainFn, call)
	require.False(t, unknown)
	assert.Len(t, targets, 2)
	for _, target := range targets {
		assert.Equal(t, KindConcrete, target.Obj.Kind())
	}
}

func TestIndirectCallResolvedThroughArgument(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

func mk() *int {
	return new(int)
}

func apply(f func() *int) *int {
	return f()
}

func main() {
	p := apply(mk)
	_ = p
}
`)
	applyFn := findFunction(t, prog, "apply")
	mkFn := findFunction(t, prog, "mk")

	sites := callSitesIn(applyFn)
	require.Len(t, sites, 1)

	// The target comes from main, which passes mk into apply.
	assert.Equal(t, []*ssa.Function{mkFn}, result.CallTargets(applyFn, sites[0]))
	assert.Contains(t, result.CallGraph.Callees(applyFn), mkFn)
	assert.GreaterOrEqual(t, result.Iterations, 2)
}

func TestIndirectCallThroughReturnedFunction(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

func tgt() {}

func apply(f func()) {
	f()
}

func choose() func(func()) {
	return apply
}

func main() {
	h := choose()
	h(tgt)
}
`)
	mainFn := findFunction(t, prog, "main")
	applyFn := findFunction(t, prog, "apply")
	tgtFn := findFunction(t, prog, "tgt")

	mainSites := callSitesIn(mainFn)
	var hSite ssa.CallInstruction
	for _, site := range mainSites {
		if site.Common().StaticCallee() == nil {
			hSite = site
		}
	}
	require.NotNil(t, hSite)

	// h resolves through choose's return, and apply's argument dependency then
	// resolves tgt at the inner site.
	assert.Equal(t, []*ssa.Function{applyFn}, result.CallTargets(mainFn, hSite))
	applySites := callSitesIn(applyFn)
	require.Len(t, applySites, 1)
	assert.Equal(t, []*ssa.Function{tgtFn}, result.CallTargets(applyFn, applySites[0]))
}

func TestCallGraphSSAExportHasResolvedEdges(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

func mk() *int {
	return new(int)
}

func apply(f func() *int) *int {
	return f()
}

func main() {
	p := apply(mk)
	_ = p
}
`)
	applyFn := findFunction(t, prog, "apply")
	mkFn := findFunction(t, prog, "mk")

	cg := result.CallGraphSSA()
	node := cg.Nodes[applyFn]
	require.NotNil(t, node)

	targets := make([]*ssa.Function, 0, len(node.Out))
	for _, e := range node.Out {
		targets = append(targets, e.Callee.Func)
	}
	assert.Contains(t, targets, mkFn)
}

func TestGlobalFunctionValueResolved(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

var handler = defaultHandler

func defaultHandler() {}

func run() {
	handler()
}

func main() { run() }
`)
	runFn := findFunction(t, prog, "run")
	want := findFunction(t, prog, "defaultHandler")

	sites := callSitesIn(runFn)
	require.Len(t, sites, 1)
	assert.Equal(t, []*ssa.Function{want}, result.CallTargets(runFn, sites[0]))
}

func TestTaintedGlobalStaysUnresolved(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

var handler = defaultHandler

func defaultHandler() {}

func install(f func()) {
	handler = f
}

func run() {
	handler()
}

func main() {
	install(defaultHandler)
	run()
}
`)
	runFn := findFunction(t, prog, "run")

	// install stores a non-constant into the global, so the constant cache must
	// not be used and the site stays unresolved.
	sites := callSitesIn(runFn)
	require.Len(t, sites, 1)
	assert.Empty(t, result.CallTargets(runFn, sites[0]))
}

func TestGlobalAliasedByOtherGlobalIsTainted(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

var handler = defaultHandler

var slot = &handler

func defaultHandler() {}

func other() {}

func install() {
	*slot = other
}

func run() {
	handler()
}

func main() {
	install()
	run()
}
`)
	runFn := findFunction(t, prog, "run")

	// slot holds the address of handler, so handler can be rewritten through an
	// alias the store scan never sees; its constant cache must not be used.
	sites := callSitesIn(runFn)
	require.Len(t, sites, 1)
	assert.Empty(t, result.CallTargets(runFn, sites[0]))
}

func TestMutualRecursionConverges(t *testing.T) {
	result, prog := analyzeProgram(t, `
package main

func even(n int) bool {
	if n == 0 {
		return true
	}
	return odd(n - 1)
}

func odd(n int) bool {
	if n == 0 {
		return false
	}
	return even(n - 1)
}

func main() {
	even(10)
}
`)
	evenFn := findFunction(t, prog, "even")
	oddFn := findFunction(t, prog, "odd")

	cg := result.CallGraph
	assert.Contains(t, cg.Callees(evenFn), oddFn)
	assert.Contains(t, cg.Callees(oddFn), evenFn)
	// Exactly one direction of a two-cycle is a back edge.
	assert.NotEqual(t, cg.IsBackEdge(evenFn, oddFn), cg.IsBackEdge(oddFn, evenFn))
	assert.LessOrEqual(t, result.Iterations, result.State.Config.MaxCGIterations)
}

func TestIterationBoundRespected(t *testing.T) {
	state, _ := buildState(t, `
package main

func a(f func()) { f() }
func b()        {}

func main() {
	a(b)
}
`)
	state.Config.MaxCGIterations = 1
	result, err := Analyze(state)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iterations)
}

func TestCalleeBoundLeavesSiteUnresolved(t *testing.T) {
	state, prog := buildState(t, `
package main

func a() {}
func b() {}

func apply(f func()) {
	f()
}

func main() {
	apply(a)
	apply(b)
}
`)
	state.Config.MaxCallees = 1
	result, err := Analyze(state)
	require.NoError(t, err)

	applyFn := findFunction(t, prog, "apply")
	sites := callSitesIn(applyFn)
	require.Len(t, sites, 1)

	// Two targets reach the site but only one is allowed, so the site saturates
	// and resolves to nothing instead of keeping a truncated target list.
	assert.Empty(t, result.CallTargets(applyFn, sites[0]))
}

func TestAcyclicStaticProgramConvergesInOneIteration(t *testing.T) {
	result, _ := analyzeProgram(t, `
package main

func leaf(p *int) {
	*p = 1
}

func mid(p *int) {
	leaf(p)
}

func main() {
	x := new(int)
	mid(x)
}
`)
	assert.Equal(t, 1, result.Iterations)
}

func TestDisabledCallGraphRunsSinglePass(t *testing.T) {
	state, prog := buildState(t, `
package main

func mk() *int { return new(int) }

func apply(f func() *int) *int { return f() }

func main() {
	p := apply(mk)
	_ = p
}
`)
	state.Config.EnableCallGraph = false
	result, err := Analyze(state)
	require.NoError(t, err)

	applyFn := findFunction(t, prog, "apply")
	sites := callSitesIn(applyFn)
	require.Len(t, sites, 1)

	// Without refinement the value call stays unresolved.
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.CallTargets(applyFn, sites[0]))
}

func TestOpaqueCalleeClobbersArguments(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{
			name: "interface dispatch",
			src: `
package main

type doer interface{ do(p *int) }

type impl struct{}

func (impl) do(p *int) { *p = 7 }

func f(d doer) int {
	x := new(int)
	*x = 1
	d.do(x)
	return *x
}

func main() { f(impl{}) }
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, prog := analyzeProgram(t, tc.src)
			fFn := findFunction(t, prog, "f")
			fa := result.Funcs[fFn]
			require.NotNil(t, fa)

			loads := loadsIn(fFn)
			require.NotEmpty(t, loads)
			last := loads[len(loads)-1]
			vals := fa.Graph.LoadedValues(last)
			// The unresolved call may have overwritten the cell: the stored
			// constant must not be the only possibility.
			hasNoValue := false
			for _, v := range vals {
				if v == result.State.Sentinels.NoValue {
					hasNoValue = true
				}
			}
			assert.True(t, hasNoValue, "expected the clobber marker among %v", vals)
		})
	}
}

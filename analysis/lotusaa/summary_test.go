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

func TestSummaryExportsParamWrite(t *testing.T) {
	state, prog := buildState(t, `
package main

func set(p *int) {
	*p = 5
}

func main() { set(new(int)) }
`)
	fa := analyzeFunc(t, state, prog, "set")
	s := fa.Summary
	require.NotNil(t, s)
	assert.False(t, s.Opaque)

	require.Len(t, s.Outputs, 1)
	assert.Equal(t, "arg0.0", s.Outputs[0].Path.String())
	require.Len(t, s.Outputs[0].Values, 1)
	assert.Equal(t, OutConst, s.Outputs[0].Values[0].Kind)
}

func TestSummaryExportsParamRead(t *testing.T) {
	state, prog := buildState(t, `
package main

func get(p *int) int {
	return *p
}

func main() { get(new(int)) }
`)
	fa := analyzeFunc(t, state, prog, "get")
	s := fa.Summary

	require.Len(t, s.Inputs, 1)
	assert.Equal(t, "arg0.0", s.Inputs[0].Path.String())

	ret := s.ReturnValues(0)
	require.Len(t, ret, 1)
	assert.Equal(t, OutInput, ret[0].Kind)
	assert.Equal(t, 0, ret[0].Input)
}

func TestSummaryExportsEscapedAllocation(t *testing.T) {
	state, prog := buildState(t, `
package main

func mk() *int {
	return new(int)
}

func main() { mk() }
`)
	fa := analyzeFunc(t, state, prog, "mk")
	s := fa.Summary

	require.Len(t, s.Escaped, 1)
	ret := s.ReturnValues(0)
	require.Len(t, ret, 1)
	assert.Equal(t, OutObject, ret[0].Kind)
	assert.Equal(t, 0, ret[0].Object)
}

func TestSummaryExportsCallDependency(t *testing.T) {
	state, prog := buildState(t, `
package main

func apply(f func()) {
	f()
}

func main() { apply(func() {}) }
`)
	fa := analyzeFunc(t, state, prog, "apply")
	s := fa.Summary

	require.Len(t, s.CallDeps, 1)
	assert.Equal(t, RootParam, s.CallDeps[0].Path.Kind)
	assert.Equal(t, 0, s.CallDeps[0].Path.Param)
	assert.Empty(t, s.CallDeps[0].Path.Offsets)
}

func TestSummaryFingerprintIsStable(t *testing.T) {
	src := `
package main

func set(p *int) {
	*p = 5
}

func main() { set(new(int)) }
`
	state, prog := buildState(t, src)
	fa1 := analyzeFunc(t, state, prog, "set")
	fa2 := analyzeFunc(t, state, prog, "set")
	assert.Equal(t, fa1.Summary.Fingerprint, fa2.Summary.Fingerprint)
}

func TestSummaryFingerprintSeesValueChange(t *testing.T) {
	state, prog := buildState(t, `
package main

func set5(p *int) {
	*p = 5
}

func set6(p *int) {
	*p = 6
}

func main() {
	set5(new(int))
	set6(new(int))
}
`)
	fa5 := analyzeFunc(t, state, prog, "set5")
	fa6 := analyzeFunc(t, state, prog, "set6")
	// The exported write paths are identical; only the stored constant differs.
	assert.NotEqual(t, fa5.Summary.Fingerprint, fa6.Summary.Fingerprint)
}

func TestOversizedSummaryBecomesOpaque(t *testing.T) {
	state, prog := buildState(t, `
package main

type grid struct {
	a, b, c, d *int
}

func fill(g *grid, v *int) {
	g.a = v
	g.b = v
	g.c = v
	g.d = v
}

func main() { fill(&grid{}, new(int)) }
`)
	state.Config.MaxSummarySize = 2
	fa := analyzeFunc(t, state, prog, "fill")
	s := fa.Summary

	assert.True(t, s.Opaque)
	assert.Empty(t, s.Outputs)
	assert.Empty(t, s.Inputs)
	assert.Empty(t, s.Escaped)
}

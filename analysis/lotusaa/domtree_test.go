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

func TestDominanceFrontierOfDiamond(t *testing.T) {
	state, prog := buildState(t, `
package main

func f(c bool) int {
	x := 0
	if c {
		x = 1
	} else {
		x = 2
	}
	return x
}

func main() { f(true) }
`)
	fn := findFunction(t, prog, "f")
	info := state.DomInfo(fn)
	require.NotNil(t, info)

	// The frontier of each branch arm is the merge block; the entry block
	// dominates everything and has an empty frontier.
	entry := fn.Blocks[0]
	assert.Empty(t, info.frontier[entry])

	merged := 0
	for _, b := range fn.Blocks {
		if b == entry {
			continue
		}
		for _, fb := range info.frontier[b] {
			if len(fb.Preds) >= 2 {
				merged++
			}
		}
	}
	assert.GreaterOrEqual(t, merged, 2)
}

func TestDomInfoIsCached(t *testing.T) {
	state, prog := buildState(t, `
package main

func main() {}
`)
	fn := findFunction(t, prog, "main")
	require.NotNil(t, state.DomInfo(fn))

	// Cached: the same instance comes back.
	assert.Equal(t, state.DomInfo(fn), state.DomInfo(fn))
}

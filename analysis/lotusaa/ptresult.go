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
)

// Locator names one points-to target: a memory object and a byte offset into it.
type Locator struct {
	Obj    *MemObject
	Offset int64
}

func (l Locator) String() string {
	return fmt.Sprintf("%s+%d", l.Obj.String(), l.Offset)
}

// OffsetBy returns the locator shifted by delta bytes. Shifting the null or
// unknown object is the identity.
func (l Locator) OffsetBy(delta int64) Locator {
	if l.Obj.kind == KindNull || l.Obj.kind == KindUnknown {
		return l
	}
	return Locator{Obj: l.Obj, Offset: l.Offset + delta}
}

// derivedTarget is a points-to edge into another result: everything res resolves
// to, shifted by delta bytes.
type derivedTarget struct {
	res   *PTResult
	delta int64
}

// PTResult is the points-to set of one pointer value: a list of direct target
// locators plus derived targets that reference other results with an extra offset.
// Derived targets let address arithmetic and value merges share structure instead
// of copying sets; resolution flattens the graph on demand and caches the outcome.
type PTResult struct {
	direct  []Locator
	derived []derivedTarget

	// unknown is set when the set has been collapsed: the value may point anywhere.
	unknown bool

	cache      []Locator
	cacheValid bool
}

// NewPTResult returns an empty points-to set.
func NewPTResult() *PTResult {
	return &PTResult{}
}

// AddTarget appends a direct target to the set.
func (r *PTResult) AddTarget(loc Locator) {
	for _, t := range r.direct {
		if t == loc {
			return
		}
	}
	r.direct = append(r.direct, loc)
	r.cacheValid = false
}

// AddDerived appends everything other resolves to, shifted by delta bytes. Adding a
// result to itself is a no-op: a self edge can never contribute new targets.
func (r *PTResult) AddDerived(other *PTResult, delta int64) {
	if other == nil || other == r {
		return
	}
	for _, t := range r.derived {
		if t.res == other && t.delta == delta {
			return
		}
	}
	r.derived = append(r.derived, derivedTarget{res: other, delta: delta})
	r.cacheValid = false
}

// SetUnknown collapses the set: the value may point anywhere.
func (r *PTResult) SetUnknown() {
	r.unknown = true
	r.cacheValid = false
}

// IsUnknown reports whether the set has been collapsed. It does not resolve; use
// Resolve to learn whether resolution collapses the set.
func (r *PTResult) IsUnknown() bool {
	return r.unknown
}

// Resolve flattens the result into its target locators. Cycles among derived
// results are broken with a visited set: a result reached again contributes
// nothing new, so the resolution is the least fixpoint of the target equations.
// When the flattened set exceeds the configured bound, or any reachable result is
// unknown, Resolve returns (nil, true) meaning the value may point anywhere. Once
// the graph is frozen the outcome is cached on the result.
func (r *PTResult) Resolve(g *PTGraph) (targets []Locator, unknown bool) {
	if r.cacheValid {
		return r.cache, r.unknown
	}
	if r.unknown {
		return nil, true
	}
	max := g.state.Config.MaxPointsToSize

	var out []Locator
	seen := map[Locator]bool{}
	visited := map[derivedTarget]bool{}
	overflow := false

	// steps bounds the traversal itself: a cycle whose offsets diverge produces an
	// unbounded stream of (result, delta) pairs even when the target set stays small.
	steps := 0
	budget := 16 * (max + 1)

	var visit func(res *PTResult, delta int64) bool
	visit = func(res *PTResult, delta int64) bool {
		if res.unknown {
			return false
		}
		key := derivedTarget{res: res, delta: delta}
		if visited[key] {
			return true
		}
		visited[key] = true
		steps++
		if steps > budget {
			overflow = true
			return false
		}

		for _, t := range res.direct {
			loc := t.OffsetBy(delta)
			if seen[loc] {
				continue
			}
			if len(out) >= max {
				overflow = true
				return false
			}
			seen[loc] = true
			out = append(out, loc)
		}
		for _, d := range res.derived {
			if !visit(d.res, delta+d.delta) {
				return false
			}
		}
		return true
	}

	if !visit(r, 0) || overflow {
		r.unknown = true
		r.cache = nil
		r.cacheValid = g.frozen
		return nil, true
	}

	if g.frozen {
		r.cache = out
		r.cacheValid = true
	}
	return out, false
}

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
	"golang.org/x/tools/go/ssa"
)

// domInfo caches per-function dominance information. The dominator tree itself is
// maintained by the SSA builder; the dominance frontier is computed here once per
// function.
type domInfo struct {
	frontier map[*ssa.BasicBlock][]*ssa.BasicBlock
}

// DomInfo returns the dominance information for f, computing and caching it on
// first use. Returns nil for functions without a body.
func (s *AnalyzerState) DomInfo(f *ssa.Function) *domInfo {
	if f == nil || len(f.Blocks) == 0 {
		return nil
	}
	s.domMu.Lock()
	defer s.domMu.Unlock()
	if info, ok := s.domCache[f]; ok {
		return info
	}
	info := &domInfo{frontier: dominanceFrontier(f)}
	s.domCache[f] = info
	return info
}

// dominanceFrontier computes DF(b) for every block of f with the Cooper-Harvey-
// Kennedy walk: for a join point j, every block on a predecessor path up to but not
// including idom(j) has j in its frontier.
func dominanceFrontier(f *ssa.Function) map[*ssa.BasicBlock][]*ssa.BasicBlock {
	df := make(map[*ssa.BasicBlock][]*ssa.BasicBlock, len(f.Blocks))
	seen := make(map[*ssa.BasicBlock]map[*ssa.BasicBlock]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		if len(b.Preds) < 2 {
			continue
		}
		for _, p := range b.Preds {
			runner := p
			for runner != nil && runner != b.Idom() {
				if seen[runner] == nil {
					seen[runner] = map[*ssa.BasicBlock]bool{}
				}
				if !seen[runner][b] {
					seen[runner][b] = true
					df[runner] = append(df[runner], b)
				}
				runner = runner.Idom()
			}
		}
	}
	return df
}

// iteratedFrontier returns the iterated dominance frontier of b: the set of join
// points where a definition in b requires a merge, closed under the frontier
// relation. The result is capped at limit blocks when limit >= 0.
func (info *domInfo) iteratedFrontier(b *ssa.BasicBlock, limit int) []*ssa.BasicBlock {
	var result []*ssa.BasicBlock
	inResult := map[*ssa.BasicBlock]bool{}
	work := []*ssa.BasicBlock{b}
	visited := map[*ssa.BasicBlock]bool{b: true}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		for _, j := range info.frontier[cur] {
			if inResult[j] {
				continue
			}
			if limit >= 0 && len(result) >= limit {
				return result
			}
			inResult[j] = true
			result = append(result, j)
			if !visited[j] {
				visited[j] = true
				work = append(work, j)
			}
		}
	}
	return result
}

// instrIndex returns the position of instr within its block, or -1 when instr does
// not belong to b.
func instrIndex(b *ssa.BasicBlock, instr ssa.Instruction) int {
	for i, in := range b.Instrs {
		if in == instr {
			return i
		}
	}
	return -1
}

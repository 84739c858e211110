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

package graphutil

import (
	"sort"

	"gonum.org/v1/gonum/graph"
)

// CGraph is an abstraction over a directed graph with labelled, densely numbered nodes,
// used to hand a discovered call graph to existing graph libraries. It implements the
// methods to satisfy graph.Iterator and Gonum's graph.Graph
type CGraph struct {
	// The order of the graph
	order int

	// Labels maps node IDs to a printable name (e.g. a function name)
	Labels map[int64]string

	// Keys are all the node IDs
	Keys []int64

	// Edges is an adjacency matrix: Edges[x][y] means there is a directed edge between x and y
	Edges map[int64]map[int64]bool
}

// NewCGraph builds a CGraph from an adjacency list and node labels. Every node that
// appears as an edge source, an edge destination, or a label key becomes a node of the
// graph, so callers may pass a partial label map.
func NewCGraph(adjacency map[int64][]int64, labels map[int64]string) CGraph {
	idset := make(map[int64]bool, len(labels))
	for id := range labels {
		idset[id] = true
	}
	edges := make(map[int64]map[int64]bool, len(adjacency))
	for from, tos := range adjacency {
		idset[from] = true
		if edges[from] == nil {
			edges[from] = map[int64]bool{}
		}
		for _, to := range tos {
			idset[to] = true
			edges[from][to] = true
		}
	}

	keys := make([]int64, 0, len(idset))
	for id := range idset {
		keys = append(keys, id)
		if edges[id] == nil {
			edges[id] = map[int64]bool{}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	if labels == nil {
		labels = map[int64]string{}
	}

	return CGraph{
		order:  len(keys),
		Labels: labels,
		Edges:  edges,
		Keys:   keys,
	}
}

// Subgraph returns a new graph that is the original graph with only the nodes in include. Only the edges that have
// both the origin and destination nodes in the include nodes are kept in the resulting graph.
// The subgraph's order and Labels are the same as in the original, meaning that node indices stay consistent
// across subgraphs.
func Subgraph(original CGraph, include []int64) CGraph {
	inset := make(map[int64]bool, len(include))
	edges := make(map[int64]map[int64]bool, len(include))
	keys := make([]int64, len(include))

	for j, i := range include {
		keys[j] = i
		inset[i] = true
	}

	for _, i := range include {
		edges[i] = map[int64]bool{}
		for e := range original.Edges[i] {
			if inset[e] {
				edges[i][e] = true
			}
		}
	}

	return CGraph{
		order:  original.Order(),
		Labels: original.Labels,
		Edges:  edges,
		Keys:   keys,
	}
}

// Order implements the order of the graph.Iterator interface for the CGraph
func (c CGraph) Order() int {
	return c.order
}

// Visit implements the graph.Iterator interface for the CGraph
func (c CGraph) Visit(v int, do func(w int, c int64) (skip bool)) (aborted bool) {
	for w := range c.Edges[int64(v)] {
		if do(int(w), 1) {
			return true
		}
	}
	return false
}

// *************** Graph interface implementation **********************

// Node implements the Graph interface
func (c CGraph) Node(v int) graph.Node {
	return CNode{id: int64(v), label: c.Labels[int64(v)]}
}

// Nodes returns the set of nodes in the graph
func (c CGraph) Nodes() graph.Nodes {
	nodes := make(map[int64]CNode, len(c.Keys))
	ids := make([]int64, len(c.Keys))
	for i, k := range c.Keys {
		ids[i] = k
		nodes[k] = CNode{id: k, label: c.Labels[k]}
	}
	return &NodeSet{
		nodes: nodes,
		ids:   ids,
		cur:   0,
	}
}

// From returns the set of nodes reachable from the id
func (c CGraph) From(id int64) graph.Nodes {
	nodes := make(map[int64]CNode)
	var ids []int64
	for out := range c.Edges[id] {
		ids = append(ids, out)
		nodes[out] = CNode{id: out, label: c.Labels[out]}
	}
	return &NodeSet{
		nodes: nodes,
		ids:   ids,
		cur:   0,
	}
}

// HasEdgeBetween returns a boolean indicating whether an edge exists between the two node identifiers
func (c CGraph) HasEdgeBetween(xid, yid int64) bool {
	xe := c.Edges[xid]
	ye := c.Edges[yid]
	return xe[yid] || ye[xid]
}

// Edge returns the edge between the two identifiers (nil if none exists)
func (c CGraph) Edge(uid, vid int64) graph.Edge {
	ue := c.Edges[uid]
	if ue != nil {
		if ue[vid] {
			return CEdge{
				from: CNode{id: uid, label: c.Labels[uid]},
				to:   CNode{id: vid, label: c.Labels[vid]},
			}
		}
	}
	return nil
}

// *************** Nodes implementation **********************

// CNode is a labelled node that implements the graph.Node interface
type CNode struct {
	id    int64
	label string
}

// ID returns the id of the node
func (n CNode) ID() int64 {
	return n.id
}

func (n CNode) String() string {
	return n.label
}

// NodeSet implements the graph.Nodes interface, an iterator over a set of nodes
type NodeSet struct {
	// nodes is the set of nodes in the iterator
	nodes map[int64]CNode

	// ids is the set of node ids in the iterator
	// invariant: len(ids) = len(nodes)
	ids []int64

	// cur is the current index of the iterator. The current node is nodes[ids[cur]]
	// invariant: 0 <= cur < len(nodes)
	cur int
}

// Next moves the current node to the next, and returns true if such a node exists. Otherwise, returns false
// and the current node has not changed.
func (ns *NodeSet) Next() bool {
	if ns.cur < len(ns.ids)-1 {
		ns.cur++
		return true
	}
	return false
}

// Len returns the length of the node set
func (ns *NodeSet) Len() int {
	return len(ns.ids)
}

// Reset resets the id of the current node in the set
func (ns *NodeSet) Reset() {
	ns.cur = 0
}

// Node return the current node in the set
func (ns *NodeSet) Node() graph.Node {
	return ns.nodes[ns.ids[ns.cur]]
}

// *************** Edge implementation **********************

// CEdge implements the graph.Edge interface
type CEdge struct {
	from CNode
	to   CNode
}

// From returns the origin of the edge
func (e CEdge) From() graph.Node {
	return e.from
}

// To returns the destination of the edge
func (e CEdge) To() graph.Node {
	return e.to
}

// ReversedEdge returns a new value representing the reversed edge
func (e CEdge) ReversedEdge() graph.Edge {
	return CEdge{from: e.to, to: e.from}
}

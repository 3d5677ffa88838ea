package trellis

import (
	"fmt"
	"sort"
)

// DirectedGraph is an in-memory adjacency snapshot over one relationship
// kind, keyed by node ID. It is bulk-loaded in a single query and
// traversed in memory; nothing here goes back to the store.
type DirectedGraph struct {
	nodes map[string]*Node
	out   map[string][]string
}

func newDirectedGraph() *DirectedGraph {
	return &DirectedGraph{
		nodes: make(map[string]*Node),
		out:   make(map[string][]string),
	}
}

// Node returns the node for id, or nil.
func (g *DirectedGraph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns every node, sorted by qualified name.
func (g *DirectedGraph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// Neighbors returns the IDs id points at.
func (g *DirectedGraph) Neighbors(id string) []string {
	return g.out[id]
}

// Size returns node and edge counts.
func (g *DirectedGraph) Size() (nodes, edges int) {
	for _, ns := range g.out {
		edges += len(ns)
	}
	return len(g.nodes), edges
}

func (g *DirectedGraph) addNode(n *Node) {
	if _, ok := g.nodes[n.ID]; !ok {
		g.nodes[n.ID] = n
	}
}

func (g *DirectedGraph) addEdge(source, target string) {
	for _, t := range g.out[source] {
		if t == target {
			return
		}
	}
	g.out[source] = append(g.out[source], target)
}

// qnameOf names a node for reports, falling back to the raw ID.
func (g *DirectedGraph) qnameOf(id string) string {
	if n := g.nodes[id]; n != nil {
		return n.QualifiedName
	}
	return id
}

// ImportGraph snapshots the file and package import structure. A
// non-empty scope restricts edge sources to paths or qualified names
// under that prefix; targets may still lie outside the scope.
func (q *QueryEngine) ImportGraph(scope string) (*DirectedGraph, error) {
	v, err, _ := q.group.Do("imports\x00"+scope, func() (any, error) {
		edges, err := q.store.ImportEdges(scope)
		if err != nil {
			return nil, fmt.Errorf("import graph: %w", err)
		}
		g := newDirectedGraph()
		for _, e := range edges {
			g.addNode(e.Source)
			g.addNode(e.Target)
			g.addEdge(e.Source.ID, e.Target.ID)
		}
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DirectedGraph), nil
}

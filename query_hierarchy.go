package trellis

import (
	"fmt"
	"sort"

	"github.com/jward/trellis/internal/schema"
)

// InheritanceChain returns the ancestry of a type ordered root to leaf:
// the most distant ancestors first, the queried type last. EXTENDS and
// IMPLEMENTS both count as ancestry. When several declarations share the
// qualified name the chain starts from the first type by file path.
func (q *QueryEngine) InheritanceChain(qualifiedName string) ([]*Node, error) {
	v, err, _ := q.group.Do("chain\x00"+qualifiedName, func() (any, error) {
		anchors, err := q.store.NodesByQualifiedName(qualifiedName)
		if err != nil {
			return nil, fmt.Errorf("resolve type: %w", err)
		}
		var start *Node
		for _, a := range anchors {
			if a.Kind == schema.KindClass || a.Kind == schema.KindInterface || a.Kind == schema.KindEnum {
				start = a
				break
			}
		}
		if start == nil {
			return nil, &NotFoundError{Kind: "type", Key: qualifiedName}
		}
		return q.ancestry(start)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Node), nil
}

// ancestry walks supertype edges breadth-first from start. The seen map
// doubles as the depth record and terminates malformed inheritance loops.
func (q *QueryEngine) ancestry(start *Node) ([]*Node, error) {
	type ancestor struct {
		node  *Node
		depth int
	}
	seen := map[string]int{start.ID: 0}
	queue := []*Node{start}
	var ancestors []ancestor

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges, err := q.store.EdgesFrom(cur.ID, schema.RelExtends, schema.RelImplements)
		if err != nil {
			return nil, fmt.Errorf("supertypes: %w", err)
		}
		for _, e := range edges {
			if _, ok := seen[e.TargetID]; ok {
				continue
			}
			parent, err := q.store.NodeByID(e.TargetID)
			if err != nil {
				return nil, fmt.Errorf("load supertype: %w", err)
			}
			if parent == nil {
				continue
			}
			d := seen[cur.ID] + 1
			seen[parent.ID] = d
			ancestors = append(ancestors, ancestor{node: parent, depth: d})
			queue = append(queue, parent)
		}
	}

	sort.Slice(ancestors, func(i, j int) bool {
		if ancestors[i].depth != ancestors[j].depth {
			return ancestors[i].depth > ancestors[j].depth
		}
		return ancestors[i].node.QualifiedName < ancestors[j].node.QualifiedName
	})
	chain := make([]*Node, 0, len(ancestors)+1)
	for _, a := range ancestors {
		chain = append(chain, a.node)
	}
	chain = append(chain, start)
	return chain, nil
}

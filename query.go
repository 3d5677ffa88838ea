package trellis

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/jward/trellis/internal/store"
)

// NotFoundError reports a query anchor that does not exist in the graph.
// Asking about an unknown file or symbol is loud; a known anchor with no
// results answers with an empty slice.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// QueryEngine answers read queries against a built graph. It pins the
// build generation current at construction; Stale reports when later
// builds have published past it. Safe for concurrent use, and identical
// concurrent lookups are collapsed into one store read.
type QueryEngine struct {
	store      *store.Store
	group      singleflight.Group
	generation int64
}

// NewQueryEngine wraps a store for reads.
func NewQueryEngine(s *Store) *QueryEngine {
	gen, _ := s.Generation()
	return &QueryEngine{store: s, generation: gen}
}

// Query returns a read view over the engine's store.
func (e *Engine) Query() *QueryEngine {
	return NewQueryEngine(e.store)
}

// Generation returns the pinned build generation.
func (q *QueryEngine) Generation() int64 {
	return q.generation
}

// Stale reports whether a build has published since this view was pinned.
func (q *QueryEngine) Stale() (bool, error) {
	current, err := q.store.Generation()
	if err != nil {
		return false, err
	}
	return current != q.generation, nil
}

// Node returns one node by ID.
func (q *QueryEngine) Node(id string) (*Node, error) {
	n, err := q.store.NodeByID(id)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	if n == nil {
		return nil, &NotFoundError{Kind: "node", Key: id}
	}
	return n, nil
}

// SymbolsInFile returns every declaration the file contains, directly or
// nested, ordered by source position. An unknown path is a NotFoundError;
// a known file with no declarations is an empty slice.
func (q *QueryEngine) SymbolsInFile(path string) ([]*Node, error) {
	v, err, _ := q.group.Do("file\x00"+path, func() (any, error) {
		file, err := q.store.FileNode(path)
		if err != nil {
			return nil, fmt.Errorf("symbols in file: %w", err)
		}
		if file == nil {
			return nil, &NotFoundError{Kind: "file", Key: path}
		}
		nodes, err := q.store.NodesInFile(file.ID)
		if err != nil {
			return nil, fmt.Errorf("symbols in file: %w", err)
		}
		if nodes == nil {
			nodes = []*Node{}
		}
		return nodes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Node), nil
}

// CallersOf returns the direct callers of the named callable: sources of
// CALLS edges one hop in, never transitive.
func (q *QueryEngine) CallersOf(qualifiedName string) ([]*Node, error) {
	return q.callHop("callers\x00"+qualifiedName, qualifiedName, q.store.CallerNodes)
}

// CalleesOf returns what the named callable directly calls.
func (q *QueryEngine) CalleesOf(qualifiedName string) ([]*Node, error) {
	return q.callHop("callees\x00"+qualifiedName, qualifiedName, q.store.CalleeNodes)
}

// callHop resolves the anchor by qualified name and unions one-hop call
// neighbors over every matching declaration, since overloads share the
// name.
func (q *QueryEngine) callHop(key, qualifiedName string, hop func(string) ([]*Node, error)) ([]*Node, error) {
	v, err, _ := q.group.Do(key, func() (any, error) {
		anchors, err := q.store.NodesByQualifiedName(qualifiedName)
		if err != nil {
			return nil, fmt.Errorf("resolve symbol: %w", err)
		}
		if len(anchors) == 0 {
			return nil, &NotFoundError{Kind: "symbol", Key: qualifiedName}
		}
		seen := make(map[string]bool)
		out := []*Node{}
		for _, a := range anchors {
			neighbors, err := hop(a.ID)
			if err != nil {
				return nil, fmt.Errorf("call neighbors: %w", err)
			}
			for _, n := range neighbors {
				if seen[n.ID] {
					continue
				}
				seen[n.ID] = true
				out = append(out, n)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Node), nil
}

package trellis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/trellis/internal/schema"
	"github.com/jward/trellis/internal/store"
)

// unusedKinds is the public surface unused detection examines.
var unusedKinds = []schema.NodeKind{
	schema.KindFunction,
	schema.KindMethod,
	schema.KindClass,
}

// findUnused flags public functions, methods and classes with no incoming
// CALLS or USES_TYPE edge from outside their defining file. Recursive
// self-calls never count as usage, nor do calls from siblings in the same
// file. Returns the findings plus how many public candidates were
// examined.
func findUnused(s *store.Store, scope string) ([]UnusedSymbol, int, error) {
	public, err := s.PublicSymbols(unusedKinds...)
	if err != nil {
		return nil, 0, fmt.Errorf("public symbols: %w", err)
	}
	if scope != "" {
		filtered := public[:0]
		for _, n := range public {
			if strings.HasPrefix(n.FilePath, scope) || strings.HasPrefix(n.QualifiedName, scope) {
				filtered = append(filtered, n)
			}
		}
		public = filtered
	}
	if len(public) == 0 {
		return nil, 0, nil
	}

	usages, err := s.UsageEdges()
	if err != nil {
		return nil, 0, fmt.Errorf("usage edges: %w", err)
	}
	incomingFiles := make(map[string][]string, len(usages))
	for _, u := range usages {
		if u.SourceID == u.TargetID {
			continue
		}
		incomingFiles[u.TargetID] = append(incomingFiles[u.TargetID], u.SourceFile)
	}

	var out []UnusedSymbol
	for _, n := range public {
		used := false
		for _, from := range incomingFiles[n.ID] {
			if from != n.FilePath {
				used = true
				break
			}
		}
		if !used {
			out = append(out, UnusedSymbol{Node: n, Note: unusedLimitation})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Node.QualifiedName < out[j].Node.QualifiedName
	})
	return out, len(public), nil
}

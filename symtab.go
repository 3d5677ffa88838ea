package trellis

import (
	"strings"

	"github.com/jward/trellis/internal/schema"
	"github.com/jward/trellis/internal/store"
)

// SymbolRef locates one resolvable declaration: enough to materialize an
// edge to it and to check that edge against the validity table.
type SymbolRef struct {
	ID       string
	Kind     schema.NodeKind
	FilePath string
}

// nonTargetKinds never serve as reference targets; keeping them out of the
// table keeps bare-name collisions down.
var nonTargetKinds = map[schema.NodeKind]bool{
	schema.KindImport:     true,
	schema.KindAnnotation: true,
	schema.KindParameter:  true,
}

// SymbolTable is the global name index assembled at the barrier between
// extraction and resolution. Once built it is read-only, which is what
// lets the resolution pass fan out without locks.
type SymbolTable struct {
	byName map[string][]SymbolRef
	ids    map[string]bool
	roots  map[string]bool
}

// mergeSymbols builds the table from this build's extractions plus the
// persisted index covering files not re-extracted this run. Fresh wins:
// persisted rows from freshly extracted files are stale and skipped, as is
// any ID already present (package nodes arrive once per declaring file).
func mergeSymbols(fresh []*extraction, persisted []*store.SymbolRow) *SymbolTable {
	t := &SymbolTable{
		byName: make(map[string][]SymbolRef),
		ids:    make(map[string]bool),
		roots:  make(map[string]bool),
	}
	freshFiles := make(map[string]bool, len(fresh))
	for _, ex := range fresh {
		freshFiles[ex.path] = true
	}
	for _, ex := range fresh {
		for _, n := range ex.nodes {
			t.add(n.ID, n.Kind, n.FilePath, n.QualifiedName, n.Name)
		}
	}
	for _, row := range persisted {
		if row.FilePath != "" && freshFiles[row.FilePath] {
			continue
		}
		t.add(row.ID, row.Kind, row.FilePath, row.QualifiedName, row.Name)
	}
	return t
}

func (t *SymbolTable) add(id string, kind schema.NodeKind, filePath, qn, name string) {
	if nonTargetKinds[kind] || t.ids[id] {
		return
	}
	t.ids[id] = true
	ref := SymbolRef{ID: id, Kind: kind, FilePath: filePath}
	t.byName[qn] = append(t.byName[qn], ref)
	if name != "" && name != qn {
		t.byName[name] = append(t.byName[name], ref)
	}
	if root := rootSegment(qn); root != "" {
		t.roots[root] = true
	}
}

// Resolve returns the declarations registered under name, qualified or
// bare. The returned slice is shared; callers must not modify it.
func (t *SymbolTable) Resolve(name string) []SymbolRef {
	return t.byName[name]
}

// Len reports how many distinct declarations the table indexes.
func (t *SymbolTable) Len() int { return len(t.ids) }

// KnownRoot reports whether any indexed qualified name starts with the
// given root segment. Targets under unknown roots classify as external
// rather than missing.
func (t *SymbolTable) KnownRoot(root string) bool { return t.roots[root] }

// rootSegment returns the first '.'- or '/'-delimited piece of a qualified
// name.
func rootSegment(qn string) string {
	if i := strings.IndexAny(qn, "./"); i >= 0 {
		return qn[:i]
	}
	return qn
}

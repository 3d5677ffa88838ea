package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jward/trellis/internal/schema"
)

// scanNode scans one row in NodeCols order.
func scanNode(scanner interface{ Scan(...any) error }) (*schema.Node, error) {
	var n schema.Node
	var kind, visibility, modifiers string
	err := scanner.Scan(&n.ID, &kind, &n.Name, &n.QualifiedName, &n.FilePath,
		&n.Language, &visibility, &n.StartLine, &n.EndLine,
		&n.Signature, &n.ReturnType, &modifiers)
	if err != nil {
		return nil, err
	}
	n.Kind = schema.NodeKind(kind)
	n.Visibility = schema.Visibility(visibility)
	n.Modifiers = unmarshalModifiers(modifiers)
	return &n, nil
}

func (s *Store) queryNodes(query string, args ...any) ([]*schema.Node, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*schema.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// NodeByID returns the node with the given ID, or (nil, nil) when absent.
func (s *Store) NodeByID(id string) (*schema.Node, error) {
	row := s.db.QueryRow("SELECT "+NodeCols+" FROM nodes WHERE id = ?", id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("node by id: %w", err)
	}
	return n, nil
}

// NodesByQualifiedName returns every node carrying the qualified name.
// Overloads and same-named declarations across files share one.
func (s *Store) NodesByQualifiedName(qn string) ([]*schema.Node, error) {
	return s.queryNodes("SELECT "+NodeCols+" FROM nodes WHERE qualified_name = ? ORDER BY file_path, id", qn)
}

// FileNode returns the file node for a path, or (nil, nil) when absent.
func (s *Store) FileNode(path string) (*schema.Node, error) {
	row := s.db.QueryRow("SELECT "+NodeCols+" FROM nodes WHERE kind = 'file' AND file_path = ?", path)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file node: %w", err)
	}
	return n, nil
}

// NodesInFile returns every node reachable from the file node over
// CONTAINS edges, ordered by start line.
func (s *Store) NodesInFile(fileID string) ([]*schema.Node, error) {
	q := `
WITH RECURSIVE contained(id) AS (
  SELECT target_id FROM edges WHERE source_id = ? AND kind = 'CONTAINS'
  UNION
  SELECT e.target_id FROM edges e JOIN contained c ON e.source_id = c.id WHERE e.kind = 'CONTAINS'
)
SELECT ` + prefixCols("n") + ` FROM nodes n JOIN contained c ON n.id = c.id
ORDER BY n.start_line, n.qualified_name`
	return s.queryNodes(q, fileID)
}

// CallerNodes returns nodes with a CALLS edge into targetID.
func (s *Store) CallerNodes(targetID string) ([]*schema.Node, error) {
	q := `
SELECT ` + prefixCols("n") + ` FROM nodes n
JOIN edges e ON e.source_id = n.id
WHERE e.kind = 'CALLS' AND e.target_id = ?
ORDER BY n.qualified_name`
	return s.queryNodes(q, targetID)
}

// CalleeNodes returns nodes the given node has a CALLS edge into.
func (s *Store) CalleeNodes(sourceID string) ([]*schema.Node, error) {
	q := `
SELECT ` + prefixCols("n") + ` FROM nodes n
JOIN edges e ON e.target_id = n.id
WHERE e.kind = 'CALLS' AND e.source_id = ?
ORDER BY n.qualified_name`
	return s.queryNodes(q, sourceID)
}

// EdgesFrom returns outgoing edges of the given kinds.
func (s *Store) EdgesFrom(sourceID string, kinds ...schema.RelKind) ([]*schema.Relationship, error) {
	return s.edges("source_id = ?", sourceID, kinds)
}

// EdgesTo returns incoming edges of the given kinds.
func (s *Store) EdgesTo(targetID string, kinds ...schema.RelKind) ([]*schema.Relationship, error) {
	return s.edges("target_id = ?", targetID, kinds)
}

func (s *Store) edges(where string, arg any, kinds []schema.RelKind) ([]*schema.Relationship, error) {
	args := []any{arg}
	q := "SELECT source_id, kind, target_id, target_qname, line, alias FROM edges WHERE " + where
	if len(kinds) > 0 {
		ks := make([]string, len(kinds))
		for i, k := range kinds {
			ks[i] = "?"
			args = append(args, string(k))
		}
		q += " AND kind IN (" + strings.Join(ks, ",") + ")"
	}
	q += " ORDER BY kind, line"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var rels []*schema.Relationship
	for rows.Next() {
		var r schema.Relationship
		var kind string
		if err := rows.Scan(&r.SourceID, &kind, &r.TargetID, &r.TargetName, &r.Line, &r.Alias); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		r.Kind = schema.RelKind(kind)
		rels = append(rels, &r)
	}
	return rels, rows.Err()
}

// ImportEdges returns IMPORTS edges between file and package nodes, both
// endpoints loaded. A non-empty scope restricts sources to paths or
// qualified names under that prefix.
func (s *Store) ImportEdges(scope string) ([]*ImportEdge, error) {
	q := `
SELECT ` + prefixCols("s") + `, ` + prefixCols("t") + `
FROM edges e
JOIN nodes s ON s.id = e.source_id
JOIN nodes t ON t.id = e.target_id
WHERE e.kind = 'IMPORTS'
  AND s.kind IN ('file', 'package')
  AND t.kind IN ('file', 'package')`
	var args []any
	if scope != "" {
		q += " AND (s.file_path LIKE ? OR s.qualified_name LIKE ?)"
		args = append(args, scope+"%", scope+"%")
	}
	q += " ORDER BY s.qualified_name, t.qualified_name"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query import edges: %w", err)
	}
	defer rows.Close()

	var edges []*ImportEdge
	for rows.Next() {
		var src, tgt schema.Node
		var sKind, sVis, sMods, tKind, tVis, tMods string
		err := rows.Scan(
			&src.ID, &sKind, &src.Name, &src.QualifiedName, &src.FilePath,
			&src.Language, &sVis, &src.StartLine, &src.EndLine,
			&src.Signature, &src.ReturnType, &sMods,
			&tgt.ID, &tKind, &tgt.Name, &tgt.QualifiedName, &tgt.FilePath,
			&tgt.Language, &tVis, &tgt.StartLine, &tgt.EndLine,
			&tgt.Signature, &tgt.ReturnType, &tMods)
		if err != nil {
			return nil, fmt.Errorf("scan import edge: %w", err)
		}
		src.Kind, src.Visibility, src.Modifiers = schema.NodeKind(sKind), schema.Visibility(sVis), unmarshalModifiers(sMods)
		tgt.Kind, tgt.Visibility, tgt.Modifiers = schema.NodeKind(tKind), schema.Visibility(tVis), unmarshalModifiers(tMods)
		edges = append(edges, &ImportEdge{Source: &src, Target: &tgt})
	}
	return edges, rows.Err()
}

// PublicSymbols returns public nodes of the given kinds.
func (s *Store) PublicSymbols(kinds ...schema.NodeKind) ([]*schema.Node, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	ks := make([]string, len(kinds))
	args := make([]any, len(kinds))
	for i, k := range kinds {
		ks[i] = "?"
		args[i] = string(k)
	}
	q := "SELECT " + NodeCols + " FROM nodes WHERE visibility = 'public' AND kind IN (" +
		strings.Join(ks, ",") + ") ORDER BY qualified_name"
	return s.queryNodes(q, args...)
}

// UsageEdges returns every CALLS and USES_TYPE edge with the source node's
// defining file.
func (s *Store) UsageEdges() ([]*UsageEdge, error) {
	q := `
SELECT e.source_id, e.target_id, s.file_path
FROM edges e JOIN nodes s ON s.id = e.source_id
WHERE e.kind IN ('CALLS', 'USES_TYPE')`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("query usage edges: %w", err)
	}
	defer rows.Close()

	var edges []*UsageEdge
	for rows.Next() {
		var e UsageEdge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.SourceFile); err != nil {
			return nil, fmt.Errorf("scan usage edge: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// SymbolIndex returns (qualified name, id, kind, file) for every node that
// can be a cross-file reference target. Seeds the merged symbol table on
// incremental builds.
func (s *Store) SymbolIndex() ([]*SymbolRow, error) {
	q := `
SELECT qualified_name, name, id, kind, file_path FROM nodes
WHERE kind NOT IN ('import', 'annotation', 'parameter')`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("query symbol index: %w", err)
	}
	defer rows.Close()

	var out []*SymbolRow
	for rows.Next() {
		var r SymbolRow
		var kind string
		if err := rows.Scan(&r.QualifiedName, &r.Name, &r.ID, &kind, &r.FilePath); err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		r.Kind = schema.NodeKind(kind)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Unresolved returns every persisted unresolved reference with the source
// node's kind joined in, the shape the resolution sweep consumes.
func (s *Store) Unresolved() ([]*UnresolvedRow, error) {
	q := `
SELECT u.id, u.source_id, COALESCE(n.kind, ''), u.source_file, u.target_name, u.kind, u.line, u.reason
FROM unresolved_references u
LEFT JOIN nodes n ON n.id = u.source_id`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("query unresolved: %w", err)
	}
	defer rows.Close()

	var out []*UnresolvedRow
	for rows.Next() {
		var r UnresolvedRow
		var srcKind, kind, reason string
		if err := rows.Scan(&r.ID, &r.SourceID, &srcKind, &r.SourceFile, &r.TargetName, &kind, &r.Line, &reason); err != nil {
			return nil, fmt.Errorf("scan unresolved: %w", err)
		}
		r.SourceKind = schema.NodeKind(srcKind)
		r.Kind = schema.RelKind(kind)
		r.Reason = schema.UnresolvedReason(reason)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// NodeCounts returns node counts grouped by kind.
func (s *Store) NodeCounts() (map[string]int, error) {
	return s.counts("SELECT kind, COUNT(*) FROM nodes GROUP BY kind")
}

// EdgeCounts returns edge counts grouped by kind.
func (s *Store) EdgeCounts() (map[string]int, error) {
	return s.counts("SELECT kind, COUNT(*) FROM edges GROUP BY kind")
}

func (s *Store) counts(query string) (map[string]int, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

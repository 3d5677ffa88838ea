package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jward/trellis/internal/schema"
)

const upsertNodeSQL = `
INSERT INTO nodes (` + NodeCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  kind = excluded.kind,
  name = excluded.name,
  qualified_name = excluded.qualified_name,
  file_path = excluded.file_path,
  language = excluded.language,
  visibility = excluded.visibility,
  start_line = excluded.start_line,
  end_line = excluded.end_line,
  signature = excluded.signature,
  return_type = excluded.return_type,
  modifiers = excluded.modifiers`

const insertEdgeSQL = `
INSERT INTO edges (source_id, kind, target_id, target_qname, line, alias)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(source_id, kind, target_id, line) DO NOTHING`

// EnsureSchema implements Gateway.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.Migrate()
}

// UpsertBatch writes one batch of nodes and relationships in a single
// transaction. Nodes are idempotent by ID, edges by their endpoint tuple.
// Transient failures are retried with exponential backoff; exhaustion
// returns a *PersistenceError and leaves the batch uncommitted.
func (s *Store) UpsertBatch(ctx context.Context, nodes []*schema.Node, rels []*schema.Relationship) (*BatchStats, error) {
	stats := &BatchStats{}
	attempts, err := withRetry(ctx, s.maxRetries, func() error {
		return s.upsertBatchTx(ctx, nodes, rels)
	})
	stats.Attempts = attempts
	if err != nil {
		return stats, &PersistenceError{Attempts: attempts, Err: err}
	}
	stats.Nodes = len(nodes)
	stats.Edges = len(rels)
	return stats, nil
}

func (s *Store) upsertBatchTx(ctx context.Context, nodes []*schema.Node, rels []*schema.Relationship) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(nodes) > 0 {
		stmt, err := tx.PrepareContext(ctx, upsertNodeSQL)
		if err != nil {
			return fmt.Errorf("prepare node upsert: %w", err)
		}
		defer stmt.Close()
		for _, n := range nodes {
			_, err := stmt.ExecContext(ctx,
				n.ID, string(n.Kind), n.Name, n.QualifiedName, n.FilePath,
				n.Language, string(n.Visibility), n.StartLine, n.EndLine,
				n.Signature, n.ReturnType, marshalModifiers(n.Modifiers))
			if err != nil {
				return fmt.Errorf("upsert node %s: %w", n.ID, err)
			}
		}
	}

	if len(rels) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertEdgeSQL)
		if err != nil {
			return fmt.Errorf("prepare edge insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rels {
			_, err := stmt.ExecContext(ctx,
				r.SourceID, string(r.Kind), r.TargetID, r.TargetName, r.Line, r.Alias)
			if err != nil {
				return fmt.Errorf("insert edge %s -%s-> %s: %w", r.SourceID, r.Kind, r.TargetID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// SupersedeFile clears a changed file's graph data ahead of re-upserting
// it. Nodes listed in keepIDs survive in place (their rows are updated by
// the following upsert); nodes absent from keepIDs vanished from the new
// version, so edges into them are demoted to unresolved references rather
// than dropped silently.
func (s *Store) SupersedeFile(ctx context.Context, path string, keepIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteFileGraphTx(ctx, tx, path, keepIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteFileData removes every trace of files that disappeared from the
// source set: graph rows, unresolved references and the files row.
func (s *Store) DeleteFileData(ctx context.Context, paths []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, path := range paths {
		if err := deleteFileGraphTx(ctx, tx, path, nil); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path); err != nil {
			return fmt.Errorf("delete file row: %w", err)
		}
	}
	return tx.Commit()
}

// deleteFileGraphTx removes one file's nodes and edges inside tx. Edges
// emitted by the file (sourced at its nodes, or containing them) are
// deleted outright since re-extraction rebuilds them. Cross-file edges
// into vanished nodes become unresolved references, keyed by the edge's
// recorded target name.
func deleteFileGraphTx(ctx context.Context, tx *sql.Tx, path string, keepIDs []string) error {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM nodes WHERE file_path = ?", path)
	if err != nil {
		return fmt.Errorf("query file nodes: %w", err)
	}
	var oldIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan node id: %w", err)
		}
		oldIDs = append(oldIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate file nodes: %w", err)
	}

	if len(oldIDs) > 0 {
		ph := placeholderList(len(oldIDs))
		args := stringsToArgs(oldIDs)

		// The file re-emits its own outgoing edges and containment.
		q := "DELETE FROM edges WHERE source_id IN (" + ph + ") OR (kind = 'CONTAINS' AND target_id IN (" + ph + "))"
		if _, err := tx.ExecContext(ctx, q, repeatArgs(args, 2)...); err != nil {
			return fmt.Errorf("delete file edges: %w", err)
		}
	}

	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}
	var vanished []string
	for _, id := range oldIDs {
		if _, ok := keep[id]; !ok {
			vanished = append(vanished, id)
		}
	}

	if len(vanished) > 0 {
		ph := placeholderList(len(vanished))
		args := stringsToArgs(vanished)

		// Remaining edges into vanished nodes come from other files; demote
		// them so the reference survives as unresolved instead of vanishing.
		demote := `
INSERT INTO unresolved_references (source_id, source_file, target_name, kind, line, reason)
SELECT e.source_id, s.file_path, e.target_qname, e.kind, e.line, 'not_found'
FROM edges e JOIN nodes s ON s.id = e.source_id
WHERE e.target_id IN (` + ph + `) AND e.target_qname != ''`
		if _, err := tx.ExecContext(ctx, demote, args...); err != nil {
			return fmt.Errorf("demote edges to unresolved: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE target_id IN ("+ph+")", args...); err != nil {
			return fmt.Errorf("delete edges into vanished nodes: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM unresolved_references WHERE source_file = ?", path); err != nil {
		return fmt.Errorf("delete unresolved references: %w", err)
	}

	if len(vanished) > 0 {
		ph := placeholderList(len(vanished))
		if _, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE id IN ("+ph+")", stringsToArgs(vanished)...); err != nil {
			return fmt.Errorf("delete vanished nodes: %w", err)
		}
	}
	return nil
}

// InsertUnresolved appends unresolved reference rows.
func (s *Store) InsertUnresolved(ctx context.Context, refs []*UnresolvedRow) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO unresolved_references (source_id, source_file, target_name, kind, line, reason)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare unresolved insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range refs {
		if _, err := stmt.ExecContext(ctx, r.SourceID, r.SourceFile, r.TargetName, string(r.Kind), r.Line, string(r.Reason)); err != nil {
			return fmt.Errorf("insert unresolved reference: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteUnresolvedByIDs removes unresolved rows that were promoted to
// edges by a later resolution sweep.
func (s *Store) DeleteUnresolvedByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ph := placeholderList(len(ids))
	if _, err := s.db.ExecContext(ctx, "DELETE FROM unresolved_references WHERE id IN ("+ph+")", int64sToArgs(ids)...); err != nil {
		return fmt.Errorf("delete unresolved references: %w", err)
	}
	return nil
}

// RecordFiles upserts per-file bookkeeping rows.
func (s *Store) RecordFiles(ctx context.Context, infos []*FileInfo) error {
	if len(infos) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO files (path, language, hash, lines, last_indexed)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
  language = excluded.language,
  hash = excluded.hash,
  lines = excluded.lines,
  last_indexed = excluded.last_indexed`)
	if err != nil {
		return fmt.Errorf("prepare file upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range infos {
		if _, err := stmt.ExecContext(ctx, f.Path, f.Language, f.Hash, f.Lines, f.LastIndexed); err != nil {
			return fmt.Errorf("upsert file %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

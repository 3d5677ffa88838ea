package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

const buildCols = "id, run_id, generation, started_at, finished_at, files_indexed, files_failed, files_skipped, total_lines, nodes_upserted, edges_upserted, unresolved, external, violations, failed_batches"

// Generation returns the last published build generation, 0 before any
// build completes.
func (s *Store) Generation() (int64, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'generation'").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read generation: %w", err)
	}
	gen, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse generation %q: %w", value, err)
	}
	return gen, nil
}

// PublishBuild records a finished build run and advances the generation
// counter in one transaction. The assigned generation is written back to
// rec.
func (s *Store) PublishBuild(ctx context.Context, rec *BuildRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var value string
	var gen int64
	err = tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'generation'").Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		gen = 0
	case err != nil:
		return fmt.Errorf("read generation: %w", err)
	default:
		if gen, err = strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("parse generation %q: %w", value, err)
		}
	}
	rec.Generation = gen + 1

	res, err := tx.ExecContext(ctx, `
INSERT INTO builds (run_id, generation, started_at, finished_at, files_indexed, files_failed, files_skipped, total_lines, nodes_upserted, edges_upserted, unresolved, external, violations, failed_batches)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Generation, rec.StartedAt, rec.FinishedAt,
		rec.FilesIndexed, rec.FilesFailed, rec.FilesSkipped, rec.TotalLines,
		rec.Nodes, rec.Edges, rec.Unresolved, rec.External, rec.Violations, rec.FailedBatches)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("build id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO meta (key, value) VALUES ('generation', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(rec.Generation, 10))
	if err != nil {
		return fmt.Errorf("advance generation: %w", err)
	}
	return tx.Commit()
}

func scanBuild(scanner interface{ Scan(...any) error }) (*BuildRecord, error) {
	var r BuildRecord
	err := scanner.Scan(&r.ID, &r.RunID, &r.Generation, &r.StartedAt, &r.FinishedAt,
		&r.FilesIndexed, &r.FilesFailed, &r.FilesSkipped, &r.TotalLines,
		&r.Nodes, &r.Edges, &r.Unresolved, &r.External, &r.Violations, &r.FailedBatches)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LastBuild returns the most recent build record, or (nil, nil) before any
// build completes.
func (s *Store) LastBuild() (*BuildRecord, error) {
	row := s.db.QueryRow("SELECT " + buildCols + " FROM builds ORDER BY id DESC LIMIT 1")
	rec, err := scanBuild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last build: %w", err)
	}
	return rec, nil
}

// Builds returns up to limit build records, newest first.
func (s *Store) Builds(limit int) ([]*BuildRecord, error) {
	rows, err := s.db.Query("SELECT "+buildCols+" FROM builds ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var out []*BuildRecord
	for rows.Next() {
		rec, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// KnownFiles returns the per-file bookkeeping rows keyed by path.
func (s *Store) KnownFiles() (map[string]*FileInfo, error) {
	rows, err := s.db.Query("SELECT path, language, hash, lines, last_indexed FROM files")
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*FileInfo)
	for rows.Next() {
		var f FileInfo
		if err := rows.Scan(&f.Path, &f.Language, &f.Hash, &f.Lines, &f.LastIndexed); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out[f.Path] = &f
	}
	return out, rows.Err()
}

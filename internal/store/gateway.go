package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jward/trellis/internal/schema"
)

// Gateway is the write-side persistence contract. The SQLite Store is the
// primary implementation; the Neo4j graph mirror implements the same
// interface so builds can target either backend with one code path.
type Gateway interface {
	// EnsureSchema creates tables or indexes as needed. Idempotent.
	EnsureSchema(ctx context.Context) error
	// UpsertBatch writes one batch of nodes and relationships in a single
	// transaction, idempotent by node ID. Transient failures are retried a
	// bounded number of times; exhaustion returns a *PersistenceError.
	UpsertBatch(ctx context.Context, nodes []*schema.Node, rels []*schema.Relationship) (*BatchStats, error)
	// DeleteFileData removes every node, edge and bookkeeping row belonging
	// to the given files. Used when files disappear from the source set.
	DeleteFileData(ctx context.Context, paths []string) error
	// PublishBuild records a finished build run and advances the generation
	// counter that query snapshots pin.
	PublishBuild(ctx context.Context, rec *BuildRecord) error
	Close() error
}

var _ Gateway = (*Store)(nil)

// BatchStats reports what one committed batch wrote.
type BatchStats struct {
	Nodes    int
	Edges    int
	Attempts int
}

// PersistenceError wraps a batch commit failure after retry exhaustion. The
// failed batch is excluded from the graph; other batches stay committed.
type PersistenceError struct {
	Batch    int
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist batch %d after %d attempts: %v", e.Batch, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FileInfo is the per-file bookkeeping row behind incremental rebuilds.
type FileInfo struct {
	Path        string
	Language    string
	Hash        string
	Lines       int
	LastIndexed time.Time
}

// BuildRecord is one persisted build run. Generation is assigned by
// PublishBuild.
type BuildRecord struct {
	ID            int64
	RunID         string
	Generation    int64
	StartedAt     time.Time
	FinishedAt    time.Time
	FilesIndexed  int
	FilesFailed   int
	FilesSkipped  int
	TotalLines    int
	Nodes         int
	Edges         int
	Unresolved    int
	External      int
	Violations    int
	FailedBatches int
}

// UnresolvedRow is a persisted unresolved reference. SourceKind is joined
// from the source node when reading; it is not stored on the row itself.
type UnresolvedRow struct {
	ID         int64
	SourceID   string
	SourceKind schema.NodeKind
	SourceFile string
	TargetName string
	Kind       schema.RelKind
	Line       int
	Reason     schema.UnresolvedReason
}

// UsageEdge is one incoming CALLS or USES_TYPE edge with the source node's
// defining file, the shape unused-symbol analysis consumes.
type UsageEdge struct {
	SourceID   string
	TargetID   string
	SourceFile string
}

// ImportEdge is one IMPORTS edge with both endpoints loaded.
type ImportEdge struct {
	Source *schema.Node
	Target *schema.Node
}

// SymbolRow is one entry of the persisted symbol index used to seed the
// merged symbol table on incremental builds.
type SymbolRow struct {
	QualifiedName string
	Name          string
	ID            string
	Kind          schema.NodeKind
	FilePath      string
}

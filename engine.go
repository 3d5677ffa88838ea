package trellis

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jward/trellis/internal/logging"
	"github.com/jward/trellis/internal/neo"
	"github.com/jward/trellis/internal/schema"
	"github.com/jward/trellis/internal/store"
	"github.com/jward/trellis/internal/telemetry"
)

// ErrBuildFailed reports a build whose persistence phase lost every batch.
// Partial failures are not errors; they surface in BuildStats instead.
var ErrBuildFailed = errors.New("build failed")

// defaultBatchSize bounds how many nodes or edges one persistence
// transaction carries.
const defaultBatchSize = 500

// Engine builds and maintains the code knowledge graph: it coordinates
// parsing, runs the two-pass build over the canonical trees and persists
// the result. One Engine owns one database; builds on the same Engine must
// not run concurrently.
type Engine struct {
	store     *store.Store
	mirror    store.Gateway
	coord     *Coordinator
	logger    *slog.Logger
	workers   int
	batchSize int
	maxCycles int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger routes engine logs to l instead of discarding them.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWorkers caps the parallel workers used by the parse, extraction and
// resolution phases. Defaults to the CPU count.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBatchSize overrides the persistence batch size.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMirror adds a secondary write target, typically Neo4j, that receives
// every graph write after the primary store. Mirror failures are logged
// and counted, never fatal.
func WithMirror(g Gateway) Option {
	return func(e *Engine) { e.mirror = g }
}

// WithMaxCycles caps how many dependency cycles analysis reports.
func WithMaxCycles(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCycles = n
		}
	}
}

// New opens or creates the graph database at dbPath and returns an engine
// ready to register adapters and build.
func New(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	e := &Engine{
		store:     s,
		logger:    logging.Discard(),
		workers:   runtime.NumCPU(),
		batchSize: defaultBatchSize,
		maxCycles: DefaultMaxCycles,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.coord = NewCoordinator(e.logger)
	return e, nil
}

// NewNeo4jMirror connects to a Neo4j instance for use with [WithMirror].
func NewNeo4jMirror(ctx context.Context, uri, user, password string) (Gateway, error) {
	return neo.Connect(ctx, uri, user, password)
}

// Close releases the database and, when configured, the mirror.
func (e *Engine) Close() error {
	if e.mirror != nil {
		return errors.Join(e.store.Close(), e.mirror.Close())
	}
	return e.store.Close()
}

// Register installs a language adapter.
func (e *Engine) Register(a Adapter) {
	e.coord.Register(a)
}

// Store exposes the underlying read API for queries.
func (e *Engine) Store() *Store {
	return e.store
}

// BuildStats summarizes one build run. Batch failures are partial: the
// committed batches stay committed and the counts here say what was lost.
type BuildStats struct {
	FilesIndexed     int
	FilesFailed      int
	FilesSkipped     int
	FilesRemoved     int
	TotalLines       int
	Nodes            int
	Edges            int
	Violations       int
	Unresolved       int
	External         int
	Promoted         int
	BatchesCommitted int
	BatchesFailed    int
	MirrorErrors     int
}

// BuildResult is the outcome of one build run. Failures lists the files
// that did not parse; everything else indexed normally.
type BuildResult struct {
	RunID      string
	Generation int64
	Stats      BuildStats
	Failures   []ParseResult
	Duration   time.Duration
}

// Build indexes sources into the graph. Pass one parses and extracts every
// changed file in parallel; after the barrier the merged symbol table is
// frozen and pass two resolves cross-file references against it. Files
// that fail to parse are skipped, files unchanged since the last build are
// not re-read, and files missing from sources are swept from the graph.
//
// The only fatal conditions are an uncovered source language, a lost
// store, context cancellation and a persistence phase in which every batch
// failed. Everything else degrades into BuildResult.
func (e *Engine) Build(ctx context.Context, sources []Source) (*BuildResult, error) {
	started := time.Now()
	res := &BuildResult{RunID: uuid.NewString()}
	log := e.logger.With("run_id", res.RunID)

	ctx, span := telemetry.Tracer().Start(ctx, "trellis.build")
	defer span.End()

	if len(sources) == 0 {
		gen, err := e.store.Generation()
		if err != nil {
			return nil, err
		}
		res.Generation = gen
		res.Duration = time.Since(started)
		log.Info("no sources, graph unchanged", "generation", gen)
		return res, nil
	}

	e.mirrorDo(log, "ensure schema", &res.Stats, func(g store.Gateway) error {
		return g.EnsureSchema(ctx)
	})

	seen := make(map[string]bool, len(sources))
	uniq := make([]Source, 0, len(sources))
	for _, s := range sources {
		if seen[s.Path] {
			continue
		}
		seen[s.Path] = true
		uniq = append(uniq, s)
	}
	sources = uniq

	known, err := e.store.KnownFiles()
	if err != nil {
		return nil, fmt.Errorf("load file index: %w", err)
	}

	// Change detection. A file whose content hash matches the last indexed
	// hash is skipped; its symbols come back via the persisted index. Files
	// without readable bytes (tree-only workflows) re-index every run.
	hashes := make(map[string]string, len(sources))
	current := make(map[string]bool, len(sources))
	var toParse []Source
	for _, src := range sources {
		current[src.Path] = true
		h := fileHash(src.Path)
		hashes[src.Path] = h
		if h != "" {
			if prev, ok := known[src.Path]; ok && prev.Hash == h {
				res.Stats.FilesSkipped++
				continue
			}
		}
		toParse = append(toParse, src)
	}

	var removed []string
	for path := range known {
		if !current[path] {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		if err := e.store.DeleteFileData(ctx, removed); err != nil {
			return nil, fmt.Errorf("sweep removed files: %w", err)
		}
		e.mirrorDo(log, "sweep removed files", &res.Stats, func(g store.Gateway) error {
			return g.DeleteFileData(ctx, removed)
		})
		res.Stats.FilesRemoved = len(removed)
		log.Info("swept removed files", "count", len(removed))
	}

	pctx, pspan := telemetry.Tracer().Start(ctx, "trellis.build.parse")
	pspan.SetAttributes(attribute.Int("files", len(toParse)))
	parsed, pstats, err := e.coord.ParseAll(pctx, toParse, e.workers)
	pspan.End()
	if err != nil {
		return nil, err
	}
	res.Stats.FilesIndexed = pstats.Parsed
	res.Stats.FilesFailed = pstats.Failed
	res.Stats.TotalLines = pstats.Lines
	for _, r := range parsed {
		if r.Err != nil {
			res.Failures = append(res.Failures, r)
		}
	}

	ectx, espan := telemetry.Tracer().Start(ctx, "trellis.build.extract")
	extractions, err := extractAll(ectx, parsed, e.workers, log)
	espan.End()
	if err != nil {
		return nil, err
	}
	for _, ex := range extractions {
		res.Stats.Violations += len(ex.violations)
	}

	// Changed files shed their previous graph before the new version lands.
	// Nodes that survive by ID are kept in place; edges from other files
	// into vanished nodes demote to unresolved references.
	for _, ex := range extractions {
		if _, ok := known[ex.path]; !ok {
			continue
		}
		keep := make([]string, 0, len(ex.nodes))
		for _, n := range ex.nodes {
			keep = append(keep, n.ID)
		}
		if err := e.store.SupersedeFile(ctx, ex.path, keep); err != nil {
			return nil, fmt.Errorf("supersede %s: %w", ex.path, err)
		}
		e.mirrorDo(log, "supersede file", &res.Stats, func(g store.Gateway) error {
			return g.DeleteFileData(ctx, []string{ex.path})
		})
	}

	_, mspan := telemetry.Tracer().Start(ctx, "trellis.build.merge")
	persisted, err := e.store.SymbolIndex()
	if err != nil {
		mspan.End()
		return nil, fmt.Errorf("load symbol index: %w", err)
	}
	table := mergeSymbols(extractions, persisted)
	mspan.SetAttributes(attribute.Int("symbols", table.Len()))
	mspan.End()
	log.Debug("symbol table frozen", "symbols", table.Len())

	groups := make([][]pendingRef, 0, len(extractions)+1)
	for _, ex := range extractions {
		if len(ex.pending) > 0 {
			groups = append(groups, ex.pending)
		}
	}
	stored, err := e.pendingFromStore(extractions)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		groups = append(groups, stored)
	}

	rctx, rspan := telemetry.Tracer().Start(ctx, "trellis.build.resolve")
	resv, err := resolvePending(rctx, table, groups, e.workers)
	rspan.End()
	if err != nil {
		return nil, err
	}
	for _, row := range resv.leftover {
		if row.Reason == schema.ReasonExternal {
			res.Stats.External++
		} else {
			res.Stats.Unresolved++
		}
	}
	res.Stats.Promoted = len(resv.promoted)

	wctx, wspan := telemetry.Tracer().Start(ctx, "trellis.build.persist")
	failedFiles, err := e.persistGraph(wctx, log, extractions, resv.rels, &res.Stats)
	wspan.End()
	if err != nil {
		res.Duration = time.Since(started)
		return res, err
	}

	if err := e.store.DeleteUnresolvedByIDs(ctx, resv.promoted); err != nil {
		return res, fmt.Errorf("clear promoted references: %w", err)
	}
	var insert []*store.UnresolvedRow
	for _, row := range resv.leftover {
		if row.ID == 0 {
			insert = append(insert, row)
		}
	}
	if err := e.store.InsertUnresolved(ctx, insert); err != nil {
		return res, fmt.Errorf("record unresolved references: %w", err)
	}
	telemetry.UnresolvedReferences.Set(float64(res.Stats.Unresolved + res.Stats.External))

	now := time.Now()
	var infos []*store.FileInfo
	for _, ex := range extractions {
		if failedFiles[ex.path] {
			continue
		}
		infos = append(infos, &store.FileInfo{
			Path:        ex.path,
			Language:    ex.language,
			Hash:        hashes[ex.path],
			Lines:       ex.lines,
			LastIndexed: now,
		})
	}
	if err := e.store.RecordFiles(ctx, infos); err != nil {
		return res, fmt.Errorf("record files: %w", err)
	}

	rec := &store.BuildRecord{
		RunID:         res.RunID,
		StartedAt:     started,
		FinishedAt:    time.Now(),
		FilesIndexed:  res.Stats.FilesIndexed,
		FilesFailed:   res.Stats.FilesFailed,
		FilesSkipped:  res.Stats.FilesSkipped,
		TotalLines:    res.Stats.TotalLines,
		Nodes:         res.Stats.Nodes,
		Edges:         res.Stats.Edges,
		Unresolved:    res.Stats.Unresolved,
		External:      res.Stats.External,
		Violations:    res.Stats.Violations,
		FailedBatches: res.Stats.BatchesFailed,
	}
	if err := e.store.PublishBuild(ctx, rec); err != nil {
		return res, fmt.Errorf("publish build: %w", err)
	}
	res.Generation = rec.Generation
	e.mirrorDo(log, "publish build", &res.Stats, func(g store.Gateway) error {
		return g.PublishBuild(ctx, rec)
	})

	res.Duration = time.Since(started)
	telemetry.BuildDuration.Observe(res.Duration.Seconds())
	log.Info("build complete",
		"generation", res.Generation,
		"files", res.Stats.FilesIndexed,
		"failed", res.Stats.FilesFailed,
		"skipped", res.Stats.FilesSkipped,
		"removed", res.Stats.FilesRemoved,
		"nodes", res.Stats.Nodes,
		"edges", res.Stats.Edges,
		"unresolved", res.Stats.Unresolved,
		"external", res.Stats.External,
		"duration", res.Duration)
	return res, nil
}

// persistGraph writes all nodes, then all edges, in bounded batches. Nodes
// go first so edge foreign keys land on existing rows. A failed batch is
// dropped after retries; the files it touched are reported back so their
// bookkeeping is withheld and the next build retries them.
func (e *Engine) persistGraph(ctx context.Context, log *slog.Logger, extractions []*extraction, resolved []*schema.Relationship, stats *BuildStats) (map[string]bool, error) {
	var nodes []*schema.Node
	idToFile := make(map[string]string)
	seenID := make(map[string]bool)
	for _, ex := range extractions {
		for _, n := range ex.nodes {
			if n.FilePath != "" {
				idToFile[n.ID] = n.FilePath
			}
			if seenID[n.ID] {
				continue
			}
			seenID[n.ID] = true
			nodes = append(nodes, n)
		}
	}
	var edges []*schema.Relationship
	for _, ex := range extractions {
		edges = append(edges, ex.rels...)
	}
	edges = append(edges, resolved...)

	failedFiles := make(map[string]bool)
	total, committed := 0, 0

	for batch := range slices.Chunk(nodes, e.batchSize) {
		total++
		bstats, err := e.store.UpsertBatch(ctx, batch, nil)
		if bstats != nil && bstats.Attempts > 1 {
			telemetry.BatchRetries.Add(float64(bstats.Attempts - 1))
		}
		if err != nil {
			stats.BatchesFailed++
			telemetry.BatchesFailed.Inc()
			for _, n := range batch {
				if n.FilePath != "" {
					failedFiles[n.FilePath] = true
				}
			}
			log.Error("node batch lost", "batch", total, "size", len(batch), "error", err)
			continue
		}
		committed++
		stats.Nodes += bstats.Nodes
		telemetry.NodesUpserted.Add(float64(bstats.Nodes))
		e.mirrorDo(log, "upsert nodes", stats, func(g store.Gateway) error {
			_, merr := g.UpsertBatch(ctx, batch, nil)
			return merr
		})
	}

	for batch := range slices.Chunk(edges, e.batchSize) {
		total++
		bstats, err := e.store.UpsertBatch(ctx, nil, batch)
		if bstats != nil && bstats.Attempts > 1 {
			telemetry.BatchRetries.Add(float64(bstats.Attempts - 1))
		}
		if err != nil {
			stats.BatchesFailed++
			telemetry.BatchesFailed.Inc()
			for _, r := range batch {
				if f := idToFile[r.SourceID]; f != "" {
					failedFiles[f] = true
				}
			}
			log.Error("edge batch lost", "batch", total, "size", len(batch), "error", err)
			continue
		}
		committed++
		stats.Edges += bstats.Edges
		telemetry.EdgesUpserted.Add(float64(bstats.Edges))
		e.mirrorDo(log, "upsert edges", stats, func(g store.Gateway) error {
			_, merr := g.UpsertBatch(ctx, nil, batch)
			return merr
		})
	}

	stats.BatchesCommitted = committed
	if total > 0 && committed == 0 {
		return failedFiles, fmt.Errorf("%w: all %d batches lost", ErrBuildFailed, total)
	}
	return failedFiles, nil
}

// pendingFromStore loads persisted unresolved references for the
// resolution sweep. Rows from files re-extracted this run are skipped
// since extraction re-derived them, as are rows whose source node no
// longer exists.
func (e *Engine) pendingFromStore(fresh []*extraction) ([]pendingRef, error) {
	rows, err := e.store.Unresolved()
	if err != nil {
		return nil, fmt.Errorf("load unresolved references: %w", err)
	}
	freshFiles := make(map[string]bool, len(fresh))
	for _, ex := range fresh {
		freshFiles[ex.path] = true
	}
	var out []pendingRef
	for _, row := range rows {
		if freshFiles[row.SourceFile] || row.SourceKind == "" {
			continue
		}
		out = append(out, pendingRef{
			rowID:      row.ID,
			sourceID:   row.SourceID,
			sourceKind: row.SourceKind,
			sourceFile: row.SourceFile,
			target:     row.TargetName,
			kind:       row.Kind,
			line:       row.Line,
		})
	}
	return out, nil
}

// mirrorDo applies one operation to the mirror, if any. The SQLite store
// is the source of truth; mirror failures are logged and counted, never
// fatal.
func (e *Engine) mirrorDo(log *slog.Logger, op string, stats *BuildStats, fn func(store.Gateway) error) {
	if e.mirror == nil {
		return
	}
	if err := fn(e.mirror); err != nil {
		stats.MirrorErrors++
		log.Warn("mirror write failed", "op", op, "error", err)
	}
}

// fileHash is the content hash behind change detection. Unreadable files
// hash to "", which always re-indexes.
func fileHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jward/trellis"
	"github.com/jward/trellis/internal/logging"
	"github.com/jward/trellis/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	flagTrees       string
	flagWorkers     int
	flagMetricsAddr string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the code graph from a directory of tree files",
	Long:  "Loads every parse tree under --trees, indexes the declarations and relationships into the graph database, and resolves cross-file references.",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&flagTrees, "trees", "", "directory of parse tree JSON files (required)")
	buildCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parse workers (default: config, then GOMAXPROCS)")
	buildCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address during the build")
	_ = buildCmd.MarkFlagRequired("trees")
}

func runBuild(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx := context.Background()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)

	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return err
	}
	dbPath := resolveDBPath(repoRoot, cfg)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	opts := []trellis.Option{
		trellis.WithLogger(logger),
		trellis.WithBatchSize(cfg.BatchSize),
		trellis.WithMaxCycles(cfg.MaxCycles),
	}
	workers := flagWorkers
	if workers == 0 {
		workers = cfg.Workers
	}
	if workers > 0 {
		opts = append(opts, trellis.WithWorkers(workers))
	}
	if cfg.Mirror.Neo4j.Enabled() {
		mirror, err := trellis.NewNeo4jMirror(ctx, cfg.Mirror.Neo4j.URI, cfg.Mirror.Neo4j.User, cfg.Mirror.Neo4j.Password)
		if err != nil {
			return fmt.Errorf("connecting neo4j mirror: %w", err)
		}
		opts = append(opts, trellis.WithMirror(mirror))
	}

	metricsAddr := flagMetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		srv := telemetry.Serve(metricsAddr)
		defer srv.Close()
	}

	dirs, sources, err := trellis.ScanTreeDir(flagTrees)
	if err != nil {
		return err
	}
	dirs, sources = filterLanguages(dirs, sources, cfg.Languages)
	if len(sources) == 0 {
		return fmt.Errorf("no tree files found under %s", flagTrees)
	}

	engine, err := trellis.New(dbPath, opts...)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer engine.Close()

	for _, td := range dirs {
		engine.Register(td)
	}

	res, err := engine.Build(ctx, sources)
	if err != nil {
		return fmt.Errorf("building graph: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Indexed %d files (%d failed, %d skipped) in %s\n",
		res.Stats.FilesIndexed, res.Stats.FilesFailed, res.Stats.FilesSkipped,
		time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Graph: %d nodes, %d edges (generation %d)\n",
		res.Stats.Nodes, res.Stats.Edges, res.Generation)
	if res.Stats.Unresolved > 0 || res.Stats.Violations > 0 {
		fmt.Fprintf(os.Stderr, "Unresolved references: %d, schema violations: %d\n",
			res.Stats.Unresolved, res.Stats.Violations)
	}
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)

	return nil
}

// filterLanguages drops tree dirs and sources outside the configured
// language set. An empty set keeps everything.
func filterLanguages(dirs []*trellis.TreeDir, sources []trellis.Source, languages []string) ([]*trellis.TreeDir, []trellis.Source) {
	if len(languages) == 0 {
		return dirs, sources
	}
	keep := make(map[string]bool, len(languages))
	for _, l := range languages {
		keep[l] = true
	}
	outDirs := dirs[:0]
	for _, td := range dirs {
		if keep[td.Language()] {
			outDirs = append(outDirs, td)
		}
	}
	outSources := sources[:0]
	for _, src := range sources {
		if keep[src.Language] {
			outSources = append(outSources, src)
		}
	}
	return outDirs, outSources
}

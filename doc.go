// Package trellis builds a queryable knowledge graph of source code. It
// turns per-language parse trees into one canonical property graph of
// files, packages, types and callables connected by containment, call,
// import and inheritance edges, persisted idempotently in SQLite.
//
// # Pipeline
//
// A build runs in two passes over a parse barrier:
//
//  1. Extract: changed files are parsed by their language adapters and
//     converted to nodes and edges in parallel. References that resolve
//     inside their own file become edges immediately; the rest are kept
//     as unresolved references.
//
//  2. Resolve: after every file is extracted, the per-file symbols merge
//     with the persisted index into one frozen symbol table, and the
//     pending references are resolved against it in parallel. What still
//     fails is classified external, ambiguous or missing and carried in
//     statistics rather than dropped.
//
// Persistence is batched, transactional and idempotent: node IDs are
// deterministic, so rebuilding unchanged source writes the same graph.
//
// # Usage
//
// Create an Engine, register adapters, build, then query:
//
//	e, err := trellis.New(".trellis/graph.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	e.Register(javaAdapter)
//
//	res, err := e.Build(ctx, sources)
//
//	q := e.Query()
//	symbols, err := q.SymbolsInFile("src/billing/Invoice.java")
//
// # Query API
//
// The [QueryEngine] returned by [Engine.Query] provides five operations:
//
//   - [QueryEngine.SymbolsInFile]: every declaration a file contains,
//     directly or nested.
//   - [QueryEngine.CallersOf]: who calls this function, one hop.
//   - [QueryEngine.CalleesOf]: what this function calls, one hop.
//   - [QueryEngine.InheritanceChain]: a type's ancestry, root to leaf.
//   - [QueryEngine.ImportGraph]: the file and package import structure.
//
// Unknown anchors return a [NotFoundError], checkable with [IsNotFound];
// a known anchor with nothing to report returns an empty slice.
//
// # Analysis
//
// [Engine.Analyze] runs the architectural checks over the built graph:
// dependency cycle detection over the import structure and unused public
// symbol detection over call and type-use edges. Findings are advisory.
//
// # Incremental Builds
//
// [Engine.Build] skips files whose content hash is unchanged, sweeps
// files that disappeared from the source set, and re-resolves previously
// unresolved references whenever new symbols arrive. Each published build
// advances a generation counter that query views pin; [QueryEngine.Stale]
// reports drift.
//
// # Adapters
//
// Language syntax lives entirely outside the engine, behind [Adapter].
// An adapter parses one language into canonical [ParseTree] values; the
// engine never inspects language-specific constructs. Out-of-process
// parsers can hand trees over as JSON files instead, loaded through
// [ScanTreeDir].
package trellis

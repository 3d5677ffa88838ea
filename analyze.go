package trellis

import (
	"context"
	"fmt"
	"time"

	"github.com/jward/trellis/internal/telemetry"
)

// DefaultMaxCycles caps how many dependency cycles one analysis reports.
const DefaultMaxCycles = 100

// unusedLimitation qualifies every unused finding. Static edges cannot see
// dynamic dispatch.
const unusedLimitation = "advisory: usage through reflection, dependency injection or string-based invocation is not detected"

// Cycle is one dependency loop described by qualified names, rotated so
// the lexicographically smallest member comes first. SelfImport marks a
// length-1 loop.
type Cycle struct {
	Members    []string
	SelfImport bool
}

// UnusedSymbol flags a public declaration with no usage edge arriving from
// outside its own file. Note always carries the detection limitation.
type UnusedSymbol struct {
	Node *Node
	Note string
}

// AnalysisStats counts what analysis looked at and found.
type AnalysisStats struct {
	GraphNodes      int
	GraphEdges      int
	Cycles          int
	CyclesTruncated bool
	PublicSymbols   int
	Unused          int
}

// AnalysisResult is the outcome of one analysis run. All findings are
// advisory; nothing here fails a build.
type AnalysisResult struct {
	Scope         string
	Cycles        []Cycle
	UnusedSymbols []UnusedSymbol
	Stats         AnalysisStats
	Duration      time.Duration
}

// CycleNote explains a truncated cycle list, or returns "".
func (r *AnalysisResult) CycleNote() string {
	if !r.Stats.CyclesTruncated {
		return ""
	}
	return fmt.Sprintf("%d+ cycles found, showing first %d", len(r.Cycles), len(r.Cycles))
}

// Analyze runs the architectural checks over the persisted graph, in
// order: the import structure, dependency cycles within it, then unused
// public symbols. A non-empty scope restricts analysis to files under the
// given path or package prefix.
func (e *Engine) Analyze(ctx context.Context, scope string) (*AnalysisResult, error) {
	started := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "trellis.analyze")
	defer span.End()

	res := &AnalysisResult{Scope: scope}

	graph, err := NewQueryEngine(e.store).ImportGraph(scope)
	if err != nil {
		return nil, err
	}
	res.Stats.GraphNodes, res.Stats.GraphEdges = graph.Size()

	res.Cycles, res.Stats.CyclesTruncated = findCycles(graph, e.maxCycles)
	res.Stats.Cycles = len(res.Cycles)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unused, publicCount, err := findUnused(e.store, scope)
	if err != nil {
		return nil, err
	}
	res.UnusedSymbols = unused
	res.Stats.PublicSymbols = publicCount
	res.Stats.Unused = len(unused)

	res.Duration = time.Since(started)
	e.logger.Info("analysis complete",
		"scope", scope,
		"nodes", res.Stats.GraphNodes,
		"edges", res.Stats.GraphEdges,
		"cycles", res.Stats.Cycles,
		"unused", res.Stats.Unused,
		"duration", res.Duration)
	return res, nil
}

package main

import (
	"time"

	"github.com/jward/trellis"
	"github.com/jward/trellis/internal/store"
)

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLINode is a JSON-friendly graph node.
type CLINode struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	Visibility    string `json:"visibility,omitempty"`
	File          string `json:"file,omitempty"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
	Signature     string `json:"signature,omitempty"`
	Language      string `json:"language,omitempty"`
}

// CLIGraph is a JSON-friendly import graph.
type CLIGraph struct {
	Nodes []CLINode      `json:"nodes"`
	Edges []CLIGraphEdge `json:"edges"`
}

// CLIGraphEdge is one import edge, endpoints by qualified name.
type CLIGraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CLICycle is one circular dependency.
type CLICycle struct {
	Files      []string `json:"files"`
	SelfImport bool     `json:"self_import,omitempty"`
}

// CLIUnused is one unused public symbol finding.
type CLIUnused struct {
	Symbol CLINode `json:"symbol"`
	Note   string  `json:"note"`
}

// CLIAnalysisStats counts what analysis looked at and found.
type CLIAnalysisStats struct {
	GraphNodes      int  `json:"graph_nodes"`
	GraphEdges      int  `json:"graph_edges"`
	Cycles          int  `json:"cycles"`
	CyclesTruncated bool `json:"cycles_truncated,omitempty"`
	PublicSymbols   int  `json:"public_symbols"`
	Unused          int  `json:"unused"`
}

// CLIAnalysis is the full analyze output.
type CLIAnalysis struct {
	Scope  string           `json:"scope,omitempty"`
	Cycles []CLICycle       `json:"cycles"`
	Unused []CLIUnused      `json:"unused"`
	Note   string           `json:"note,omitempty"`
	Stats  CLIAnalysisStats `json:"stats"`
}

// CLIBuild is one recorded build run.
type CLIBuild struct {
	RunID        string    `json:"run_id"`
	Generation   int64     `json:"generation"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	FilesIndexed int       `json:"files_indexed"`
	FilesFailed  int       `json:"files_failed"`
	FilesSkipped int       `json:"files_skipped"`
	Nodes        int       `json:"nodes"`
	Edges        int       `json:"edges"`
	Unresolved   int       `json:"unresolved"`
}

// CLIStats is the graph-wide stats output.
type CLIStats struct {
	Generation int64          `json:"generation"`
	NodeCounts map[string]int `json:"node_counts"`
	EdgeCounts map[string]int `json:"edge_counts"`
	LastBuild  *CLIBuild      `json:"last_build,omitempty"`
}

// nodeToCLI converts a trellis.Node to a CLINode.
func nodeToCLI(n *trellis.Node) CLINode {
	return CLINode{
		ID:            n.ID,
		Name:          n.Name,
		QualifiedName: n.QualifiedName,
		Kind:          string(n.Kind),
		Visibility:    string(n.Visibility),
		File:          n.FilePath,
		StartLine:     n.StartLine,
		EndLine:       n.EndLine,
		Signature:     n.Signature,
		Language:      n.Language,
	}
}

func nodesToCLI(nodes []*trellis.Node) []CLINode {
	out := make([]CLINode, len(nodes))
	for i, n := range nodes {
		out[i] = nodeToCLI(n)
	}
	return out
}

func graphToCLI(g *trellis.DirectedGraph) CLIGraph {
	nodes := g.Nodes()
	cli := CLIGraph{Nodes: nodesToCLI(nodes)}
	for _, n := range nodes {
		for _, target := range g.Neighbors(n.ID) {
			to := target
			if tn := g.Node(target); tn != nil {
				to = tn.QualifiedName
			}
			cli.Edges = append(cli.Edges, CLIGraphEdge{From: n.QualifiedName, To: to})
		}
	}
	return cli
}

func analysisToCLI(res *trellis.AnalysisResult) CLIAnalysis {
	cli := CLIAnalysis{
		Scope:  res.Scope,
		Cycles: make([]CLICycle, len(res.Cycles)),
		Unused: make([]CLIUnused, len(res.UnusedSymbols)),
		Note:   res.CycleNote(),
		Stats: CLIAnalysisStats{
			GraphNodes:      res.Stats.GraphNodes,
			GraphEdges:      res.Stats.GraphEdges,
			Cycles:          res.Stats.Cycles,
			CyclesTruncated: res.Stats.CyclesTruncated,
			PublicSymbols:   res.Stats.PublicSymbols,
			Unused:          res.Stats.Unused,
		},
	}
	for i, c := range res.Cycles {
		cli.Cycles[i] = CLICycle{Files: c.Members, SelfImport: c.SelfImport}
	}
	for i, u := range res.UnusedSymbols {
		cli.Unused[i] = CLIUnused{Symbol: nodeToCLI(u.Node), Note: u.Note}
	}
	return cli
}

func buildToCLI(rec *store.BuildRecord) *CLIBuild {
	if rec == nil {
		return nil
	}
	return &CLIBuild{
		RunID:        rec.RunID,
		Generation:   rec.Generation,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		FilesIndexed: rec.FilesIndexed,
		FilesFailed:  rec.FilesFailed,
		FilesSkipped: rec.FilesSkipped,
		Nodes:        rec.Nodes,
		Edges:        rec.Edges,
		Unresolved:   rec.Unresolved,
	}
}

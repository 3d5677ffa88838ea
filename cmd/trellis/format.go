package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

// formatNodesText formats CLINode results as aligned columns.
func formatNodesText(w io.Writer, nodes []CLINode) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUALIFIED NAME\tKIND\tVISIBILITY\tFILE\tLINES")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d-%d\n",
			n.QualifiedName, n.Kind, n.Visibility, n.File, n.StartLine, n.EndLine)
	}
	tw.Flush()
}

// formatGraphText formats an import graph as one edge per line.
func formatGraphText(w io.Writer, g CLIGraph) {
	fmt.Fprintf(w, "%d files, %d imports\n", len(g.Nodes), len(g.Edges))
	for _, e := range g.Edges {
		fmt.Fprintf(w, "%s -> %s\n", e.From, e.To)
	}
}

// formatAnalysisText formats analysis findings as readable text.
func formatAnalysisText(w io.Writer, a CLIAnalysis) {
	fmt.Fprintf(w, "Analyzed %d files, %d imports, %d public symbols\n",
		a.Stats.GraphNodes, a.Stats.GraphEdges, a.Stats.PublicSymbols)

	fmt.Fprintf(w, "\nCycles: %d\n", a.Stats.Cycles)
	for i, c := range a.Cycles {
		if c.SelfImport {
			fmt.Fprintf(w, "  %d. %s imports itself\n", i+1, c.Files[0])
			continue
		}
		fmt.Fprintf(w, "  %d. %s\n", i+1, strings.Join(c.Files, " -> "))
	}
	if a.Note != "" {
		fmt.Fprintf(w, "  (%s)\n", a.Note)
	}

	fmt.Fprintf(w, "\nUnused public symbols: %d\n", a.Stats.Unused)
	if len(a.Unused) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, u := range a.Unused {
			fmt.Fprintf(tw, "  %s\t%s\t%s:%d\n",
				u.Symbol.QualifiedName, u.Symbol.Kind, u.Symbol.File, u.Symbol.StartLine)
		}
		tw.Flush()
		fmt.Fprintf(w, "  Note: %s\n", a.Unused[0].Note)
	}
}

// formatStatsText formats graph stats as readable text.
func formatStatsText(w io.Writer, s CLIStats) {
	fmt.Fprintf(w, "Generation: %d\n", s.Generation)

	fmt.Fprintln(w, "\nNodes:")
	writeCounts(w, s.NodeCounts)
	fmt.Fprintln(w, "\nEdges:")
	writeCounts(w, s.EdgeCounts)

	if s.LastBuild != nil {
		b := s.LastBuild
		fmt.Fprintf(w, "\nLast build: %s\n", b.RunID)
		fmt.Fprintf(w, "  Finished: %s\n", b.FinishedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "  Files: %d indexed, %d failed, %d skipped\n",
			b.FilesIndexed, b.FilesFailed, b.FilesSkipped)
		fmt.Fprintf(w, "  Wrote: %d nodes, %d edges, %d unresolved\n",
			b.Nodes, b.Edges, b.Unresolved)
	}
}

func writeCounts(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	total := 0
	for k, n := range counts {
		keys = append(keys, k)
		total += n
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, counts[k])
	}
	fmt.Fprintf(w, "  total: %d\n", total)
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case []CLINode:
		formatNodesText(w, v)
	case CLIGraph:
		formatGraphText(w, v)
	case CLIAnalysis:
		formatAnalysisText(w, v)
	case CLIStats:
		formatStatsText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

package main

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph-wide counts and the last build",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return outputError("stats", err)
	}
	defer e.Close()

	s := e.Store()
	gen, err := s.Generation()
	if err != nil {
		return outputError("stats", err)
	}
	nodes, err := s.NodeCounts()
	if err != nil {
		return outputError("stats", err)
	}
	edges, err := s.EdgeCounts()
	if err != nil {
		return outputError("stats", err)
	}
	last, err := s.LastBuild()
	if err != nil {
		return outputError("stats", err)
	}

	return outputResult(CLIResult{
		Command: "stats",
		Results: CLIStats{
			Generation: gen,
			NodeCounts: nodes,
			EdgeCounts: edges,
			LastBuild:  buildToCLI(last),
		},
	})
}

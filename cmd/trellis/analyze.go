package main

import (
	"context"

	"github.com/jward/trellis"
	"github.com/spf13/cobra"
)

var flagMaxCycles int

var analyzeCmd = &cobra.Command{
	Use:   "analyze [scope]",
	Short: "Detect dependency cycles and unused public symbols",
	Long:  "Walks the import graph for circular dependencies and flags public symbols with no usage from outside their own file. Findings are advisory.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&flagMaxCycles, "max-cycles", 0, "cycle report cap (default: config)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	var opts []trellis.Option
	if flagMaxCycles > 0 {
		opts = append(opts, trellis.WithMaxCycles(flagMaxCycles))
	}
	e, err := openEngine(opts...)
	if err != nil {
		return outputError("analyze", err)
	}
	defer e.Close()

	scope := ""
	if len(args) > 0 {
		scope = args[0]
	}
	res, err := e.Analyze(context.Background(), scope)
	if err != nil {
		return outputError("analyze", err)
	}

	return outputResult(CLIResult{
		Command: "analyze",
		Results: analysisToCLI(res),
	})
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jward/trellis"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the code graph",
	Long:  "Run read queries against a built graph. Symbols are addressed by qualified name, files by the path they were indexed under.",
}

func init() {
	queryCmd.AddCommand(fileCmd)
	queryCmd.AddCommand(callersCmd)
	queryCmd.AddCommand(calleesCmd)
	queryCmd.AddCommand(inheritsCmd)
	queryCmd.AddCommand(importsCmd)
}

// --- Helpers ---

// openEngine opens the engine on the database from --db (or default). Read
// commands require a previous build. Caller options are applied after the
// config-derived ones, so flags win.
func openEngine(opts ...trellis.Option) (*trellis.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)
	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return nil, err
	}
	dbPath := resolveDBPath(repoRoot, cfg)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'trellis build' first)", dbPath)
	}

	all := append([]trellis.Option{trellis.WithMaxCycles(cfg.MaxCycles)}, opts...)
	return trellis.New(dbPath, all...)
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// --- Commands ---

var fileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "List the symbols declared in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFile,
}

func runFile(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return outputError("file", err)
	}
	defer e.Close()

	symbols, err := e.Query().SymbolsInFile(args[0])
	if err != nil {
		return outputError("file", err)
	}

	count := len(symbols)
	return outputResult(CLIResult{
		Command:    "file",
		Results:    nodesToCLI(symbols),
		TotalCount: &count,
	})
}

var callersCmd = &cobra.Command{
	Use:   "callers <qualified-name>",
	Short: "Find everything that calls a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallers,
}

func runCallers(cmd *cobra.Command, args []string) error {
	return runCallQuery("callers", args[0], (*trellis.QueryEngine).CallersOf)
}

var calleesCmd = &cobra.Command{
	Use:   "callees <qualified-name>",
	Short: "Find everything a symbol calls",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallees,
}

func runCallees(cmd *cobra.Command, args []string) error {
	return runCallQuery("callees", args[0], (*trellis.QueryEngine).CalleesOf)
}

func runCallQuery(command, qualifiedName string, hop func(*trellis.QueryEngine, string) ([]*trellis.Node, error)) error {
	e, err := openEngine()
	if err != nil {
		return outputError(command, err)
	}
	defer e.Close()

	nodes, err := hop(e.Query(), qualifiedName)
	if err != nil {
		return outputError(command, err)
	}

	count := len(nodes)
	return outputResult(CLIResult{
		Command:    command,
		Results:    nodesToCLI(nodes),
		TotalCount: &count,
	})
}

var inheritsCmd = &cobra.Command{
	Use:   "inherits <qualified-name>",
	Short: "Show a type's inheritance chain, root first",
	Args:  cobra.ExactArgs(1),
	RunE:  runInherits,
}

func runInherits(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return outputError("inherits", err)
	}
	defer e.Close()

	chain, err := e.Query().InheritanceChain(args[0])
	if err != nil {
		return outputError("inherits", err)
	}

	count := len(chain)
	return outputResult(CLIResult{
		Command:    "inherits",
		Results:    nodesToCLI(chain),
		TotalCount: &count,
	})
}

var importsCmd = &cobra.Command{
	Use:   "imports [scope]",
	Short: "Show the import graph, optionally scoped to a path or package prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImports,
}

func runImports(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return outputError("imports", err)
	}
	defer e.Close()

	scope := ""
	if len(args) > 0 {
		scope = args[0]
	}
	graph, err := e.Query().ImportGraph(scope)
	if err != nil {
		return outputError("imports", err)
	}

	return outputResult(CLIResult{
		Command: "imports",
		Results: graphToCLI(graph),
	})
}

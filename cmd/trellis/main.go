package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jward/trellis/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagDB     string
	flagConfig string
	flagFormat string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "trellis",
	Short:         "Code knowledge graph engine",
	Long:          "Trellis turns pre-parsed source trees into a queryable code knowledge graph, backed by a SQLite database of declarations and their structural relationships.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .trellis/graph.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .trellis.yaml at repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadConfig reads the config file named by --config, or .trellis.yaml at
// the repo root. A missing file yields the embedded defaults.
func loadConfig(repoRoot string) (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = filepath.Join(repoRoot, ".trellis.yaml")
	}
	return config.Load(path)
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .git.
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag, the config,
// or the default, relative paths anchored at the repo root.
func resolveDBPath(repoRoot string, cfg *config.Config) string {
	path := flagDB
	if path == "" {
		path = cfg.DB
	}
	if path == "" {
		path = filepath.Join(".trellis", "graph.db")
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}

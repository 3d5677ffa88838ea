package trellis

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Tree files decouple parsing from indexing. A parser running anywhere, in
// any language, writes one JSON document per source file; the engine loads
// a directory of them through [ScanTreeDir] and indexes the result exactly
// as if an in-process [Adapter] had produced the trees.

// WriteTreeFile marshals one parse tree to path as indented JSON.
func WriteTreeFile(path string, tree *ParseTree) error {
	if err := validateTree(tree); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tree %s: %w", tree.Path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write tree file: %w", err)
	}
	return nil
}

// ReadTreeFile loads and validates one tree file.
func ReadTreeFile(path string) (*ParseTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree file: %w", err)
	}
	var tree ParseTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode tree file %s: %w", path, err)
	}
	if err := validateTree(&tree); err != nil {
		return nil, fmt.Errorf("tree file %s: %w", path, err)
	}
	return &tree, nil
}

func validateTree(tree *ParseTree) error {
	if tree == nil {
		return fmt.Errorf("nil tree")
	}
	if tree.Path == "" {
		return fmt.Errorf("tree missing source path")
	}
	if tree.Language == "" {
		return fmt.Errorf("tree for %s missing language", tree.Path)
	}
	if tree.Lines < 0 {
		return fmt.Errorf("tree for %s has negative line count", tree.Path)
	}
	return nil
}

// TreeDir serves pre-parsed trees for one language. It satisfies [Adapter],
// so a directory of tree files plugs into the engine like any parser.
type TreeDir struct {
	language string
	byPath   map[string]*ParseTree
}

func (d *TreeDir) Language() string { return d.language }

func (d *TreeDir) Parse(path string) (*ParseTree, error) {
	tree, ok := d.byPath[path]
	if !ok {
		return nil, fmt.Errorf("no tree loaded for %s", path)
	}
	return tree, nil
}

// ScanTreeDir loads every *.json tree file under dir and groups the trees
// by language. It returns one TreeDir per language plus the source list to
// feed the build. A tree file that cannot be read or decoded fails the scan
// outright; a broken tree file means broken tooling upstream, not a broken
// source file.
func ScanTreeDir(dir string) ([]*TreeDir, []Source, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan tree dir: %w", err)
	}
	sort.Strings(paths)

	byLang := make(map[string]*TreeDir)
	seen := make(map[string]string) // source path -> tree file that claimed it
	var sources []Source
	for _, p := range paths {
		tree, err := ReadTreeFile(p)
		if err != nil {
			return nil, nil, err
		}
		if prev, ok := seen[tree.Path]; ok {
			return nil, nil, fmt.Errorf("tree file %s: source %s already provided by %s", p, tree.Path, prev)
		}
		seen[tree.Path] = p

		td := byLang[tree.Language]
		if td == nil {
			td = &TreeDir{language: tree.Language, byPath: make(map[string]*ParseTree)}
			byLang[tree.Language] = td
		}
		td.byPath[tree.Path] = tree
		sources = append(sources, Source{Path: tree.Path, Language: tree.Language})
	}

	dirs := make([]*TreeDir, 0, len(byLang))
	for _, td := range byLang {
		dirs = append(dirs, td)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].language < dirs[j].language })
	return dirs, sources, nil
}

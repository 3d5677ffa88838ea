package trellis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegration_FullPipeline walks the complete flow on real files:
// sources on disk, Build, the whole query surface, then an incremental
// rebuild after one file changes.
func TestIntegration_FullPipeline(t *testing.T) {
	dir := t.TempDir()
	utilPath := writeSource(t, dir, "Util.java", "class Util { void help() {} void log() {} }")
	mainPath := writeSource(t, dir, "Main.java", "class Main { void run() { Util.help(); } }")
	animalPath := writeSource(t, dir, "Animal.java", "class Animal {}")
	dogPath := writeSource(t, dir, "Dog.java", "class Dog extends Animal {}")

	mainTree := classTree(mainPath, "app", "Main",
		methodNode("run", "run()", callRef("app.Util.help", 6)))
	mainTree.Refs = []ParseRef{importRef(utilPath, 1)}

	adapter := newMemAdapter("java",
		classTree(utilPath, "app", "Util",
			methodNode("help", "help()"),
			methodNode("log", "log()")),
		mainTree,
		typeTree(animalPath, "app", "Animal", KindClass),
		typeTree(dogPath, "app", "Dog", KindClass, extendsRef("app.Animal", 3)),
	)

	e := newTestEngine(t)
	e.Register(adapter)
	ctx := context.Background()

	res, err := e.Build(ctx, srcs("java", utilPath, mainPath, animalPath, dogPath))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Generation)
	assert.Equal(t, 4, res.Stats.FilesIndexed)
	assert.Zero(t, res.Stats.FilesFailed)

	q := e.Query()

	symbols, err := q.SymbolsInFile(mainPath)
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, "app.Main", symbols[0].QualifiedName)
	assert.Equal(t, "app.Main.run", symbols[1].QualifiedName)

	callers, err := q.CallersOf("app.Util.help")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "app.Main.run", callers[0].QualifiedName)

	chain, err := q.InheritanceChain("app.Dog")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "app.Animal", chain[0].QualifiedName)
	assert.Equal(t, "app.Dog", chain[1].QualifiedName)

	graph, err := q.ImportGraph("")
	require.NoError(t, err)
	targets := graph.Neighbors(NodeID(mainPath, mainPath, KindFile))
	require.Len(t, targets, 1)

	analysis, err := e.Analyze(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, analysis.Cycles)

	counts, err := e.Store().NodeCounts()
	require.NoError(t, err)
	assert.Equal(t, 4, counts["file"])

	// One file changes; the other three are skipped on rebuild.
	writeSource(t, dir, "Main.java", "class Main { void run() { Util.help(); Util.log(); } }")
	adapter.add(func() *ParseTree {
		tree := classTree(mainPath, "app", "Main",
			methodNode("run", "run()",
				callRef("app.Util.help", 6),
				callRef("app.Util.log", 7)))
		tree.Refs = []ParseRef{importRef(utilPath, 1)}
		return tree
	}())

	res2, err := e.Build(ctx, srcs("java", utilPath, mainPath, animalPath, dogPath))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res2.Generation)
	assert.Equal(t, 1, res2.Stats.FilesIndexed)
	assert.Equal(t, 3, res2.Stats.FilesSkipped)

	stale, err := q.Stale()
	require.NoError(t, err)
	assert.True(t, stale, "query handle pinned to generation 1")

	callees, err := e.Query().CalleesOf("app.Main.run")
	require.NoError(t, err)
	require.Len(t, callees, 2)
	assert.Equal(t, "app.Util.help", callees[0].QualifiedName)
	assert.Equal(t, "app.Util.log", callees[1].QualifiedName)
}

// TestIntegration_BuildAtScale_IsolatesFailure indexes a thousand files
// with one scripted parser failure in the middle. The broken file is
// reported and skipped; every other file lands in the graph.
func TestIntegration_BuildAtScale_IsolatesFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("thousand file build")
	}

	const n = 1000
	adapter := newMemAdapter("java")
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("big/C%04d.java", i)
		paths = append(paths, path)
		if i == 500 {
			adapter.fail[path] = errors.New("scripted syntax error")
			continue
		}
		adapter.add(classTree(path, "big", fmt.Sprintf("C%04d", i),
			methodNode("work", "work()")))
	}

	e := newTestEngine(t)
	e.Register(adapter)

	res, err := e.Build(context.Background(), srcs("java", paths...))
	require.NoError(t, err)
	assert.Equal(t, 999, res.Stats.FilesIndexed)
	assert.Equal(t, 1, res.Stats.FilesFailed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "big/C0500.java", res.Failures[0].Source.Path)

	counts, err := e.Store().NodeCounts()
	require.NoError(t, err)
	assert.Equal(t, 999, counts["file"])
	assert.Equal(t, 999, counts["class"])
	assert.Equal(t, 1, counts["package"])

	q := e.Query()
	_, err = q.SymbolsInFile("big/C0500.java")
	assert.True(t, IsNotFound(err))

	symbols, err := q.SymbolsInFile("big/C0501.java")
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, "big.C0501.work", symbols[1].QualifiedName)
}

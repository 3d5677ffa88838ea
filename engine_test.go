package trellis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/schema"
	"github.com/jward/trellis/internal/store"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	e, err := New(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// memAdapter serves canned parse trees from memory. Failures and panics
// are scripted per path, so tests can exercise per-file isolation without
// a real parser.
type memAdapter struct {
	language string
	trees    map[string]*ParseTree
	fail     map[string]error
	panics   map[string]bool
}

func newMemAdapter(language string, trees ...*ParseTree) *memAdapter {
	a := &memAdapter{
		language: language,
		trees:    make(map[string]*ParseTree),
		fail:     make(map[string]error),
		panics:   make(map[string]bool),
	}
	for _, tree := range trees {
		a.trees[tree.Path] = tree
	}
	return a
}

func (a *memAdapter) add(trees ...*ParseTree) *memAdapter {
	for _, tree := range trees {
		a.trees[tree.Path] = tree
	}
	return a
}

func (a *memAdapter) Language() string { return a.language }

func (a *memAdapter) Parse(path string) (*ParseTree, error) {
	if a.panics[path] {
		panic("scripted adapter panic")
	}
	if err := a.fail[path]; err != nil {
		return nil, err
	}
	tree, ok := a.trees[path]
	if !ok {
		return nil, fmt.Errorf("no scripted tree for %s", path)
	}
	return tree, nil
}

// srcs builds the source list for a set of paths in one language.
func srcs(language string, paths ...string) []Source {
	out := make([]Source, len(paths))
	for i, p := range paths {
		out[i] = Source{Path: p, Language: language}
	}
	return out
}

// classTree declares one public class with the given members in a file.
func classTree(path, pkg, class string, members ...*ParseNode) *ParseTree {
	return &ParseTree{
		Path:     path,
		Language: "java",
		Package:  pkg,
		Lines:    40,
		Nodes: []*ParseNode{{
			Kind:       KindClass,
			Name:       class,
			Visibility: VisibilityPublic,
			StartLine:  3,
			EndLine:    40,
			Children:   members,
		}},
	}
}

func methodNode(name, signature string, refs ...ParseRef) *ParseNode {
	return &ParseNode{
		Kind:       KindMethod,
		Name:       name,
		Visibility: VisibilityPublic,
		StartLine:  5,
		EndLine:    9,
		Signature:  signature,
		Refs:       refs,
	}
}

func callRef(target string, line int) ParseRef {
	return ParseRef{Kind: RelCalls, Target: target, Line: line}
}

func importRef(target string, line int) ParseRef {
	return ParseRef{Kind: RelImports, Target: target, Line: line}
}

// writeSource creates a real file on disk so content hashing sees it.
func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Lifecycle tests ---

func TestNew_CreatesStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	e, err := New(dbPath)
	require.NoError(t, err)
	defer e.Close()

	require.NotNil(t, e.Store())

	// Migration ran: the generation is readable and zero.
	gen, err := e.Store().Generation()
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/dir/graph.db")
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	e, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestQuery_ReturnsQueryEngine(t *testing.T) {
	e := newTestEngine(t)
	require.NotNil(t, e.Query())
}

// --- Build tests ---

func TestBuild_EmptySources(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Generation)
	assert.NotEmpty(t, res.RunID)
	assert.Zero(t, res.Stats.FilesIndexed)
}

func TestBuild_UnknownLanguage(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java"))

	_, err := e.Build(context.Background(), srcs("cobol", "legacy/payroll.cbl"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAdapters)
	assert.Contains(t, err.Error(), "cobol")
}

func TestBuild_SingleFile(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java", classTree("app/Main.java", "app", "Main",
		methodNode("run", "run()", callRef("helper", 6)),
		methodNode("helper", "helper()"),
	)))

	res, err := e.Build(context.Background(), srcs("java", "app/Main.java"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Generation)
	assert.Equal(t, 1, res.Stats.FilesIndexed)
	assert.Zero(t, res.Stats.FilesFailed)
	// file + package + class + 2 methods.
	assert.Equal(t, 5, res.Stats.Nodes)
	// 4 CONTAINS plus the locally resolved run -> helper call.
	assert.Equal(t, 5, res.Stats.Edges)
	assert.Zero(t, res.Stats.Unresolved)
	assert.Zero(t, res.Stats.Violations)

	nodes, err := e.Store().NodeCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"file": 1, "package": 1, "class": 1, "method": 2}, nodes)

	edges, err := e.Store().EdgeCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"CONTAINS": 4, "CALLS": 1}, edges)
}

func TestBuild_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java", classTree("app/Main.java", "app", "Main",
		methodNode("run", "run()", callRef("helper", 6)),
		methodNode("helper", "helper()"),
	)))
	ctx := context.Background()
	sources := srcs("java", "app/Main.java")

	first, err := e.Build(ctx, sources)
	require.NoError(t, err)
	// The path has no bytes on disk, so the hash is empty and the file
	// re-indexes rather than skips.
	second, err := e.Build(ctx, sources)
	require.NoError(t, err)

	assert.Equal(t, first.Stats.Nodes, second.Stats.Nodes)
	assert.Equal(t, first.Stats.Edges, second.Stats.Edges)
	assert.Equal(t, int64(2), second.Generation)

	nodes, err := e.Store().NodeCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"file": 1, "package": 1, "class": 1, "method": 2}, nodes)

	edges, err := e.Store().EdgeCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"CONTAINS": 4, "CALLS": 1}, edges)
}

func TestBuild_SkipsUnchangedFiles(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeSource(t, dir, "Main.java", "class Main {}")
	e.Register(newMemAdapter("java", classTree(path, "app", "Main", methodNode("run", "run()"))))
	ctx := context.Background()

	first, err := e.Build(ctx, srcs("java", path))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Stats.FilesIndexed)

	second, err := e.Build(ctx, srcs("java", path))
	require.NoError(t, err)
	assert.Zero(t, second.Stats.FilesIndexed)
	assert.Equal(t, 1, second.Stats.FilesSkipped)

	// Skipped files keep their graph.
	syms, err := e.Query().SymbolsInFile(path)
	require.NoError(t, err)
	assert.Len(t, syms, 2)
}

func TestBuild_ReindexesChangedFiles(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeSource(t, dir, "Main.java", "class Main { void run() {} }")
	adapter := newMemAdapter("java", classTree(path, "app", "Main", methodNode("run", "run()")))
	e.Register(adapter)
	ctx := context.Background()

	_, err := e.Build(ctx, srcs("java", path))
	require.NoError(t, err)

	// New content on disk, new shape in the tree.
	writeSource(t, dir, "Main.java", "class Main { void run() {} void stop() {} }")
	adapter.add(classTree(path, "app", "Main",
		methodNode("run", "run()"),
		methodNode("stop", "stop()"),
	))

	res, err := e.Build(ctx, srcs("java", path))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.FilesIndexed)
	assert.Zero(t, res.Stats.FilesSkipped)

	syms, err := e.Query().SymbolsInFile(path)
	require.NoError(t, err)
	assert.Len(t, syms, 3)
}

func TestBuild_SupersedeDropsVanishedDeclarations(t *testing.T) {
	e := newTestEngine(t)
	adapter := newMemAdapter("java", classTree("app/Main.java", "app", "Main",
		methodNode("run", "run()"),
		methodNode("old", "old()"),
	))
	e.Register(adapter)
	ctx := context.Background()
	sources := srcs("java", "app/Main.java")

	_, err := e.Build(ctx, sources)
	require.NoError(t, err)

	// The next version of the file no longer declares old().
	adapter.add(classTree("app/Main.java", "app", "Main", methodNode("run", "run()")))
	_, err = e.Build(ctx, sources)
	require.NoError(t, err)

	syms, err := e.Query().SymbolsInFile("app/Main.java")
	require.NoError(t, err)
	names := make([]string, 0, len(syms))
	for _, n := range syms {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Main", "run"}, names)
}

func TestBuild_SweepsRemovedFiles(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java",
		classTree("app/Main.java", "app", "Main", methodNode("run", "run()")),
		classTree("app/Util.java", "app", "Util", methodNode("help", "help()")),
	))
	ctx := context.Background()

	_, err := e.Build(ctx, srcs("java", "app/Main.java", "app/Util.java"))
	require.NoError(t, err)

	res, err := e.Build(ctx, srcs("java", "app/Main.java"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.FilesRemoved)

	_, err = e.Query().SymbolsInFile("app/Util.java")
	assert.True(t, IsNotFound(err))

	syms, err := e.Query().SymbolsInFile("app/Main.java")
	require.NoError(t, err)
	assert.NotEmpty(t, syms)
}

func TestBuild_ParseFailureIsolation(t *testing.T) {
	e := newTestEngine(t)
	adapter := newMemAdapter("java",
		classTree("app/Good.java", "app", "Good", methodNode("run", "run()")),
		classTree("app/Fine.java", "app", "Fine", methodNode("run", "run()")),
	)
	adapter.fail["app/Broken.java"] = errors.New("unbalanced braces")
	e.Register(adapter)

	res, err := e.Build(context.Background(), srcs("java", "app/Good.java", "app/Broken.java", "app/Fine.java"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.FilesIndexed)
	assert.Equal(t, 1, res.Stats.FilesFailed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "app/Broken.java", res.Failures[0].Source.Path)

	var perr *ParseError
	require.ErrorAs(t, res.Failures[0].Err, &perr)
	assert.Equal(t, "app/Broken.java", perr.Path)

	// The failed file contributes nothing to the graph.
	_, err = e.Query().SymbolsInFile("app/Broken.java")
	assert.True(t, IsNotFound(err))

	syms, err := e.Query().SymbolsInFile("app/Good.java")
	require.NoError(t, err)
	assert.NotEmpty(t, syms)
}

func TestBuild_AdapterPanicIsolation(t *testing.T) {
	e := newTestEngine(t)
	adapter := newMemAdapter("java", classTree("app/Good.java", "app", "Good", methodNode("run", "run()")))
	adapter.panics["app/Cursed.java"] = true
	e.Register(adapter)

	res, err := e.Build(context.Background(), srcs("java", "app/Good.java", "app/Cursed.java"))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.FilesIndexed)
	assert.Equal(t, 1, res.Stats.FilesFailed)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Err.Error(), "adapter panic")
}

func TestBuild_CrossFileResolution(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java",
		classTree("app/Main.java", "app", "Main",
			methodNode("run", "run()", callRef("app.Util.help", 6)),
		),
		classTree("app/Util.java", "app", "Util",
			methodNode("help", "help()"),
		),
	))

	res, err := e.Build(context.Background(), srcs("java", "app/Main.java", "app/Util.java"))
	require.NoError(t, err)
	assert.Zero(t, res.Stats.Unresolved)

	callers, err := e.Query().CallersOf("app.Util.help")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "app.Main.run", callers[0].QualifiedName)
}

func TestBuild_UnresolvedClassification(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java",
		// Same-named class in two files makes the bare name ambiguous.
		classTree("app/a/Util.java", "app.a", "Util", methodNode("help", "help()")),
		classTree("app/b/Util.java", "app.b", "Util", methodNode("help", "help()")),
		classTree("app/Main.java", "app", "Main",
			methodNode("run", "run()",
				ParseRef{Kind: RelUsesType, Target: "java.util.List", Line: 4},
				callRef("app.Missing.frob", 5),
				ParseRef{Kind: RelUsesType, Target: "Util", Line: 6},
			),
		),
	))

	res, err := e.Build(context.Background(), srcs("java", "app/a/Util.java", "app/b/Util.java", "app/Main.java"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.External)
	assert.Equal(t, 2, res.Stats.Unresolved)

	rows, err := e.Store().Unresolved()
	require.NoError(t, err)
	reasons := make(map[string]schema.UnresolvedReason, len(rows))
	for _, r := range rows {
		reasons[r.TargetName] = r.Reason
	}
	assert.Equal(t, schema.ReasonExternal, reasons["java.util.List"])
	assert.Equal(t, schema.ReasonNotFound, reasons["app.Missing.frob"])
	assert.Equal(t, schema.ReasonAmbiguous, reasons["Util"])
}

func TestBuild_PromotesUnresolvedWhenTargetAppears(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	mainPath := writeSource(t, dir, "Main.java", "class Main {}")
	utilPath := writeSource(t, dir, "Util.java", "class Util {}")
	adapter := newMemAdapter("java",
		classTree(mainPath, "app", "Main",
			methodNode("run", "run()", callRef("app.Util.help", 6)),
		),
	)
	e.Register(adapter)
	ctx := context.Background()

	first, err := e.Build(ctx, srcs("java", mainPath))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Stats.Unresolved)

	// The target's file joins the build; Main.java is unchanged and skips,
	// so its reference comes back from the store, not from extraction.
	adapter.add(classTree(utilPath, "app", "Util", methodNode("help", "help()")))
	second, err := e.Build(ctx, srcs("java", mainPath, utilPath))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stats.FilesSkipped)
	assert.Equal(t, 1, second.Stats.Promoted)
	assert.Zero(t, second.Stats.Unresolved)

	rows, err := e.Store().Unresolved()
	require.NoError(t, err)
	assert.Empty(t, rows)

	callers, err := e.Query().CallersOf("app.Util.help")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "app.Main.run", callers[0].QualifiedName)
}

func TestBuild_DuplicateSourcesDeduped(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java", classTree("app/Main.java", "app", "Main", methodNode("run", "run()"))))

	res, err := e.Build(context.Background(), srcs("java", "app/Main.java", "app/Main.java"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.FilesIndexed)
}

func TestBuild_OverloadsGetDistinctIDs(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java", classTree("app/Box.java", "app", "Box",
		methodNode("of", "of(int)"),
		methodNode("of", "of(String)"),
	)))

	_, err := e.Build(context.Background(), srcs("java", "app/Box.java"))
	require.NoError(t, err)

	syms, err := e.Query().SymbolsInFile("app/Box.java")
	require.NoError(t, err)

	var ids []string
	for _, n := range syms {
		if n.Name == "of" {
			ids = append(ids, n.ID)
		}
	}
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	// Both members of the colliding group carry a signature discriminator.
	assert.Contains(t, ids[0], ":")
	assert.Contains(t, ids[1], ":")
}

func TestBuild_PackageNodeSharedAcrossFiles(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java",
		classTree("app/Main.java", "app", "Main", methodNode("run", "run()")),
		classTree("app/Util.java", "app", "Util", methodNode("help", "help()")),
	))

	_, err := e.Build(context.Background(), srcs("java", "app/Main.java", "app/Util.java"))
	require.NoError(t, err)

	counts, err := e.Store().NodeCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["package"])

	// Both files hang off the shared package node.
	edges, err := e.Store().EdgeCounts()
	require.NoError(t, err)
	assert.Equal(t, 6, edges["CONTAINS"])
}

func TestBuild_SchemaViolationSkipsDeclaration(t *testing.T) {
	e := newTestEngine(t)
	tree := classTree("app/Main.java", "app", "Main", methodNode("run", "run()"))
	// A method without a signature fails canonical validation.
	tree.Nodes[0].Children = append(tree.Nodes[0].Children, &ParseNode{
		Kind:       KindMethod,
		Name:       "broken",
		Visibility: VisibilityPublic,
		StartLine:  12,
		EndLine:    14,
	})
	e.Register(newMemAdapter("java", tree))

	res, err := e.Build(context.Background(), srcs("java", "app/Main.java"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Violations)

	syms, err := e.Query().SymbolsInFile("app/Main.java")
	require.NoError(t, err)
	for _, n := range syms {
		assert.NotEqual(t, "broken", n.Name)
	}
}

func TestBuild_SmallBatches(t *testing.T) {
	e := newTestEngine(t, WithBatchSize(1))
	e.Register(newMemAdapter("java", classTree("app/Main.java", "app", "Main",
		methodNode("run", "run()", callRef("helper", 6)),
		methodNode("helper", "helper()"),
	)))

	res, err := e.Build(context.Background(), srcs("java", "app/Main.java"))
	require.NoError(t, err)
	// 5 nodes and 5 edges, one per batch.
	assert.Equal(t, 10, res.Stats.BatchesCommitted)
	assert.Equal(t, 5, res.Stats.Nodes)
	assert.Equal(t, 5, res.Stats.Edges)
}

func TestBuild_ContextCanceled(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java", classTree("app/Main.java", "app", "Main", methodNode("run", "run()"))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Build(ctx, srcs("java", "app/Main.java"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_RecordsHistory(t *testing.T) {
	e := newTestEngine(t)
	e.Register(newMemAdapter("java", classTree("app/Main.java", "app", "Main", methodNode("run", "run()"))))
	ctx := context.Background()

	res, err := e.Build(ctx, srcs("java", "app/Main.java"))
	require.NoError(t, err)

	last, err := e.Store().LastBuild()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, res.RunID, last.RunID)
	assert.Equal(t, res.Generation, last.Generation)
	assert.Equal(t, 1, last.FilesIndexed)

	_, err = e.Build(ctx, srcs("java", "app/Main.java"))
	require.NoError(t, err)

	builds, err := e.Store().Builds(10)
	require.NoError(t, err)
	assert.Len(t, builds, 2)
}

// --- Mirror tests ---

// recordingGateway counts gateway calls; fail switches every call to an
// error to exercise the non-fatal mirror path.
type recordingGateway struct {
	fail      bool
	ensures   int
	upserts   int
	deletes   int
	publishes int
	closed    bool
}

func (g *recordingGateway) err() error {
	if g.fail {
		return errors.New("mirror down")
	}
	return nil
}

func (g *recordingGateway) EnsureSchema(ctx context.Context) error {
	g.ensures++
	return g.err()
}

func (g *recordingGateway) UpsertBatch(ctx context.Context, nodes []*schema.Node, rels []*schema.Relationship) (*store.BatchStats, error) {
	g.upserts++
	return &store.BatchStats{Nodes: len(nodes), Edges: len(rels), Attempts: 1}, g.err()
}

func (g *recordingGateway) DeleteFileData(ctx context.Context, paths []string) error {
	g.deletes++
	return g.err()
}

func (g *recordingGateway) PublishBuild(ctx context.Context, rec *store.BuildRecord) error {
	g.publishes++
	return g.err()
}

func (g *recordingGateway) Close() error {
	g.closed = true
	return nil
}

func TestBuild_MirrorReceivesWrites(t *testing.T) {
	mirror := &recordingGateway{}
	e := newTestEngine(t, WithMirror(mirror))
	e.Register(newMemAdapter("java", classTree("app/Main.java", "app", "Main", methodNode("run", "run()"))))

	res, err := e.Build(context.Background(), srcs("java", "app/Main.java"))
	require.NoError(t, err)

	assert.Equal(t, 1, mirror.ensures)
	assert.Equal(t, 2, mirror.upserts) // one node batch, one edge batch
	assert.Equal(t, 1, mirror.publishes)
	assert.Zero(t, res.Stats.MirrorErrors)
}

func TestBuild_MirrorFailuresNotFatal(t *testing.T) {
	mirror := &recordingGateway{fail: true}
	e := newTestEngine(t, WithMirror(mirror))
	e.Register(newMemAdapter("java", classTree("app/Main.java", "app", "Main", methodNode("run", "run()"))))

	res, err := e.Build(context.Background(), srcs("java", "app/Main.java"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Generation)
	assert.Positive(t, res.Stats.MirrorErrors)

	// The primary store is intact despite the mirror.
	syms, qerr := e.Query().SymbolsInFile("app/Main.java")
	require.NoError(t, qerr)
	assert.NotEmpty(t, syms)
}

func TestClose_ClosesMirror(t *testing.T) {
	mirror := &recordingGateway{}
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	e, err := New(dbPath, WithMirror(mirror))
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.True(t, mirror.closed)
}

// --- Helper tests ---

func TestFileHash(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "a.java", "class A {}")

	h := fileHash(path)
	assert.Len(t, h, 64)
	assert.Equal(t, h, fileHash(path))

	assert.Empty(t, fileHash(filepath.Join(dir, "missing.java")))
}

package trellis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jward/trellis/internal/schema"
	"github.com/jward/trellis/internal/telemetry"
)

// extraction is the per-file output of pass one: every node and edge one
// parse tree contributes, plus the references whose targets were not found
// inside the file.
type extraction struct {
	path       string
	language   string
	lines      int
	fileID     string
	nodes      []*schema.Node
	rels       []*schema.Relationship
	pending    []pendingRef
	violations []*schema.SchemaViolation
}

// pendingRef is a reference awaiting resolution against the merged symbol
// table. rowID is non-zero only for refs loaded back from the store during
// a resolution sweep over earlier builds.
type pendingRef struct {
	rowID      int64
	sourceID   string
	sourceKind schema.NodeKind
	sourceFile string
	target     string
	kind       schema.RelKind
	line       int
	alias      string
}

type containsPair struct {
	parent int
	child  int
}

type refSite struct {
	node int
	ref  ParseRef
}

// extractTree converts one parse tree into graph form. The file node and,
// when the tree declares one, the package node are created here; adapters
// only ever declare code elements. Package nodes carry no file path and
// hash to the same ID from every file in the package, so the later merge
// collapses them.
func extractTree(tree *ParseTree) *extraction {
	ex := &extraction{path: tree.Path, language: tree.Language, lines: tree.Lines}

	endLine := tree.Lines
	if endLine < 1 {
		endLine = 1
	}
	file := &schema.Node{
		ID:            schema.NodeID(tree.Path, tree.Path, schema.KindFile),
		Kind:          schema.KindFile,
		Name:          filepath.Base(tree.Path),
		QualifiedName: tree.Path,
		FilePath:      tree.Path,
		Language:      tree.Language,
		StartLine:     1,
		EndLine:       endLine,
	}
	ex.fileID = file.ID
	ex.nodes = append(ex.nodes, file)
	const fileIdx = 0

	var pairs []containsPair
	var sites []refSite

	if tree.Package != "" {
		pkg := &schema.Node{
			ID:            schema.NodeID("", tree.Package, schema.KindPackage),
			Kind:          schema.KindPackage,
			Name:          lastSegment(tree.Package),
			QualifiedName: tree.Package,
			Language:      tree.Language,
		}
		ex.nodes = append(ex.nodes, pkg)
		pairs = append(pairs, containsPair{parent: 1, child: fileIdx})
	}
	for _, r := range tree.Refs {
		sites = append(sites, refSite{node: fileIdx, ref: r})
	}

	// Depth-first over the declaration tree with an explicit stack. A node
	// that fails validation takes its subtree with it; children cannot be
	// parented under a rejected declaration.
	type frame struct {
		node      *ParseNode
		parentIdx int
		parentQN  string
	}
	stack := make([]frame, 0, len(tree.Nodes))
	for i := len(tree.Nodes) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: tree.Nodes[i], parentIdx: fileIdx, parentQN: tree.Package})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		pn := f.node
		if pn == nil {
			continue
		}
		if pn.Kind == schema.KindFile || pn.Kind == schema.KindPackage {
			ex.violations = append(ex.violations, &schema.SchemaViolation{
				Item:   "node",
				Ref:    pn.Name,
				Detail: fmt.Sprintf("adapters may not declare %s nodes", pn.Kind),
			})
			continue
		}

		qn := pn.QualifiedName
		if qn == "" {
			if f.parentQN != "" {
				qn = f.parentQN + "." + pn.Name
			} else {
				qn = pn.Name
			}
		}
		n := &schema.Node{
			ID:            schema.NodeID(tree.Path, qn, pn.Kind),
			Kind:          pn.Kind,
			Name:          pn.Name,
			QualifiedName: qn,
			FilePath:      tree.Path,
			Language:      tree.Language,
			Visibility:    pn.Visibility,
			StartLine:     pn.StartLine,
			EndLine:       pn.EndLine,
			Signature:     pn.Signature,
			ReturnType:    pn.ReturnType,
			Modifiers:     pn.Modifiers,
		}
		if err := schema.ValidateNode(n); err != nil {
			ex.violations = append(ex.violations, err.(*schema.SchemaViolation))
			continue
		}
		parent := ex.nodes[f.parentIdx]
		if !schema.IsValidRelationship(parent.Kind, schema.RelContains, n.Kind) {
			ex.violations = append(ex.violations, &schema.SchemaViolation{
				Item:   "relationship",
				Ref:    fmt.Sprintf("%s -%s-> %s", parent.QualifiedName, schema.RelContains, qn),
				Detail: fmt.Sprintf("%s may not %s %s", parent.Kind, schema.RelContains, n.Kind),
			})
			continue
		}

		idx := len(ex.nodes)
		ex.nodes = append(ex.nodes, n)
		pairs = append(pairs, containsPair{parent: f.parentIdx, child: idx})
		for _, r := range pn.Refs {
			sites = append(sites, refSite{node: idx, ref: r})
		}
		for i := len(pn.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: pn.Children[i], parentIdx: idx, parentQN: qn})
		}
	}

	// Overloads share one identity triple and collide on the base ID. Every
	// member of a colliding group gets a signature discriminator, so final
	// IDs depend on each declaration's own shape, never on emit order. This
	// runs before any edge is materialized.
	byID := make(map[string][]*schema.Node, len(ex.nodes))
	for _, n := range ex.nodes {
		byID[n.ID] = append(byID[n.ID], n)
	}
	for _, group := range byID {
		if len(group) < 2 {
			continue
		}
		for _, n := range group {
			n.ID = schema.OverloadID(n.ID, n)
		}
	}

	for _, p := range pairs {
		parent, child := ex.nodes[p.parent], ex.nodes[p.child]
		ex.rels = append(ex.rels, &schema.Relationship{
			SourceID:   parent.ID,
			Kind:       schema.RelContains,
			TargetID:   child.ID,
			TargetName: child.QualifiedName,
			Line:       child.StartLine,
		})
	}

	// Local resolution: a reference resolves inside its own file only when
	// exactly one kind-valid declaration matches the target. Anything else,
	// including local overload sets, goes to the merged table.
	byQN := make(map[string][]*schema.Node, len(ex.nodes))
	byName := make(map[string][]*schema.Node, len(ex.nodes))
	for _, n := range ex.nodes {
		byQN[n.QualifiedName] = append(byQN[n.QualifiedName], n)
		byName[n.Name] = append(byName[n.Name], n)
	}
	for _, s := range sites {
		src := ex.nodes[s.node]
		r := s.ref
		if r.Target == "" || !r.Kind.Valid() {
			ex.violations = append(ex.violations, &schema.SchemaViolation{
				Item:   "relationship",
				Ref:    fmt.Sprintf("%s -%s-> %q", src.QualifiedName, r.Kind, r.Target),
				Detail: "reference needs a valid kind and a target",
			})
			continue
		}
		cands := byQN[r.Target]
		if len(cands) == 0 {
			cands = byName[r.Target]
		}
		var matches []*schema.Node
		for _, c := range cands {
			if schema.IsValidRelationship(src.Kind, r.Kind, c.Kind) {
				matches = append(matches, c)
			}
		}
		if len(matches) == 1 {
			ex.rels = append(ex.rels, &schema.Relationship{
				SourceID:   src.ID,
				Kind:       r.Kind,
				TargetID:   matches[0].ID,
				TargetName: r.Target,
				Line:       r.Line,
				Alias:      r.Alias,
			})
			continue
		}
		ex.pending = append(ex.pending, pendingRef{
			sourceID:   src.ID,
			sourceKind: src.Kind,
			sourceFile: tree.Path,
			target:     r.Target,
			kind:       r.Kind,
			line:       r.Line,
			alias:      r.Alias,
		})
	}
	return ex
}

// extractAll runs extraction over every successfully parsed tree in
// parallel, then reports the collected schema violations in one place.
func extractAll(ctx context.Context, parsed []ParseResult, workers int, logger *slog.Logger) ([]*extraction, error) {
	var trees []*ParseTree
	for _, r := range parsed {
		if r.Err == nil && r.Tree != nil {
			trees = append(trees, r.Tree)
		}
	}
	if len(trees) == 0 {
		return nil, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(trees) {
		workers = len(trees)
	}

	out := make([]*extraction, len(trees))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, tree := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = extractTree(tree)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, ex := range out {
		for _, v := range ex.violations {
			telemetry.SchemaViolations.Inc()
			logger.Warn("schema violation", "file", ex.path, "item", v.Item, "ref", v.Ref, "detail", v.Detail)
		}
	}
	return out, nil
}

// lastSegment returns the text after the final '.' or '/' separator.
func lastSegment(qn string) string {
	if i := strings.LastIndexAny(qn, "./"); i >= 0 {
		return qn[i+1:]
	}
	return qn
}

package trellis

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jward/trellis/internal/schema"
	"github.com/jward/trellis/internal/store"
)

// resolution is the merged outcome of pass two: the edges that resolved,
// the references that did not with their reasons, and the persisted rows
// that finally found a target this run.
type resolution struct {
	rels     []*schema.Relationship
	leftover []*store.UnresolvedRow
	promoted []int64
}

// resolveRefs classifies one group of pending references against the
// table. A reference resolves only when exactly one kind-valid declaration
// matches; several matches are ambiguous, none is external or missing
// depending on whether the target's root namespace is indexed at all.
func resolveRefs(table *SymbolTable, refs []pendingRef) resolution {
	var res resolution
	for _, ref := range refs {
		var matches []SymbolRef
		for _, c := range table.Resolve(ref.target) {
			if schema.IsValidRelationship(ref.sourceKind, ref.kind, c.Kind) {
				matches = append(matches, c)
			}
		}
		switch {
		case len(matches) == 1:
			res.rels = append(res.rels, &schema.Relationship{
				SourceID:   ref.sourceID,
				Kind:       ref.kind,
				TargetID:   matches[0].ID,
				TargetName: ref.target,
				Line:       ref.line,
				Alias:      ref.alias,
			})
			if ref.rowID != 0 {
				res.promoted = append(res.promoted, ref.rowID)
			}
		case len(matches) > 1:
			res.leftover = append(res.leftover, leftoverRow(ref, schema.ReasonAmbiguous))
		case !table.KnownRoot(rootSegment(ref.target)):
			res.leftover = append(res.leftover, leftoverRow(ref, schema.ReasonExternal))
		default:
			res.leftover = append(res.leftover, leftoverRow(ref, schema.ReasonNotFound))
		}
	}
	return res
}

// leftoverRow keeps the persisted row ID when the ref came from the store,
// so the sweep updates rather than duplicates it.
func leftoverRow(ref pendingRef, reason schema.UnresolvedReason) *store.UnresolvedRow {
	return &store.UnresolvedRow{
		ID:         ref.rowID,
		SourceID:   ref.sourceID,
		SourceKind: ref.sourceKind,
		SourceFile: ref.sourceFile,
		TargetName: ref.target,
		Kind:       ref.kind,
		Line:       ref.line,
		Reason:     reason,
	}
}

// resolvePending fans reference groups out over workers. The table is
// read-only by construction, so no locking is involved.
func resolvePending(ctx context.Context, table *SymbolTable, groups [][]pendingRef, workers int) (resolution, error) {
	if len(groups) == 0 {
		return resolution{}, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(groups) {
		workers = len(groups)
	}

	out := make([]resolution, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, refs := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = resolveRefs(table, refs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return resolution{}, err
	}

	var merged resolution
	for _, r := range out {
		merged.rels = append(merged.rels, r.rels...)
		merged.leftover = append(merged.leftover, r.leftover...)
		merged.promoted = append(merged.promoted, r.promoted...)
	}
	return merged, nil
}

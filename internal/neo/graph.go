package neo

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/jward/trellis/internal/schema"
	"github.com/jward/trellis/internal/store"
)

// Graph mirrors the knowledge graph into Neo4j so it can be explored with
// Cypher and graph tooling. It implements store.Gateway with batch UNWIND
// queries; one Symbol label keyed by the deterministic node ID keeps the
// upserts idempotent.
type Graph struct {
	driver neo4j.DriverWithContext
}

var _ store.Gateway = (*Graph)(nil)

// Connect opens a Neo4j driver against uri and verifies connectivity.
func Connect(ctx context.Context, uri, user, password string) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Graph{driver: driver}, nil
}

// Close releases the underlying driver resources.
func (g *Graph) Close() error {
	return g.driver.Close(context.Background())
}

func (g *Graph) runCypher(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, g.driver, cypher, params, neo4j.EagerResultTransformer)
	return err
}

// EnsureSchema creates the indexes the mirror relies on. Idempotent.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX symbol_id IF NOT EXISTS FOR (n:Symbol) ON (n.id)",
		"CREATE INDEX symbol_qname IF NOT EXISTS FOR (n:Symbol) ON (n.qualified_name)",
		"CREATE INDEX symbol_file IF NOT EXISTS FOR (n:Symbol) ON (n.file_path)",
	}
	for _, q := range indexes {
		if err := g.runCypher(ctx, q, nil); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

const upsertNodesCypher = `
UNWIND $batch AS row
MERGE (n:Symbol {id: row.id})
SET n.kind = row.kind, n.name = row.name, n.qualified_name = row.qname,
    n.file_path = row.file, n.language = row.language, n.visibility = row.visibility,
    n.start_line = row.start, n.end_line = row.end,
    n.signature = row.signature, n.return_type = row.ret, n.modifiers = row.modifiers`

// UpsertBatch implements Gateway. Relationship kinds become Cypher
// relationship types, so edges are merged one kind at a time. Endpoints are
// matched, never merged: an edge whose endpoint is missing is skipped
// rather than materialized as a placeholder. ExecuteQuery runs inside a
// managed transaction, which gives the bounded retry behavior the contract
// asks for.
func (g *Graph) UpsertBatch(ctx context.Context, nodes []*schema.Node, rels []*schema.Relationship) (*store.BatchStats, error) {
	stats := &store.BatchStats{Attempts: 1}

	if len(nodes) > 0 {
		if err := g.runCypher(ctx, upsertNodesCypher, map[string]any{"batch": nodeRows(nodes)}); err != nil {
			return stats, &store.PersistenceError{Attempts: 1, Err: fmt.Errorf("upsert nodes: %w", err)}
		}
		stats.Nodes = len(nodes)
	}

	for kind, batch := range relRowsByKind(rels) {
		if err := g.runCypher(ctx, mergeRelCypher(kind), map[string]any{"batch": batch}); err != nil {
			return stats, &store.PersistenceError{Attempts: 1, Err: fmt.Errorf("merge %s edges: %w", kind, err)}
		}
		stats.Edges += len(batch)
	}
	return stats, nil
}

// DeleteFileData removes every mirrored node of the given files along with
// their relationships.
func (g *Graph) DeleteFileData(ctx context.Context, paths []string) error {
	err := g.runCypher(ctx, `
UNWIND $paths AS p
MATCH (n:Symbol {file_path: p})
DETACH DELETE n`, map[string]any{"paths": paths})
	if err != nil {
		return fmt.Errorf("delete mirrored files: %w", err)
	}
	return nil
}

// PublishBuild records the build run as a Build node.
func (g *Graph) PublishBuild(ctx context.Context, rec *store.BuildRecord) error {
	err := g.runCypher(ctx, `
CREATE (b:Build {run_id: $run_id, generation: $generation,
  started_at: $started, finished_at: $finished,
  files_indexed: $indexed, files_failed: $failed,
  nodes: $nodes, edges: $edges, unresolved: $unresolved})`,
		map[string]any{
			"run_id": rec.RunID, "generation": rec.Generation,
			"started": rec.StartedAt, "finished": rec.FinishedAt,
			"indexed": rec.FilesIndexed, "failed": rec.FilesFailed,
			"nodes": rec.Nodes, "edges": rec.Edges, "unresolved": rec.Unresolved,
		})
	if err != nil {
		return fmt.Errorf("record build: %w", err)
	}
	return nil
}

// nodeRows converts nodes to UNWIND parameter maps.
func nodeRows(nodes []*schema.Node) []map[string]any {
	batch := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		batch = append(batch, map[string]any{
			"id":         n.ID,
			"kind":       string(n.Kind),
			"name":       n.Name,
			"qname":      n.QualifiedName,
			"file":       n.FilePath,
			"language":   n.Language,
			"visibility": string(n.Visibility),
			"start":      n.StartLine,
			"end":        n.EndLine,
			"signature":  n.Signature,
			"ret":        n.ReturnType,
			"modifiers":  n.Modifiers,
		})
	}
	return batch
}

// relRowsByKind groups relationships into per-kind UNWIND batches, since a
// Cypher relationship type cannot be a query parameter.
func relRowsByKind(rels []*schema.Relationship) map[schema.RelKind][]map[string]any {
	byKind := make(map[schema.RelKind][]map[string]any)
	for _, r := range rels {
		byKind[r.Kind] = append(byKind[r.Kind], map[string]any{
			"source": r.SourceID,
			"target": r.TargetID,
			"line":   r.Line,
			"alias":  r.Alias,
		})
	}
	return byKind
}

// mergeRelCypher builds the merge statement for one relationship kind. Kind
// comes from the closed canonical enum, never from input.
func mergeRelCypher(kind schema.RelKind) string {
	return fmt.Sprintf(`
UNWIND $batch AS row
MATCH (s:Symbol {id: row.source}), (t:Symbol {id: row.target})
MERGE (s)-[r:%s]->(t)
SET r.line = row.line, r.alias = row.alias`, kind)
}

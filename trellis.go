// Package trellis builds a queryable knowledge graph of source code:
// canonical nodes and relationships extracted from per-language parse
// trees, persisted idempotently, queryable and analyzable.
package trellis

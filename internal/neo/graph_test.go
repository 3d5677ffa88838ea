package neo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/schema"
)

// The conversion helpers are pure; they are tested without a server.

func TestNodeRows(t *testing.T) {
	t.Parallel()
	n := &schema.Node{
		ID: "abc", Kind: schema.KindMethod, Name: "bark",
		QualifiedName: "a.Dog.bark", FilePath: "/src/a.py", Language: "python",
		Visibility: schema.VisibilityPublic, StartLine: 5, EndLine: 9,
		Signature: "bark(self)", Modifiers: []string{"virtual"},
	}
	rows := nodeRows([]*schema.Node{n})
	require.Len(t, rows, 1)
	assert.Equal(t, "abc", rows[0]["id"])
	assert.Equal(t, "method", rows[0]["kind"])
	assert.Equal(t, "a.Dog.bark", rows[0]["qname"])
	assert.Equal(t, "public", rows[0]["visibility"])
	assert.Equal(t, []string{"virtual"}, rows[0]["modifiers"])
}

func TestRelRowsByKind_Groups(t *testing.T) {
	t.Parallel()
	rels := []*schema.Relationship{
		{SourceID: "a", Kind: schema.RelCalls, TargetID: "b", Line: 3},
		{SourceID: "a", Kind: schema.RelCalls, TargetID: "c", Line: 9},
		{SourceID: "f", Kind: schema.RelImports, TargetID: "g", Alias: "util"},
	}
	byKind := relRowsByKind(rels)
	require.Len(t, byKind, 2)
	assert.Len(t, byKind[schema.RelCalls], 2)
	require.Len(t, byKind[schema.RelImports], 1)
	assert.Equal(t, "util", byKind[schema.RelImports][0]["alias"])
}

func TestMergeRelCypher_UsesKindAsType(t *testing.T) {
	t.Parallel()
	q := mergeRelCypher(schema.RelUsesType)
	assert.Contains(t, q, "MERGE (s)-[r:USES_TYPE]->(t)")
	assert.Contains(t, q, "MATCH (s:Symbol {id: row.source})")
}

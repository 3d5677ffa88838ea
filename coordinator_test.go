package trellis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/logging"
)

func newTestCoordinator(adapters ...Adapter) *Coordinator {
	c := NewCoordinator(logging.Discard())
	for _, a := range adapters {
		c.Register(a)
	}
	return c
}

func TestCoordinator_Languages(t *testing.T) {
	c := newTestCoordinator(newMemAdapter("python"), newMemAdapter("java"))
	assert.Equal(t, []string{"java", "python"}, c.Languages())
}

func TestCoordinator_RegisterReplaces(t *testing.T) {
	first := newMemAdapter("java", classTree("A.java", "app", "A"))
	second := newMemAdapter("java", classTree("B.java", "app", "B"))
	c := newTestCoordinator(first, second)

	assert.Equal(t, []string{"java"}, c.Languages())

	// Only the replacement's trees are reachable.
	results, _, err := c.ParseAll(context.Background(), srcs("java", "B.java"), 1)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	results, _, err = c.ParseAll(context.Background(), srcs("java", "A.java"), 1)
	require.NoError(t, err)
	require.Error(t, results[0].Err)
}

func TestParseAll_UncoveredLanguage(t *testing.T) {
	c := newTestCoordinator(newMemAdapter("java"))

	sources := append(srcs("java", "A.java"), srcs("rust", "lib.rs")...)
	_, _, err := c.ParseAll(context.Background(), sources, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAdapters)
	assert.Contains(t, err.Error(), "rust")
}

func TestParseAll_ResultsKeepSourceOrder(t *testing.T) {
	c := newTestCoordinator(newMemAdapter("java",
		classTree("a/One.java", "a", "One"),
		classTree("a/Two.java", "a", "Two"),
		classTree("a/Three.java", "a", "Three"),
	))

	sources := srcs("java", "a/Three.java", "a/One.java", "a/Two.java")
	results, stats, err := c.ParseAll(context.Background(), sources, 4)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, sources[i].Path, r.Source.Path)
	}
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 3, stats.Parsed)
}

func TestParseAll_FailureDoesNotAbort(t *testing.T) {
	adapter := newMemAdapter("java", classTree("Good.java", "app", "Good"))
	adapter.fail["Bad.java"] = errors.New("syntax error near line 3")
	c := newTestCoordinator(adapter)

	results, stats, err := c.ParseAll(context.Background(), srcs("java", "Bad.java", "Good.java"), 2)
	require.NoError(t, err)

	require.Error(t, results[0].Err)
	assert.Nil(t, results[0].Tree)
	var perr *ParseError
	require.ErrorAs(t, results[0].Err, &perr)
	assert.Equal(t, "Bad.java", perr.Path)
	assert.Equal(t, "java", perr.Language)

	require.NoError(t, results[1].Err)
	require.NotNil(t, results[1].Tree)

	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 1, stats.Parsed)
	assert.Equal(t, 1, stats.Failed)
}

func TestParseAll_PanicIsolatedToFile(t *testing.T) {
	adapter := newMemAdapter("java", classTree("Good.java", "app", "Good"))
	adapter.panics["Cursed.java"] = true
	c := newTestCoordinator(adapter)

	results, stats, err := c.ParseAll(context.Background(), srcs("java", "Cursed.java", "Good.java"), 2)
	require.NoError(t, err)

	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "adapter panic")
	require.NoError(t, results[1].Err)
	assert.Equal(t, 1, stats.Failed)
}

// nilTreeAdapter returns (nil, nil), which violates the Parse contract.
type nilTreeAdapter struct{}

func (nilTreeAdapter) Language() string { return "java" }

func (nilTreeAdapter) Parse(string) (*ParseTree, error) { return nil, nil }

func TestParseAll_NilTreeIsFailure(t *testing.T) {
	c := newTestCoordinator(nilTreeAdapter{})

	results, _, err := c.ParseAll(context.Background(), srcs("java", "A.java"), 1)
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "no tree")
}

// bareTreeAdapter omits Path and Language from its trees.
type bareTreeAdapter struct{}

func (bareTreeAdapter) Language() string { return "java" }

func (bareTreeAdapter) Parse(string) (*ParseTree, error) {
	return &ParseTree{Lines: 10}, nil
}

func TestParseAll_BackfillsTreeIdentity(t *testing.T) {
	c := newTestCoordinator(bareTreeAdapter{})

	results, _, err := c.ParseAll(context.Background(), srcs("java", "a/B.java"), 1)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "a/B.java", results[0].Tree.Path)
	assert.Equal(t, "java", results[0].Tree.Language)
}

func TestParseAll_CountsLines(t *testing.T) {
	one := classTree("One.java", "app", "One")
	one.Lines = 120
	two := classTree("Two.java", "app", "Two")
	two.Lines = 80
	c := newTestCoordinator(newMemAdapter("java", one, two))

	_, stats, err := c.ParseAll(context.Background(), srcs("java", "One.java", "Two.java"), 2)
	require.NoError(t, err)
	assert.Equal(t, 200, stats.Lines)
}

func TestParseAll_Canceled(t *testing.T) {
	c := newTestCoordinator(newMemAdapter("java", classTree("A.java", "app", "A")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.ParseAll(ctx, srcs("java", "A.java"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

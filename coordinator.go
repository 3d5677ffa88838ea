package trellis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jward/trellis/internal/telemetry"
)

// ErrNoAdapters aborts a build before any parsing starts: at least one
// source file has a language no registered adapter covers. This is a setup
// error, not a per-file failure.
var ErrNoAdapters = errors.New("no adapter registered for source language")

// Source is one file to index.
type Source struct {
	Path     string
	Language string
}

// ParseResult pairs a source with its parse outcome. Exactly one of Tree
// and Err is set.
type ParseResult struct {
	Source Source
	Tree   *ParseTree
	Err    error
}

// ParseStats summarizes one parse phase.
type ParseStats struct {
	Attempted int
	Parsed    int
	Failed    int
	Lines     int
}

// Coordinator fans source files out to language adapters. One adapter per
// language; registering a language again replaces the previous adapter.
type Coordinator struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	logger   *slog.Logger
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register installs an adapter for its language.
func (c *Coordinator) Register(a Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lang := a.Language()
	if _, ok := c.adapters[lang]; ok {
		c.logger.Info("replacing adapter", "language", lang)
	}
	c.adapters[lang] = a
}

// Languages lists the registered languages, sorted.
func (c *Coordinator) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	langs := make([]string, 0, len(c.adapters))
	for l := range c.adapters {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// covered verifies every source language has an adapter and returns the
// missing languages, sorted.
func (c *Coordinator) covered(sources []Source) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	missing := make(map[string]bool)
	for _, s := range sources {
		if _, ok := c.adapters[s.Language]; !ok {
			missing[s.Language] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}
	langs := make([]string, 0, len(missing))
	for l := range missing {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// ParseAll parses every source with up to workers adapters running at once.
// A file that fails to parse is isolated: its result carries the error and
// the remaining files proceed. The only aborts are unknown languages
// (ErrNoAdapters) and context cancellation.
func (c *Coordinator) ParseAll(ctx context.Context, sources []Source, workers int) ([]ParseResult, ParseStats, error) {
	if missing := c.covered(sources); missing != nil {
		return nil, ParseStats{}, fmt.Errorf("%w: %v", ErrNoAdapters, missing)
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]ParseResult, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = c.parseOne(src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, ParseStats{}, err
	}

	var stats ParseStats
	stats.Attempted = len(results)
	for _, r := range results {
		if r.Err != nil {
			stats.Failed++
			continue
		}
		stats.Parsed++
		stats.Lines += r.Tree.Lines
	}
	return results, stats, nil
}

// parseOne runs a single adapter call with panic isolation. A panicking
// adapter fails its file, nothing more.
func (c *Coordinator) parseOne(src Source) (res ParseResult) {
	res.Source = src
	defer func() {
		if r := recover(); r != nil {
			res.Tree = nil
			res.Err = &ParseError{Path: src.Path, Language: src.Language, Err: fmt.Errorf("adapter panic: %v", r)}
		}
		if res.Err != nil {
			telemetry.FilesParsed.WithLabelValues(src.Language, "failed").Inc()
			c.logger.Warn("parse failed", "path", src.Path, "language", src.Language, "error", res.Err)
		} else {
			telemetry.FilesParsed.WithLabelValues(src.Language, "parsed").Inc()
		}
	}()

	c.mu.RLock()
	adapter := c.adapters[src.Language]
	c.mu.RUnlock()

	tree, err := adapter.Parse(src.Path)
	if err != nil {
		res.Err = &ParseError{Path: src.Path, Language: src.Language, Err: err}
		return res
	}
	if tree == nil {
		res.Err = &ParseError{Path: src.Path, Language: src.Language, Err: errors.New("adapter returned no tree")}
		return res
	}
	if tree.Path == "" {
		tree.Path = src.Path
	}
	if tree.Language == "" {
		tree.Language = src.Language
	}
	res.Tree = tree
	return res
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog lists every function defined in a project.
package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codecollector/services/collector/ast"
	"github.com/AleutianAI/codecollector/services/collector/record"
)

// DefaultWorkers bounds concurrent analysis when no limit is configured.
const DefaultWorkers = 4

// Kind distinguishes free functions from methods.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
)

// Entry is one function in the catalog.
type Entry struct {
	File          string `json:"file"`
	RelPath       string `json:"rel_path"`
	QualifiedName string `json:"qualified_name"`
	Kind          Kind   `json:"kind"`
	StartLine     int    `json:"start_line"`
	Language      string `json:"language"`
}

// Key renders the entry as "<relpath>::<name>".
func (e Entry) Key() string {
	return e.RelPath + "::" + e.QualifiedName
}

// Failure is a file that could not be analyzed.
type Failure struct {
	RelPath string `json:"rel_path"`
	Error   string `json:"error"`
}

// Source analyzes files and reports which files it can analyze.
// *ast.Registry satisfies it.
type Source interface {
	ast.Analyzer
	Supports(path string) bool
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithExcludes sets the skipped paths. Each pattern is a doublestar glob
// matched against the slash-separated path relative to the root and
// against the base name.
func WithExcludes(patterns []string) Option {
	return func(c *Catalog) {
		c.excludes = patterns
	}
}

// WithWorkers bounds concurrent analysis.
func WithWorkers(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Catalog builds function listings.
//
// Thread Safety: safe for concurrent use.
type Catalog struct {
	source   Source
	excludes []string
	workers  int
	logger   *slog.Logger
}

// New creates a Catalog over source.
func New(source Source, opts ...Option) *Catalog {
	c := &Catalog{
		source:  source,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Listing is the catalog of one project.
type Listing struct {
	Root     string    `json:"root"`
	Entries  []Entry   `json:"entries"`
	Failures []Failure `json:"failures,omitempty"`

	records []*record.Record
}

// Files returns the analyzable files under root in lexical order.
func (c *Catalog) Files(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if c.Excluded(root, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && c.source.Supports(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, nil
}

// Excluded reports whether path, inside root, matches an exclude pattern.
func (c *Catalog) Excluded(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)
	for _, p := range c.excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Build analyzes every file under root and lists their functions.
//
// Description:
//
//	Files are analyzed concurrently. Each worker writes only its own slot
//	of the results slice, so entries are assembled in file order once all
//	workers finish. Files that fail analysis are reported in Failures and
//	contribute no entries.
//
// Outputs:
//
//	*Listing - Entries sorted by path, then line, then name.
//	error - Walk errors and cancellation.
func (c *Catalog) Build(ctx context.Context, root string) (*Listing, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	files, err := c.Files(ctx, root)
	if err != nil {
		return nil, err
	}

	records := make([]*record.Record, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = c.source.Analyze(gctx, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", root, err)
	}

	l := &Listing{Root: root, records: records}
	for i, rec := range records {
		if rec.Failed() {
			l.Failures = append(l.Failures, Failure{RelPath: relPath(root, files[i]), Error: rec.Error})
			continue
		}
		for _, fn := range rec.Functions {
			l.Entries = append(l.Entries, l.entryFor(rec, fn))
		}
	}
	sort.SliceStable(l.Entries, func(i, j int) bool {
		a, b := l.Entries[i], l.Entries[j]
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.QualifiedName < b.QualifiedName
	})

	c.logger.Debug("catalog built",
		slog.String("root", root),
		slog.Int("files", len(files)),
		slog.Int("functions", len(l.Entries)),
		slog.Int("failures", len(l.Failures)))
	return l, nil
}

// Filter returns the entries whose key contains query, ignoring case. An
// empty query returns every entry.
func (l *Listing) Filter(query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return l.Entries
	}
	var out []Entry
	for _, e := range l.Entries {
		if strings.Contains(strings.ToLower(e.Key()), query) {
			out = append(out, e)
		}
	}
	return out
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

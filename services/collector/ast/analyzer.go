// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast turns source files into structural records using tree-sitter.
//
// Each supported language has a Parser that works on in-memory content. The
// Registry reads files from disk, picks a parser by extension, and folds
// every failure into the record's Error field so callers never deal with
// analysis errors directly.
package ast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// Size limits applied before parsing.
const (
	// DefaultMaxFileSize is the largest file an analyzer accepts (10 MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize triggers a warning log for unusually large files (1 MB).
	WarnFileSize = 1024 * 1024

	// MaxCallExpressionDepth bounds the syntax tree depth walked when
	// collecting call sites.
	MaxCallExpressionDepth = 200

	// MaxCallSitesPerFunction caps the call sites recorded for one function.
	MaxCallSitesPerFunction = 2000

	// maxReceiverLength truncates long receiver expressions.
	maxReceiverLength = 120
)

var (
	// ErrFileTooLarge indicates the content exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates the content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrUnsupportedLanguage indicates no parser handles the file extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Analyzer produces a structural record for a file path.
//
// Analyze never fails: unreadable or unparseable files yield a record whose
// Error field is set. Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, path string) *record.Record
}

// Parser extracts a structural record from in-memory source.
type Parser interface {
	// Parse analyzes content. filePath is copied into the record.
	Parse(ctx context.Context, content []byte, filePath string) (*record.Record, error)

	// Language returns the language name recorded in results.
	Language() string

	// Extensions returns the file extensions handled, with leading dots.
	Extensions() []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithParser registers an additional parser. Its extensions take
// precedence over earlier registrations.
func WithParser(p Parser) RegistryOption {
	return func(r *Registry) {
		r.register(p)
	}
}

// WithMaxFileSize sets the largest file the registry will read.
func WithMaxFileSize(bytes int64) RegistryOption {
	return func(r *Registry) {
		if bytes > 0 {
			r.maxFileSize = bytes
		}
	}
}

// WithLogger sets the logger used for analysis diagnostics.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry dispatches analysis to a language parser by file extension.
//
// Thread Safety: safe for concurrent use once constructed.
type Registry struct {
	parsers     map[string]Parser
	maxFileSize int64
	logger      *slog.Logger
}

// NewRegistry creates a registry with the Python, TypeScript and JavaScript
// parsers registered.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		parsers:     make(map[string]Parser),
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	r.register(NewPythonParser())
	r.register(NewTypeScriptParser())
	r.register(NewJavaScriptParser())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// ParserFor returns the parser registered for path's extension.
func (r *Registry) ParserFor(path string) (Parser, bool) {
	p, ok := r.parsers[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.ParserFor(path)
	return ok
}

// Extensions returns every registered extension, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Analyze reads path and returns its structural record.
//
// Description:
//
//	Selects a parser by extension, reads the file, enforces the size limit
//	and parses it. Any failure (unsupported extension, read error, oversize
//	file, invalid UTF-8, parser failure, cancellation) is reported in the
//	returned record's Error field.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	path - File to analyze. Recorded verbatim as the record's FilePath.
//
// Outputs:
//
//	*record.Record - Never nil.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Analyze(ctx context.Context, path string) *record.Record {
	parser, ok := r.ParserFor(path)
	if !ok {
		recordAnalysisMetrics("unknown", 0, 0, false)
		return record.Failed(path, "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, filepath.Ext(path)))
	}
	language := parser.Language()

	info, err := os.Stat(path)
	if err != nil {
		recordAnalysisMetrics(language, 0, 0, false)
		return record.Failed(path, language, fmt.Errorf("stat: %w", err))
	}
	if info.IsDir() {
		recordAnalysisMetrics(language, 0, 0, false)
		return record.Failed(path, language, fmt.Errorf("%s is a directory", path))
	}
	if info.Size() > r.maxFileSize {
		recordAnalysisMetrics(language, 0, 0, false)
		return record.Failed(path, language,
			fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, info.Size(), r.maxFileSize))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		recordAnalysisMetrics(language, 0, 0, false)
		return record.Failed(path, language, fmt.Errorf("read: %w", err))
	}

	start := time.Now()
	rec, err := parser.Parse(ctx, content, path)
	if err != nil {
		r.logger.Debug("analysis failed",
			slog.String("file", path),
			slog.String("language", language),
			slog.String("error", err.Error()))
		return record.Failed(path, language, err)
	}
	r.logger.Debug("analyzed file",
		slog.String("file", path),
		slog.String("language", language),
		slog.Int("functions", len(rec.Functions)),
		slog.Int("classes", len(rec.Classes)),
		slog.Int("imports", len(rec.Imports)),
		slog.Duration("duration", time.Since(start)))
	return rec
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// TypeScriptParserOption configures a TypeScriptParser.
type TypeScriptParserOption func(*TypeScriptParser)

// WithTypeScriptMaxFileSize sets the maximum content size the parser accepts.
func WithTypeScriptMaxFileSize(bytes int64) TypeScriptParserOption {
	return func(p *TypeScriptParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// TypeScriptParser builds structural records for TypeScript and TSX.
//
// Description:
//
//	.tsx files are parsed with the TSX grammar, everything else with the
//	plain TypeScript grammar. Functions, classes, class methods, arrow
//	function fields and module-level function-valued constants are
//	recorded. ES imports, CommonJS requires and re-exports are recorded
//	as import bindings.
//
// Thread Safety:
//
//	Safe for concurrent use.
type TypeScriptParser struct {
	maxFileSize int64
}

// NewTypeScriptParser creates a TypeScriptParser.
func NewTypeScriptParser(opts ...TypeScriptParserOption) *TypeScriptParser {
	p := &TypeScriptParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language implements Parser.
func (p *TypeScriptParser) Language() string { return "typescript" }

// Extensions implements Parser.
func (p *TypeScriptParser) Extensions() []string { return []string{".ts", ".tsx", ".mts", ".cts"} }

// Parse extracts the structural record of TypeScript content.
//
// Outputs:
//
//	*record.Record - Never nil on success.
//	error - ErrFileTooLarge, ErrInvalidContent, or a context error.
//
// Thread Safety: Safe for concurrent use.
func (p *TypeScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*record.Record, error) {
	ctx, span := startAnalysisSpan(ctx, p.Language(), filePath, len(content))
	defer span.End()
	start := time.Now()

	lang := typescript.GetLanguage()
	if strings.EqualFold(filepath.Ext(filePath), ".tsx") {
		lang = tsx.GetLanguage()
	}

	rec, err := parseECMAScript(ctx, lang, content, filePath, p.Language(), p.maxFileSize)
	if err != nil {
		span.RecordError(err)
		recordAnalysisMetrics(p.Language(), time.Since(start), 0, false)
		return nil, err
	}
	recordAnalysisMetrics(p.Language(), time.Since(start), len(rec.Functions), true)
	return rec, nil
}

func parseECMAScript(ctx context.Context, lang *sitter.Language, content []byte, filePath, language string, maxFileSize int64) (*record.Record, error) {
	tree, err := parseTree(ctx, lang, content, filePath, maxFileSize)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	w := &esWalker{
		ctx:      ctx,
		content:  content,
		filePath: filePath,
		rec:      record.New(filePath, language),
	}
	w.visit(tree.RootNode(), esScope{}, 0)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.rec, nil
}

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
	"time"

	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// JavaScriptParserOption configures a JavaScriptParser.
type JavaScriptParserOption func(*JavaScriptParser)

// WithJavaScriptMaxFileSize sets the maximum content size the parser accepts.
func WithJavaScriptMaxFileSize(bytes int64) JavaScriptParserOption {
	return func(p *JavaScriptParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// JavaScriptParser builds structural records for JavaScript and JSX.
//
// Thread Safety: Safe for concurrent use.
type JavaScriptParser struct {
	maxFileSize int64
}

// NewJavaScriptParser creates a JavaScriptParser.
func NewJavaScriptParser(opts ...JavaScriptParserOption) *JavaScriptParser {
	p := &JavaScriptParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language implements Parser.
func (p *JavaScriptParser) Language() string { return "javascript" }

// Extensions implements Parser.
func (p *JavaScriptParser) Extensions() []string { return []string{".js", ".jsx", ".mjs", ".cjs"} }

// Parse extracts the structural record of JavaScript content.
func (p *JavaScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*record.Record, error) {
	ctx, span := startAnalysisSpan(ctx, p.Language(), filePath, len(content))
	defer span.End()
	start := time.Now()

	rec, err := parseECMAScript(ctx, javascript.GetLanguage(), content, filePath, p.Language(), p.maxFileSize)
	if err != nil {
		span.RecordError(err)
		recordAnalysisMetrics(p.Language(), time.Since(start), 0, false)
		return nil, err
	}
	recordAnalysisMetrics(p.Language(), time.Since(start), len(rec.Functions), true)
	return rec, nil
}

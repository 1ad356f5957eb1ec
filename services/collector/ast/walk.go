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
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// parseTree validates content and parses it with the given grammar.
//
// The caller owns the returned tree and must Close it.
func parseTree(ctx context.Context, lang *sitter.Language, content []byte, filePath string, maxFileSize int64) (*sitter.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if int64(len(content)) > maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), maxFileSize)
	}
	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	// New parser per call; tree-sitter parsers are not goroutine safe.
	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		tree.Close()
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}
	if tree.RootNode() == nil {
		tree.Close()
		return nil, fmt.Errorf("tree-sitter returned nil root node")
	}
	if tree.RootNode().HasError() {
		slog.Debug("source contains syntax errors", slog.String("file", filePath))
	}
	return tree, nil
}

func text(n *sitter.Node, content []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(content)
}

func startLine(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }

func endLine(n *sitter.Node) int {
	end := n.EndPoint()
	// A span ending at column 0 stops before that line begins.
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func truncateReceiver(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxReceiverLength {
		return s[:maxReceiverLength]
	}
	return s
}

// callExtractor turns a call node into a call site. ok is false for nodes
// that are not calls or whose callee cannot be named.
type callExtractor func(n *sitter.Node) (record.CallSite, bool)

// collectCalls walks body in source order and returns its call sites.
//
// Description:
//
//	Uses an explicit stack so deeply nested expressions cannot overflow the
//	goroutine stack. Subtrees whose node type is in stop belong to nested
//	definitions and are skipped; their calls are attributed to the nested
//	function instead. Duplicates are preserved.
//
// Inputs:
//
//	ctx - Checked every 100 nodes.
//	body - Function body node. Nil yields no calls.
//	stop - Node types that start a nested definition.
//	extract - Language specific call recognizer.
//
// Outputs:
//
//	[]record.CallSite - Calls in source order, capped at MaxCallSitesPerFunction.
func collectCalls(ctx context.Context, body *sitter.Node, filePath string, stop map[string]bool, extract callExtractor) []record.CallSite {
	if body == nil || ctx.Err() != nil {
		return nil
	}

	type stackEntry struct {
		node  *sitter.Node
		depth int
	}

	var calls []record.CallSite
	stack := make([]stackEntry, 0, 64)
	stack = append(stack, stackEntry{node: body})

	visited := 0
	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := entry.node

		if entry.depth > MaxCallExpressionDepth {
			slog.Debug("max call expression depth reached",
				slog.String("file", filePath),
				slog.Int("depth", entry.depth))
			continue
		}

		visited++
		if visited%100 == 0 && ctx.Err() != nil {
			return calls
		}

		if len(calls) >= MaxCallSitesPerFunction {
			slog.Warn("max call sites per function reached",
				slog.String("file", filePath),
				slog.Int("limit", MaxCallSitesPerFunction))
			return calls
		}

		if entry.depth > 0 && stop[node.Type()] {
			continue
		}

		if call, ok := extract(node); ok {
			call.Line = startLine(node)
			calls = append(calls, call)
		}

		// Reverse push keeps left-to-right order.
		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil {
				stack = append(stack, stackEntry{node: child, depth: entry.depth + 1})
			}
		}
	}
	return calls
}

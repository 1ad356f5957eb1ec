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

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// Python tree-sitter node types.
const (
	pyNodeImport          = "import_statement"
	pyNodeImportFrom      = "import_from_statement"
	pyNodeFunction        = "function_definition"
	pyNodeClass           = "class_definition"
	pyNodeDecorated       = "decorated_definition"
	pyNodeCall            = "call"
	pyNodeAttribute       = "attribute"
	pyNodeIdentifier      = "identifier"
	pyNodeDottedName      = "dotted_name"
	pyNodeAliasedImport   = "aliased_import"
	pyNodeWildcardImport  = "wildcard_import"
	pyNodeFutureStatement = "future_import_statement"
)

// pyCompound lists the statement nodes searched for nested definitions and
// imports. Expressions are never descended into.
var pyCompound = map[string]bool{
	"module":               true,
	"block":                true,
	"if_statement":         true,
	"elif_clause":          true,
	"else_clause":          true,
	"try_statement":        true,
	"except_clause":        true,
	"except_group_clause":  true,
	"finally_clause":       true,
	"with_statement":       true,
	"for_statement":        true,
	"while_statement":      true,
	"match_statement":      true,
	"case_clause":          true,
	pyNodeDecorated:        true,
}

// pyNested marks nodes whose calls belong to a nested definition.
var pyNested = map[string]bool{
	pyNodeFunction:  true,
	pyNodeClass:     true,
	pyNodeDecorated: true,
}

// PythonParserOption configures a PythonParser.
type PythonParserOption func(*PythonParser)

// WithPythonMaxFileSize sets the maximum content size the parser accepts.
func WithPythonMaxFileSize(bytes int64) PythonParserOption {
	return func(p *PythonParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// PythonParser builds structural records for Python source.
//
// Description:
//
//	Methods are keyed "Class.method". Functions nested inside functions are
//	keyed by their bare name. Decorators are part of a definition's source.
//	Imports are collected wherever they appear at statement level, including
//	inside functions and try blocks.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Parse call creates its own tree-sitter
//	parser.
type PythonParser struct {
	maxFileSize int64
}

// NewPythonParser creates a PythonParser.
func NewPythonParser(opts ...PythonParserOption) *PythonParser {
	p := &PythonParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language implements Parser.
func (p *PythonParser) Language() string { return "python" }

// Extensions implements Parser.
func (p *PythonParser) Extensions() []string { return []string{".py", ".pyw", ".pyi"} }

// Parse extracts the structural record of Python content.
//
// Description:
//
//	Parsing is error tolerant: source with syntax errors still yields the
//	definitions tree-sitter could recover.
//
// Inputs:
//
//	ctx - Checked before and after parsing.
//	content - Source bytes. Must be valid UTF-8.
//	filePath - Recorded as the record's FilePath.
//
// Outputs:
//
//	*record.Record - Never nil on success.
//	error - ErrFileTooLarge, ErrInvalidContent, or a context error.
//
// Thread Safety: Safe for concurrent use.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*record.Record, error) {
	ctx, span := startAnalysisSpan(ctx, p.Language(), filePath, len(content))
	defer span.End()
	start := time.Now()

	tree, err := parseTree(ctx, python.GetLanguage(), content, filePath, p.maxFileSize)
	if err != nil {
		span.RecordError(err)
		recordAnalysisMetrics(p.Language(), time.Since(start), 0, false)
		return nil, err
	}
	defer tree.Close()

	w := &pyWalker{
		ctx:      ctx,
		content:  content,
		filePath: filePath,
		rec:      record.New(filePath, p.Language()),
	}
	w.visit(tree.RootNode(), pyScope{}, 0)

	recordAnalysisMetrics(p.Language(), time.Since(start), len(w.rec.Functions), true)
	return w.rec, nil
}

// pyScope tracks the enclosing class and function during the walk.
type pyScope struct {
	class    string
	function string
}

type pyWalker struct {
	ctx      context.Context
	content  []byte
	filePath string
	rec      *record.Record
}

func (w *pyWalker) visit(node *sitter.Node, scope pyScope, depth int) {
	if node == nil || depth > MaxCallExpressionDepth || w.ctx.Err() != nil {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case pyNodeImport:
			w.importStatement(child)
		case pyNodeImportFrom:
			w.importFrom(child)
		case pyNodeFutureStatement:
			// __future__ imports never resolve to project code.
		case pyNodeFunction:
			w.function(child, child, scope, depth)
		case pyNodeClass:
			w.class(child, child, scope, depth)
		case pyNodeDecorated:
			def := child.ChildByFieldName("definition")
			switch {
			case def == nil:
			case def.Type() == pyNodeFunction:
				w.function(def, child, scope, depth)
			case def.Type() == pyNodeClass:
				w.class(def, child, scope, depth)
			}
		default:
			if pyCompound[child.Type()] {
				w.visit(child, scope, depth+1)
			}
		}
	}
}

// function records a def. span covers decorators when present.
func (w *pyWalker) function(def, span *sitter.Node, scope pyScope, depth int) {
	name := text(def.ChildByFieldName("name"), w.content)
	if name == "" {
		return
	}

	className := ""
	if scope.class != "" && scope.function == "" {
		className = scope.class
	}
	qualified := record.Qualify(className, name)
	body := def.ChildByFieldName("body")

	w.rec.AddFunction(record.Function{
		QualifiedName: qualified,
		Source:        text(span, w.content),
		Location: record.Location{
			StartLine:    startLine(span),
			EndLine:      endLine(span),
			ClassName:    className,
			FunctionName: name,
		},
		Calls: collectCalls(w.ctx, body, w.filePath, pyNested, w.call),
	})

	w.visit(body, pyScope{function: qualified}, depth+1)
}

func (w *pyWalker) class(def, span *sitter.Node, scope pyScope, depth int) {
	name := text(def.ChildByFieldName("name"), w.content)
	if name == "" {
		return
	}
	w.rec.AddClass(record.Class{
		Name:      name,
		Source:    text(span, w.content),
		StartLine: startLine(span),
		EndLine:   endLine(span),
	})
	w.visit(def.ChildByFieldName("body"), pyScope{class: name}, depth+1)
}

// call recognizes `name(...)` and `receiver.name(...)`.
func (w *pyWalker) call(n *sitter.Node) (record.CallSite, bool) {
	if n.Type() != pyNodeCall {
		return record.CallSite{}, false
	}
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return record.CallSite{}, false
	}
	switch fn.Type() {
	case pyNodeIdentifier:
		name := text(fn, w.content)
		// A bare super() only builds the receiver of super().method().
		if name == "super" {
			return record.CallSite{}, false
		}
		return record.CallSite{Name: name}, true
	case pyNodeAttribute:
		obj := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return record.CallSite{}, false
		}
		receiver := text(obj, w.content)
		// super().method() resolves against the enclosing class hierarchy.
		if obj.Type() == pyNodeCall && text(obj.ChildByFieldName("function"), w.content) == "super" {
			receiver = "super"
		}
		return record.CallSite{Name: text(attr, w.content), Module: truncateReceiver(receiver)}, true
	}
	return record.CallSite{}, false
}

// importStatement handles `import a.b` and `import a.b as c`.
func (w *pyWalker) importStatement(n *sitter.Node) {
	line := startLine(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case pyNodeDottedName:
			module := text(child, w.content)
			w.rec.AddImport(module, record.Binding{Original: record.ModuleBinding, Alias: module}, line)
		case pyNodeAliasedImport:
			module := text(child.ChildByFieldName("name"), w.content)
			alias := text(child.ChildByFieldName("alias"), w.content)
			if module == "" || alias == "" {
				continue
			}
			w.rec.AddImport(module, record.Binding{Original: record.ModuleBinding, Alias: alias}, line)
		}
	}
}

// importFrom handles `from x import a, b as c` and `from . import *`.
func (w *pyWalker) importFrom(n *sitter.Node) {
	moduleNode := n.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	module := text(moduleNode, w.content)
	line := startLine(n)

	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.StartByte() == moduleNode.StartByte() {
			continue
		}
		switch child.Type() {
		case pyNodeDottedName, pyNodeIdentifier:
			name := text(child, w.content)
			w.rec.AddImport(module, record.Binding{Original: name, Alias: name}, line)
		case pyNodeAliasedImport:
			name := text(child.ChildByFieldName("name"), w.content)
			alias := text(child.ChildByFieldName("alias"), w.content)
			if name == "" || alias == "" {
				continue
			}
			w.rec.AddImport(module, record.Binding{Original: name, Alias: alias}, line)
		case pyNodeWildcardImport:
			w.rec.AddImport(module, record.Binding{Original: record.ModuleBinding, Alias: record.ModuleBinding}, line)
		}
	}
}

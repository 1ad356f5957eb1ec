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

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// Node types shared by the TypeScript, TSX and JavaScript grammars.
const (
	esNodeProgram           = "program"
	esNodeImport            = "import_statement"
	esNodeImportClause      = "import_clause"
	esNodeNamespaceImport   = "namespace_import"
	esNodeNamedImports      = "named_imports"
	esNodeImportSpecifier   = "import_specifier"
	esNodeExport            = "export_statement"
	esNodeExportClause      = "export_clause"
	esNodeExportSpecifier   = "export_specifier"
	esNodeNamespaceExport   = "namespace_export"
	esNodeFunction          = "function_declaration"
	esNodeGenerator         = "generator_function_declaration"
	esNodeClass             = "class_declaration"
	esNodeAbstractClass     = "abstract_class_declaration"
	esNodeClassBody         = "class_body"
	esNodeMethod            = "method_definition"
	esNodePublicField       = "public_field_definition"
	esNodeField             = "field_definition"
	esNodeLexical           = "lexical_declaration"
	esNodeVariable          = "variable_declaration"
	esNodeDeclarator        = "variable_declarator"
	esNodeArrow             = "arrow_function"
	esNodeFunctionExpr      = "function_expression"
	esNodeFunctionLegacy    = "function"
	esNodeGeneratorExpr     = "generator_function"
	esNodeCall              = "call_expression"
	esNodeNew               = "new_expression"
	esNodeMember            = "member_expression"
	esNodeIdentifier        = "identifier"
	esNodeTypeIdentifier    = "type_identifier"
	esNodeObjectPattern     = "object_pattern"
	esNodeShorthandPattern  = "shorthand_property_identifier_pattern"
	esNodePairPattern       = "pair_pattern"
	esNodeString            = "string"
	esNodeComputedProperty  = "computed_property_name"
	esNodeStatementBlock    = "statement_block"
	esNodeDefaultKeyword    = "default"
	esDefaultFunctionName   = "default"
	esRequireFunctionName   = "require"
)

// esCompound lists statements searched for nested declarations.
var esCompound = map[string]bool{
	esNodeProgram:         true,
	esNodeStatementBlock:  true,
	"if_statement":        true,
	"else_clause":         true,
	"try_statement":       true,
	"catch_clause":        true,
	"finally_clause":      true,
	"for_statement":       true,
	"for_in_statement":    true,
	"while_statement":     true,
	"do_statement":        true,
	"switch_statement":    true,
	"switch_body":         true,
	"switch_case":         true,
	"switch_default":      true,
	"labeled_statement":   true,
	"ambient_declaration": true,
}

// esNested marks nodes whose calls belong to a nested declaration.
var esNested = map[string]bool{
	esNodeFunction:      true,
	esNodeGenerator:     true,
	esNodeClass:         true,
	esNodeAbstractClass: true,
}

func isFunctionValue(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case esNodeArrow, esNodeFunctionExpr, esNodeFunctionLegacy, esNodeGeneratorExpr:
		return true
	}
	return false
}

// esScope tracks the enclosing class and function during the walk.
type esScope struct {
	class    string
	function string
}

// esWalker builds a structural record from an ECMAScript-family tree.
//
// The same walker serves TypeScript, TSX and JavaScript; the grammars share
// node names for everything the record needs. Where they differ (class names
// are type_identifier in TypeScript, fields are public_field_definition vs
// field_definition) both shapes are accepted.
type esWalker struct {
	ctx      context.Context
	content  []byte
	filePath string
	rec      *record.Record
}

func (w *esWalker) visit(node *sitter.Node, scope esScope, depth int) {
	if node == nil || depth > MaxCallExpressionDepth || w.ctx.Err() != nil {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		w.statement(child, child, scope, depth, false)
	}
}

// statement handles one statement. span is the node whose text becomes the
// definition's source (the export statement when wrapped by one).
func (w *esWalker) statement(n, span *sitter.Node, scope esScope, depth int, isDefault bool) {
	switch n.Type() {
	case esNodeImport:
		w.importStatement(n)
	case esNodeExport:
		w.exportStatement(n, scope, depth)
	case esNodeFunction, esNodeGenerator:
		name := text(n.ChildByFieldName("name"), w.content)
		if name == "" && isDefault {
			name = esDefaultFunctionName
		}
		if name == "" {
			return
		}
		if isDefault {
			w.rec.DefaultExport = name
		}
		w.function(name, "", n.ChildByFieldName("body"), span, scope, depth)
	case esNodeClass, esNodeAbstractClass:
		name := text(n.ChildByFieldName("name"), w.content)
		if name == "" {
			return
		}
		if isDefault {
			w.rec.DefaultExport = name
		}
		w.class(name, n, span, depth)
	case esNodeLexical, esNodeVariable:
		w.declaration(n, span, scope, depth)
	default:
		if esCompound[n.Type()] {
			w.visit(n, scope, depth+1)
		}
	}
}

// function records a free function, or a method when className is set.
func (w *esWalker) function(name, className string, body, span *sitter.Node, scope esScope, depth int) {
	qualified := record.Qualify(className, name)
	w.rec.AddFunction(record.Function{
		QualifiedName: qualified,
		Source:        text(span, w.content),
		Location: record.Location{
			StartLine:    startLine(span),
			EndLine:      endLine(span),
			ClassName:    className,
			FunctionName: name,
		},
		Calls: collectCalls(w.ctx, body, w.filePath, esNested, w.call),
	})
	if body != nil && body.Type() == esNodeStatementBlock {
		w.visit(body, esScope{function: qualified}, depth+1)
	}
}

func (w *esWalker) class(name string, decl, span *sitter.Node, depth int) {
	w.rec.AddClass(record.Class{
		Name:      name,
		Source:    text(span, w.content),
		StartLine: startLine(span),
		EndLine:   endLine(span),
	})

	body := decl.ChildByFieldName("body")
	if body == nil || body.Type() != esNodeClassBody {
		return
	}
	scope := esScope{class: name}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case esNodeMethod:
			nameNode := member.ChildByFieldName("name")
			if nameNode == nil || nameNode.Type() == esNodeComputedProperty {
				continue
			}
			w.function(text(nameNode, w.content), name, member.ChildByFieldName("body"), member, scope, depth+1)
		case esNodePublicField, esNodeField:
			value := member.ChildByFieldName("value")
			if !isFunctionValue(value) {
				continue
			}
			nameNode := member.ChildByFieldName("name")
			if nameNode == nil {
				nameNode = member.ChildByFieldName("property")
			}
			if nameNode == nil || nameNode.Type() == esNodeComputedProperty {
				continue
			}
			w.function(text(nameNode, w.content), name, value.ChildByFieldName("body"), member, scope, depth+1)
		}
	}
}

// declaration handles const/let/var: function-valued declarators become
// functions at module level, require() calls become imports anywhere.
func (w *esWalker) declaration(n, span *sitter.Node, scope esScope, depth int) {
	var declarators []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == esNodeDeclarator {
			declarators = append(declarators, c)
		}
	}
	for _, d := range declarators {
		nameNode := d.ChildByFieldName("name")
		value := d.ChildByFieldName("value")
		if nameNode == nil || value == nil {
			continue
		}
		if w.requireImport(nameNode, value) {
			continue
		}
		if !isFunctionValue(value) || nameNode.Type() != esNodeIdentifier {
			continue
		}
		if scope.function != "" || scope.class != "" {
			// Local closures stay part of their enclosing function.
			continue
		}
		fnSpan := span
		if len(declarators) > 1 {
			fnSpan = d
		}
		w.function(text(nameNode, w.content), "", value.ChildByFieldName("body"), fnSpan, scope, depth)
	}
}

// requireImport records CommonJS bindings:
//
//	const x = require('./x')          -> {*: x}
//	const { a, b: c } = require('./x') -> {a: a, b: c}
//	const y = require('./x').y        -> {y: y}
func (w *esWalker) requireImport(nameNode, value *sitter.Node) bool {
	property := ""
	call := value
	if value.Type() == esNodeMember {
		property = text(value.ChildByFieldName("property"), w.content)
		call = value.ChildByFieldName("object")
	}
	specifier, ok := w.requireSpecifier(call)
	if !ok {
		return false
	}
	line := startLine(value)

	switch nameNode.Type() {
	case esNodeIdentifier:
		alias := text(nameNode, w.content)
		original := record.ModuleBinding
		if property != "" {
			original = property
		}
		w.rec.AddImport(specifier, record.Binding{Original: original, Alias: alias}, line)
	case esNodeObjectPattern:
		for i := 0; i < int(nameNode.NamedChildCount()); i++ {
			p := nameNode.NamedChild(i)
			switch p.Type() {
			case esNodeShorthandPattern:
				name := text(p, w.content)
				w.rec.AddImport(specifier, record.Binding{Original: name, Alias: name}, line)
			case esNodePairPattern:
				key := text(p.ChildByFieldName("key"), w.content)
				alias := p.ChildByFieldName("value")
				if key == "" || alias == nil || alias.Type() != esNodeIdentifier {
					continue
				}
				w.rec.AddImport(specifier, record.Binding{Original: key, Alias: text(alias, w.content)}, line)
			}
		}
	default:
		return false
	}
	return true
}

func (w *esWalker) requireSpecifier(call *sitter.Node) (string, bool) {
	if call == nil || call.Type() != esNodeCall {
		return "", false
	}
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != esNodeIdentifier || text(fn, w.content) != esRequireFunctionName {
		return "", false
	}
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return "", false
	}
	arg := args.NamedChild(0)
	if arg.Type() != esNodeString {
		return "", false
	}
	return unquote(text(arg, w.content)), true
}

// importStatement handles default, namespace and named ES imports.
func (w *esWalker) importStatement(n *sitter.Node) {
	source := n.ChildByFieldName("source")
	if source == nil {
		return
	}
	specifier := unquote(text(source, w.content))
	if specifier == "" {
		return
	}
	line := startLine(n)

	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		if clause.Type() != esNodeImportClause {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			part := clause.NamedChild(j)
			switch part.Type() {
			case esNodeIdentifier:
				w.rec.AddImport(specifier, record.Binding{Original: record.DefaultBinding, Alias: text(part, w.content)}, line)
			case esNodeNamespaceImport:
				for k := 0; k < int(part.NamedChildCount()); k++ {
					if id := part.NamedChild(k); id.Type() == esNodeIdentifier {
						w.rec.AddImport(specifier, record.Binding{Original: record.ModuleBinding, Alias: text(id, w.content)}, line)
					}
				}
			case esNodeNamedImports:
				for k := 0; k < int(part.NamedChildCount()); k++ {
					spec := part.NamedChild(k)
					if spec.Type() != esNodeImportSpecifier {
						continue
					}
					original := unquote(text(spec.ChildByFieldName("name"), w.content))
					alias := text(spec.ChildByFieldName("alias"), w.content)
					if alias == "" {
						alias = original
					}
					if original == "" {
						continue
					}
					w.rec.AddImport(specifier, record.Binding{Original: original, Alias: alias}, line)
				}
			}
		}
	}
}

// exportStatement handles exported declarations, default exports and
// re-exports from other modules.
func (w *esWalker) exportStatement(n *sitter.Node, scope esScope, depth int) {
	isDefault := false
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil && !c.IsNamed() && c.Type() == esNodeDefaultKeyword {
			isDefault = true
			break
		}
	}

	if source := n.ChildByFieldName("source"); source != nil {
		w.reexport(n, unquote(text(source, w.content)))
		return
	}

	if decl := n.ChildByFieldName("declaration"); decl != nil {
		w.statement(decl, n, scope, depth, isDefault)
		return
	}

	value := n.ChildByFieldName("value")
	switch {
	case value != nil && value.Type() == esNodeIdentifier && isDefault:
		w.rec.DefaultExport = text(value, w.content)
	case isFunctionValue(value) && isDefault:
		w.rec.DefaultExport = esDefaultFunctionName
		w.function(esDefaultFunctionName, "", value.ChildByFieldName("body"), n, scope, depth)
	case value == nil:
		// export { a as default }
		for i := 0; i < int(n.NamedChildCount()); i++ {
			clause := n.NamedChild(i)
			if clause.Type() != esNodeExportClause {
				continue
			}
			for j := 0; j < int(clause.NamedChildCount()); j++ {
				spec := clause.NamedChild(j)
				if text(spec.ChildByFieldName("alias"), w.content) == record.DefaultBinding {
					w.rec.DefaultExport = text(spec.ChildByFieldName("name"), w.content)
				}
			}
		}
	}
}

func (w *esWalker) reexport(n *sitter.Node, specifier string) {
	if specifier == "" {
		return
	}
	line := startLine(n)
	clauseFound := false
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case esNodeExportClause:
			clauseFound = true
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != esNodeExportSpecifier {
					continue
				}
				original := unquote(text(spec.ChildByFieldName("name"), w.content))
				alias := text(spec.ChildByFieldName("alias"), w.content)
				if alias == "" {
					alias = original
				}
				if original == "" {
					continue
				}
				w.rec.AddImport(specifier, record.Binding{Original: original, Alias: alias, Reexport: true}, line)
			}
		case esNodeNamespaceExport:
			clauseFound = true
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if id := child.NamedChild(j); id.Type() == esNodeIdentifier {
					w.rec.AddImport(specifier, record.Binding{Original: record.ModuleBinding, Alias: text(id, w.content), Reexport: true}, line)
				}
			}
		}
	}
	if !clauseFound {
		// export * from './x'
		w.rec.AddImport(specifier, record.Binding{Original: record.ModuleBinding, Alias: record.ModuleBinding, Reexport: true}, line)
	}
}

// call recognizes call and new expressions.
func (w *esWalker) call(n *sitter.Node) (record.CallSite, bool) {
	var callee *sitter.Node
	switch n.Type() {
	case esNodeCall:
		callee = n.ChildByFieldName("function")
	case esNodeNew:
		callee = n.ChildByFieldName("constructor")
	default:
		return record.CallSite{}, false
	}
	if callee == nil {
		return record.CallSite{}, false
	}

	switch callee.Type() {
	case esNodeIdentifier, esNodeTypeIdentifier:
		name := text(callee, w.content)
		if name == esRequireFunctionName {
			return record.CallSite{}, false
		}
		return record.CallSite{Name: name}, true
	case esNodeMember:
		object := callee.ChildByFieldName("object")
		property := callee.ChildByFieldName("property")
		if object == nil || property == nil {
			return record.CallSite{}, false
		}
		return record.CallSite{
			Name:   text(property, w.content),
			Module: truncateReceiver(text(object, w.content)),
		}, true
	}
	return record.CallSite{}, false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package record defines the structural record produced by analyzing a
// single source file: the functions, classes, imports and call sites it
// contains, in source order.
//
// A record is built once by an analyzer and then treated as immutable. All
// lookups preserve insertion order, which the resolver relies on for its
// first-match policy.
package record

import (
	"fmt"
	"strings"
)

// Binding names with special meaning in Binding.Original.
const (
	// DefaultBinding marks a default import (`import foo from './x'`).
	DefaultBinding = "default"

	// ModuleBinding marks a binding of the whole module: a namespace import,
	// a CommonJS require, or a Python `import pkg.mod`. When Alias is also
	// ModuleBinding the import is a wildcard (`from x import *`).
	ModuleBinding = "*"
)

// Location is the source span of a function.
//
// Lines are 1-based and inclusive. ClassName is empty for free functions.
type Location struct {
	StartLine    int    `json:"start_line"`
	EndLine      int    `json:"end_line"`
	ClassName    string `json:"class_name,omitempty"`
	FunctionName string `json:"function_name"`
}

// CallSite is one syntactic call inside a function body.
//
// Module is the receiver text for `recv.name(...)` calls and empty for bare
// calls. Constructor invocations (`new Foo()`) are recorded as bare calls.
type CallSite struct {
	Name   string `json:"name"`
	Module string `json:"module,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// Qualified reports whether the call has a receiver.
func (c CallSite) Qualified() bool {
	return c.Module != ""
}

// String renders the call the way it appears in source, without arguments.
func (c CallSite) String() string {
	if c.Module == "" {
		return c.Name
	}
	return c.Module + "." + c.Name
}

// Function is a function or method defined in the file.
//
// QualifiedName is "Class.method" for methods and the bare name otherwise.
type Function struct {
	QualifiedName string
	Source        string
	Location      Location
	Calls         []CallSite
}

// Class is a class defined in the file.
type Class struct {
	Name      string
	Source    string
	StartLine int
	EndLine   int
}

// Binding maps one imported name to its local alias.
type Binding struct {
	Original string
	Alias    string

	// Reexport is set for `export { a } from './x'` bindings, which make a
	// name available to importers of this file without binding it locally.
	Reexport bool
}

// IsWildcard reports whether the binding imports every name of the module.
func (b Binding) IsWildcard() bool {
	return b.Original == ModuleBinding && b.Alias == ModuleBinding
}

// Import groups the bindings of one module specifier.
type Import struct {
	Specifier string
	Bindings  []Binding
	Line      int
}

// Record is the structural record of one source file.
//
// Thread Safety: a Record is not safe for concurrent mutation. Once an
// analyzer returns it, it is read-only and may be shared freely.
type Record struct {
	FilePath string
	Language string

	Functions []Function
	Classes   []Class
	Imports   []Import

	// DefaultExport is the local name bound by `export default`, if any.
	DefaultExport string

	// Error is non-empty when the file could not be read or parsed. A
	// failed record carries no functions, classes or imports.
	Error string

	funcIndex   map[string]int
	classIndex  map[string]int
	importIndex map[string]int
}

// New creates an empty record for filePath.
func New(filePath, language string) *Record {
	return &Record{
		FilePath:    filePath,
		Language:    language,
		funcIndex:   make(map[string]int),
		classIndex:  make(map[string]int),
		importIndex: make(map[string]int),
	}
}

// Failed creates a record that carries only an analysis error.
func Failed(filePath, language string, err error) *Record {
	r := New(filePath, language)
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Error = "analysis failed"
	}
	return r
}

// Failed reports whether the record carries an analysis error.
func (r *Record) Failed() bool {
	return r.Error != ""
}

// AddFunction adds fn to the record.
//
// A redefinition of an existing qualified name keeps the original position
// and replaces the content, so the last definition in the file wins.
func (r *Record) AddFunction(fn Function) {
	r.ensureIndexes()
	if i, ok := r.funcIndex[fn.QualifiedName]; ok {
		r.Functions[i] = fn
		return
	}
	r.funcIndex[fn.QualifiedName] = len(r.Functions)
	r.Functions = append(r.Functions, fn)
}

// AddClass adds c to the record. A redefinition replaces the content.
func (r *Record) AddClass(c Class) {
	r.ensureIndexes()
	if i, ok := r.classIndex[c.Name]; ok {
		r.Classes[i] = c
		return
	}
	r.classIndex[c.Name] = len(r.Classes)
	r.Classes = append(r.Classes, c)
}

// AddImport records a binding for specifier. Bindings for the same
// specifier are merged in the order they are seen; an identical binding is
// not added twice.
func (r *Record) AddImport(specifier string, b Binding, line int) {
	r.ensureIndexes()
	i, ok := r.importIndex[specifier]
	if !ok {
		r.importIndex[specifier] = len(r.Imports)
		r.Imports = append(r.Imports, Import{Specifier: specifier, Line: line})
		i = len(r.Imports) - 1
	}
	for _, existing := range r.Imports[i].Bindings {
		if existing == b {
			return
		}
	}
	r.Imports[i].Bindings = append(r.Imports[i].Bindings, b)
}

// Function returns the function with the given qualified name.
func (r *Record) Function(name string) (*Function, bool) {
	r.ensureIndexes()
	i, ok := r.funcIndex[name]
	if !ok {
		return nil, false
	}
	return &r.Functions[i], true
}

// Class returns the class with the given name.
func (r *Record) Class(name string) (*Class, bool) {
	r.ensureIndexes()
	i, ok := r.classIndex[name]
	if !ok {
		return nil, false
	}
	return &r.Classes[i], true
}

// Import returns the import group for specifier.
func (r *Record) Import(specifier string) (*Import, bool) {
	r.ensureIndexes()
	i, ok := r.importIndex[specifier]
	if !ok {
		return nil, false
	}
	return &r.Imports[i], true
}

// FunctionNames returns every qualified name in definition order.
func (r *Record) FunctionNames() []string {
	names := make([]string, len(r.Functions))
	for i, fn := range r.Functions {
		names[i] = fn.QualifiedName
	}
	return names
}

// MethodsNamed returns the qualified names of all methods called name, in
// definition order.
func (r *Record) MethodsNamed(name string) []string {
	var out []string
	for _, fn := range r.Functions {
		if fn.Location.ClassName != "" && fn.Location.FunctionName == name {
			out = append(out, fn.QualifiedName)
		}
	}
	return out
}

// ensureIndexes rebuilds the lookup maps for records assembled as literals.
func (r *Record) ensureIndexes() {
	if r.funcIndex != nil && len(r.funcIndex) == len(r.Functions) &&
		r.classIndex != nil && len(r.classIndex) == len(r.Classes) &&
		r.importIndex != nil && len(r.importIndex) == len(r.Imports) {
		return
	}
	r.funcIndex = make(map[string]int, len(r.Functions))
	for i, fn := range r.Functions {
		if _, dup := r.funcIndex[fn.QualifiedName]; !dup {
			r.funcIndex[fn.QualifiedName] = i
		}
	}
	r.classIndex = make(map[string]int, len(r.Classes))
	for i, c := range r.Classes {
		if _, dup := r.classIndex[c.Name]; !dup {
			r.classIndex[c.Name] = i
		}
	}
	r.importIndex = make(map[string]int, len(r.Imports))
	for i, imp := range r.Imports {
		if _, dup := r.importIndex[imp.Specifier]; !dup {
			r.importIndex[imp.Specifier] = i
		}
	}
}

// SplitQualified splits "Class.method" into its class and member parts.
// Free function names return an empty class.
func SplitQualified(name string) (class, member string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// Qualify joins a class and member name.
func Qualify(class, member string) string {
	if class == "" {
		return member
	}
	return class + "." + member
}

// ValidationError describes every schema violation found in a record.
type ValidationError struct {
	FilePath   string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid structural record for %s: %s",
		e.FilePath, strings.Join(e.Violations, "; "))
}

// Validate checks the record against the structural record schema.
//
// Description:
//
//	Checks that qualified names are unique, that every function carries a
//	location whose class matches its qualified name, that line spans are
//	well formed, that failed records are otherwise empty, and that import
//	specifiers and bindings are non-empty.
//
// Outputs:
//
//	error - *ValidationError listing every violation, or nil.
func (r *Record) Validate() error {
	var v []string
	add := func(format string, args ...any) {
		v = append(v, fmt.Sprintf(format, args...))
	}

	if r.Error != "" {
		if len(r.Functions) > 0 || len(r.Classes) > 0 || len(r.Imports) > 0 || r.DefaultExport != "" {
			add("record with error %q must not carry functions, classes or imports", r.Error)
		}
	}

	seen := make(map[string]bool, len(r.Functions))
	for _, fn := range r.Functions {
		name := fn.QualifiedName
		if name == "" {
			add("function with empty qualified name")
			continue
		}
		if seen[name] {
			add("duplicate function %q", name)
		}
		seen[name] = true

		loc := fn.Location
		if loc.StartLine < 1 || loc.EndLine < loc.StartLine {
			add("function %q has invalid span %d-%d", name, loc.StartLine, loc.EndLine)
		}
		class, member := SplitQualified(name)
		if class != loc.ClassName {
			add("function %q has class_name %q", name, loc.ClassName)
		}
		if strings.Contains(class, ".") {
			add("function %q is nested more than one class level", name)
		}
		if member != loc.FunctionName {
			add("function %q has function_name %q", name, loc.FunctionName)
		}
		for _, call := range fn.Calls {
			if call.Name == "" {
				add("function %q has a call with empty name", name)
			}
		}
	}

	classes := make(map[string]bool, len(r.Classes))
	for _, c := range r.Classes {
		if c.Name == "" {
			add("class with empty name")
			continue
		}
		if classes[c.Name] {
			add("duplicate class %q", c.Name)
		}
		classes[c.Name] = true
		if c.StartLine < 1 || c.EndLine < c.StartLine {
			add("class %q has invalid span %d-%d", c.Name, c.StartLine, c.EndLine)
		}
	}

	specs := make(map[string]bool, len(r.Imports))
	for _, imp := range r.Imports {
		if imp.Specifier == "" {
			add("import with empty specifier")
			continue
		}
		if specs[imp.Specifier] {
			add("duplicate import specifier %q", imp.Specifier)
		}
		specs[imp.Specifier] = true
		for _, b := range imp.Bindings {
			if b.Original == "" || b.Alias == "" {
				add("import %q has an empty binding", imp.Specifier)
			}
		}
	}

	if len(v) > 0 {
		return &ValidationError{FilePath: r.FilePath, Violations: v}
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve maps call sites to the definitions they most plausibly
// invoke, using only structural records and module path conventions.
package resolve

import (
	"strings"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// Kind classifies a resolution.
type Kind int

const (
	// Unresolved means the call names nothing in the project.
	Unresolved Kind = iota

	// Local means the target is defined in the calling file.
	Local

	// External means the target lives in another project file.
	External
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case External:
		return "external"
	default:
		return "unresolved"
	}
}

// Resolution is the outcome of resolving one call site.
//
// For Local results Target names the definition in the calling file. For
// External results the target record is not known yet: Path names the file
// and Locate picks the definition once that file has been analyzed.
type Resolution struct {
	Kind Kind

	// Target is the qualified function or class name (Local only).
	Target        string
	TargetIsClass bool

	// Path is the file holding the target.
	Path string

	// Specifier is the import specifier that led to Path.
	Specifier string

	// Lookups are the names to try in the target file, in order.
	Lookups []string

	// DefaultImport asks Locate to start from the target's default export,
	// qualified by Member when the call had a receiver.
	DefaultImport bool
	Member        string

	// Wildcard marks guesses through `import *`; a miss is not reported.
	Wildcard bool

	// Unqualified marks a bare call. Locate then also accepts a method
	// whose member name matches a lookup.
	Unqualified bool

	// Candidates lists every local match when more than one existed.
	Candidates []string

	// ExternalModule is set when an import matched but its module is not
	// part of the project (an installed package or standard library).
	ExternalModule bool

	Reason string
}

// Ambiguous reports whether more than one candidate matched.
func (r Resolution) Ambiguous() bool { return len(r.Candidates) > 1 }

// Option configures a Resolver.
type Option func(*Resolver)

// WithPreferLocalClassReceiver makes `Recv.name()` try a local class named
// Recv before an import bound to Recv.
func WithPreferLocalClassReceiver(prefer bool) Option {
	return func(r *Resolver) {
		r.preferLocalClass = prefer
	}
}

// selfReceivers name the enclosing instance or class.
var selfReceivers = map[string]bool{
	"self": true,
	"this": true,
	"cls":  true,
}

// Resolver implements the symbol resolution rules.
//
// Thread Safety: safe for concurrent use.
type Resolver struct {
	modules          *ModuleResolver
	preferLocalClass bool
}

// NewResolver creates a resolver that locates modules with modules.
func NewResolver(modules *ModuleResolver, opts ...Option) *Resolver {
	r := &Resolver{modules: modules}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Modules returns the module resolver.
func (r *Resolver) Modules() *ModuleResolver { return r.modules }

// Resolve classifies call, made from function caller in rec.
//
// Description:
//
//	Receiver-qualified calls match the receiver against the enclosing
//	class (self/this/cls), import aliases and local classes. Bare calls
//	prefer local functions, then local classes (constructor calls), then
//	local methods, then imported names, then wildcard imports. The first
//	match in record order wins; other local matches are reported in
//	Candidates.
//
// Inputs:
//
//	rec - Record of the calling file.
//	caller - Qualified name of the calling function.
//	call - The call site.
//
// Outputs:
//
//	Resolution - Never fails; misses are Unresolved with a Reason.
func (r *Resolver) Resolve(rec *record.Record, caller string, call record.CallSite) Resolution {
	if call.Qualified() {
		return r.resolveQualified(rec, caller, call)
	}
	return r.resolveBare(rec, call.Name)
}

func (r *Resolver) resolveQualified(rec *record.Record, caller string, call record.CallSite) Resolution {
	recv, name := call.Module, call.Name

	if selfReceivers[recv] {
		class := callerClass(rec, caller)
		if class != "" {
			q := record.Qualify(class, name)
			if _, ok := rec.Function(q); ok {
				return Resolution{Kind: Local, Target: q, Path: rec.FilePath}
			}
		}
		return Resolution{Reason: "method not defined on the enclosing class"}
	}

	viaImport := func() (Resolution, bool) { return r.receiverImport(rec, recv, name) }
	viaClass := func() (Resolution, bool) {
		if _, ok := rec.Class(recv); !ok {
			return Resolution{}, false
		}
		q := record.Qualify(recv, name)
		if _, ok := rec.Function(q); !ok {
			return Resolution{}, false
		}
		return Resolution{Kind: Local, Target: q, Path: rec.FilePath}, true
	}

	order := []func() (Resolution, bool){viaImport, viaClass}
	if r.preferLocalClass {
		order = []func() (Resolution, bool){viaClass, viaImport}
	}
	for _, try := range order {
		if res, ok := try(); ok {
			return res
		}
	}
	return Resolution{Reason: "receiver " + recv + " is not an import or local class"}
}

// receiverImport resolves `alias.name()` through the import bound to alias.
func (r *Resolver) receiverImport(rec *record.Record, recv, name string) (Resolution, bool) {
	fam, _ := r.modules.Family(rec.FilePath)

	imp, b, ok := findBinding(rec, recv)
	if !ok && fam.Style == StyleDotted && strings.Contains(recv, ".") {
		// `import pkg` followed by `pkg.mod.fn()`.
		head, rest, _ := strings.Cut(recv, ".")
		if imp, b, ok = findBinding(rec, head); ok && b.Original == record.ModuleBinding {
			spec := JoinSpecifier(fam, imp.Specifier, rest)
			return r.external(rec, spec, Resolution{Lookups: []string{name}}), true
		}
		return Resolution{}, false
	}
	if !ok {
		return Resolution{}, false
	}

	switch b.Original {
	case record.ModuleBinding:
		return r.external(rec, imp.Specifier, Resolution{Lookups: []string{name}}), true
	case record.DefaultBinding:
		return r.external(rec, imp.Specifier, Resolution{DefaultImport: true, Member: name}), true
	}

	// `from pkg import mod` then `mod.fn()`: the binding may be a submodule.
	if fam.Style == StyleDotted {
		spec := JoinSpecifier(fam, imp.Specifier, b.Original)
		if path, found := r.modules.Resolve(rec.FilePath, spec); found {
			return Resolution{Kind: External, Path: path, Specifier: imp.Specifier, Lookups: []string{name}}, true
		}
	}
	return r.external(rec, imp.Specifier, Resolution{Lookups: []string{record.Qualify(b.Original, name)}}), true
}

func (r *Resolver) resolveBare(rec *record.Record, name string) Resolution {
	if _, ok := rec.Function(name); ok {
		return Resolution{Kind: Local, Target: name, Path: rec.FilePath}
	}
	if _, ok := rec.Class(name); ok {
		return Resolution{Kind: Local, Target: name, TargetIsClass: true, Path: rec.FilePath}
	}
	if methods := rec.MethodsNamed(name); len(methods) > 0 {
		res := Resolution{Kind: Local, Target: methods[0], Path: rec.FilePath}
		if len(methods) > 1 {
			res.Candidates = methods
		}
		return res
	}

	if imp, b, ok := findBinding(rec, name); ok {
		switch b.Original {
		case record.DefaultBinding, record.ModuleBinding:
			// Calling a default or CommonJS module binding invokes whatever
			// the module exports as its default.
			return r.external(rec, imp.Specifier, Resolution{DefaultImport: true, Lookups: []string{name}})
		default:
			return r.external(rec, imp.Specifier, Resolution{Lookups: []string{b.Original}, Unqualified: true})
		}
	}

	for _, imp := range rec.Imports {
		for _, b := range imp.Bindings {
			if !b.IsWildcard() || b.Reexport {
				continue
			}
			res := r.external(rec, imp.Specifier, Resolution{Lookups: []string{name}, Wildcard: true, Unqualified: true})
			if res.Kind == External {
				return res
			}
		}
	}
	return Resolution{Reason: "no local definition or import named " + name}
}

// external completes res for an import of specifier from rec.
func (r *Resolver) external(rec *record.Record, specifier string, res Resolution) Resolution {
	res.Specifier = specifier
	path, ok := r.modules.Resolve(rec.FilePath, specifier)
	if !ok {
		res.Kind = Unresolved
		res.ExternalModule = true
		res.Reason = "module " + specifier + " is outside the project"
		return res
	}
	res.Kind = External
	res.Path = path
	return res
}

// findBinding returns the first import binding whose local alias is name.
// Re-export bindings do not bind local names and are skipped.
func findBinding(rec *record.Record, name string) (record.Import, record.Binding, bool) {
	for _, imp := range rec.Imports {
		for _, b := range imp.Bindings {
			if b.Reexport || b.IsWildcard() {
				continue
			}
			if b.Alias == name {
				return imp, b, true
			}
		}
	}
	return record.Import{}, record.Binding{}, false
}

func callerClass(rec *record.Record, caller string) string {
	if fn, ok := rec.Function(caller); ok {
		return fn.Location.ClassName
	}
	class, _ := record.SplitQualified(caller)
	return class
}

// Definition is the target Locate picked in another file.
type Definition struct {
	// Name is the qualified function name, or the class name when IsClass
	// is set.
	Name    string
	IsClass bool

	// Candidates lists every method that matched an unqualified lookup
	// when more than one did. Name is the first of them.
	Candidates []string
}

// Locate picks the definition an External resolution refers to in the
// analyzed target record.
//
// Description:
//
//	Tries the default export (when the import was a default binding), then
//	each lookup name, as a function and then as a class. For unqualified
//	calls a method with a matching member name is accepted last, the
//	first in record order winning.
//
// Outputs:
//
//	Definition - The chosen target.
//	bool - False when the target file defines none of the candidates.
func Locate(target *record.Record, res Resolution) (Definition, bool) {
	var names []string
	if res.DefaultImport && target.DefaultExport != "" {
		if res.Member == "" {
			names = append(names, target.DefaultExport)
		} else {
			names = append(names, record.Qualify(target.DefaultExport, res.Member))
		}
	}
	names = append(names, res.Lookups...)

	for _, n := range names {
		if _, found := target.Function(n); found {
			return Definition{Name: n}, true
		}
		if !strings.Contains(n, ".") {
			if _, found := target.Class(n); found {
				return Definition{Name: n, IsClass: true}, true
			}
		}
	}
	if !res.Unqualified {
		return Definition{}, false
	}
	for _, n := range names {
		if strings.Contains(n, ".") {
			continue
		}
		if methods := target.MethodsNamed(n); len(methods) > 0 {
			def := Definition{Name: methods[0]}
			if len(methods) > 1 {
				def.Candidates = methods
			}
			return def, true
		}
	}
	return Definition{}, false
}

// Hop is one step of a re-export chain.
type Hop struct {
	Specifier string
	Lookups   []string
	Default   bool
}

// Reexports lists where target may obtain name from, when it does not
// define name itself: explicit bindings first, then wildcard imports.
func Reexports(target *record.Record, name string) []Hop {
	var hops, wild []Hop
	for _, imp := range target.Imports {
		for _, b := range imp.Bindings {
			switch {
			case b.IsWildcard():
				wild = append(wild, Hop{Specifier: imp.Specifier, Lookups: []string{name}})
			case b.Alias != name:
			case b.Original == record.DefaultBinding:
				hops = append(hops, Hop{Specifier: imp.Specifier, Default: true, Lookups: []string{name}})
			case b.Original != record.ModuleBinding:
				hops = append(hops, Hop{Specifier: imp.Specifier, Lookups: []string{b.Original}})
			}
		}
	}
	return append(hops, wild...)
}

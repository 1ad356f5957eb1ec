// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracer follows calls outward from one function and collects
// every project definition they reach.
//
// The traversal is a breadth-first worklist over (file, qualified name)
// pairs. Each file is analyzed at most once per run. Node, file and depth
// guards bound the work; hitting one yields a partial result rather than an
// error.
package tracer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/codecollector/services/collector/ast"
	"github.com/AleutianAI/codecollector/services/collector/record"
	"github.com/AleutianAI/codecollector/services/collector/resolve"
)

// constructorNames are the method names invoked by constructing a class.
var constructorNames = []string{"__init__", "constructor"}

// maxSuggestions bounds StartError.Available.
const maxSuggestions = 20

// Tracer runs dependency traces.
//
// Thread Safety: safe for concurrent use; each Trace call owns its state.
type Tracer struct {
	analyzer   ast.Analyzer
	logger     *slog.Logger
	fileExists func(string) bool
}

// New creates a Tracer that analyzes files with analyzer.
func New(analyzer ast.Analyzer, opts ...Option) *Tracer {
	t := &Tracer{
		analyzer: analyzer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// run carries the per-trace collaborators.
type run struct {
	id       string
	root     string
	opts     Options
	st       *state
	modules  *resolve.ModuleResolver
	resolver *resolve.Resolver
	logger   *slog.Logger
}

// Trace collects the definitions reachable from startFunction.
//
// Description:
//
//	Seeds the worklist with the start function, then repeatedly takes the
//	oldest entry, marks its class as needed, and resolves each of its calls
//	in source order. Local and external targets not yet visited are queued
//	one level deeper. Unresolved calls are leaves. The run ends when the
//	worklist is empty or a guard stops it.
//
// Inputs:
//
//	ctx - Cancellation ends the run with a partial result.
//	projectRoot - Directory containing the project. Imports resolving
//	              outside it are treated as external modules.
//	startFile - File defining the start function. Relative paths are taken
//	            relative to projectRoot.
//	startFunction - Qualified name ("Class.method" or "fn"). An unqualified
//	                method name is accepted when a class defines it.
//	options - Guards and resolution settings.
//
// Outputs:
//
//	*Result - Collected functions, classes, imports and warnings.
//	error - *StartError wrapping ErrStartFileUnreadable or
//	        ErrStartFunctionNotFound, or ErrInvalidOptions. No partial
//	        result is returned with an error.
//
// Thread Safety: Safe for concurrent use.
func (t *Tracer) Trace(ctx context.Context, projectRoot, startFile, startFunction string, options Options) (*Result, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	opts := options.withDefaults()

	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if !filepath.IsAbs(startFile) {
		startFile = filepath.Join(root, startFile)
	}
	startFile = filepath.Clean(startFile)

	r := &run{
		id:   uuid.NewString(),
		root: root,
		opts: opts,
		st:   newState(opts),
	}
	r.logger = t.logger.With(slog.String("run_id", r.id))

	var modOpts []resolve.ModuleOption
	if t.fileExists != nil {
		modOpts = append(modOpts, resolve.WithFileExists(t.fileExists))
	}
	r.modules = resolve.NewModuleResolver(root, opts.Families, modOpts...)
	r.resolver = resolve.NewResolver(r.modules, resolve.WithPreferLocalClassReceiver(opts.PreferLocalClassReceiver))

	ctx, span := startTraceSpan(ctx, r.id, r.modules.Rel(startFile), startFunction)
	defer span.End()
	start := time.Now()

	res, err := t.trace(ctx, r, startFile, startFunction)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordTraceMetrics(nil, time.Since(start))
		r.logger.Info("trace failed",
			slog.String("start_file", startFile),
			slog.String("start_function", startFunction),
			slog.String("error", err.Error()))
		return nil, err
	}

	res.Stats.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("collector.functions", len(res.Functions)),
		attribute.Int("collector.files", res.Stats.FilesAnalyzed),
		attribute.Bool("collector.partial", res.Partial),
	)
	recordTraceMetrics(res, res.Stats.Duration)
	r.logger.Info("trace complete",
		slog.String("start_function", startFunction),
		slog.Int("functions", len(res.Functions)),
		slog.Int("classes", len(res.Classes)),
		slog.Int("files", res.Stats.FilesAnalyzed),
		slog.Int("warnings", len(res.Warnings)),
		slog.Bool("partial", res.Partial),
		slog.Duration("duration", res.Stats.Duration))
	return res, nil
}

func (t *Tracer) trace(ctx context.Context, r *run, startFile, startFunction string) (*Result, error) {
	st := r.st

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("trace canceled before start: %w", err)
	}

	startRec := t.analyzer.Analyze(ctx, startFile)
	if startRec.Failed() {
		return nil, &StartError{Kind: ErrStartFileUnreadable, File: startFile, Reason: startRec.Error}
	}
	st.store(startFile, startRec)

	name, err := findStart(startRec, startFunction)
	if err != nil {
		return nil, err
	}
	st.admit(startFile, name, 0)

	for st.pending() {
		if err := ctx.Err(); err != nil && !st.halted {
			st.halt(Warning{Kind: WarningCanceled, Message: err.Error()})
		}

		tk := st.pop()
		rec := st.cache[tk.file]
		fn, ok := rec.Function(tk.name)
		if !ok {
			continue
		}
		st.collected = append(st.collected, tk)
		if fn.Location.ClassName != "" {
			st.markClass(tk.file, fn.Location.ClassName, ClassReasonMethod)
		}

		// Entries admitted before a guard fired are still collected, but
		// nothing new is expanded.
		if st.halted || len(fn.Calls) == 0 {
			continue
		}

		resolutions := make([]resolve.Resolution, len(fn.Calls))
		for i, call := range fn.Calls {
			resolutions[i] = r.resolver.Resolve(rec, tk.name, call)
		}
		if r.opts.MaxDepth > 0 && tk.depth >= r.opts.MaxDepth {
			if followable(resolutions) {
				st.pruneDepth(tk.file, tk.name)
			}
			continue
		}
		t.prefetch(ctx, r, resolutions)

		for i, call := range fn.Calls {
			if st.halted {
				break
			}
			t.integrate(ctx, r, tk, rec, call, resolutions[i])
		}
	}

	return r.result(startFile, startFunction), nil
}

// followable reports whether any call leads to a project definition.
func followable(resolutions []resolve.Resolution) bool {
	for _, res := range resolutions {
		if res.Kind != resolve.Unresolved {
			return true
		}
	}
	return false
}

// findStart locates the start function. An unqualified method name
// selects the first class defining it.
func findStart(rec *record.Record, name string) (string, error) {
	if _, ok := rec.Function(name); ok {
		return name, nil
	}
	if methods := rec.MethodsNamed(name); len(methods) > 0 {
		return methods[0], nil
	}
	names := rec.FunctionNames()
	if len(names) > maxSuggestions {
		names = names[:maxSuggestions]
	}
	return "", &StartError{
		Kind:      ErrStartFunctionNotFound,
		File:      rec.FilePath,
		Function:  name,
		Available: names,
	}
}

// integrate applies one resolved call to the traversal state.
func (t *Tracer) integrate(ctx context.Context, r *run, tk task, rec *record.Record, call record.CallSite, res resolve.Resolution) {
	st := r.st
	if res.Ambiguous() {
		st.warnAmbiguous(tk.file, tk.name, call.String(), res.Candidates)
	}

	switch res.Kind {
	case resolve.Local:
		st.resolved++
		if res.TargetIsClass {
			t.admitClass(r, tk.file, rec, res.Target, tk.depth+1)
			return
		}
		st.admit(tk.file, res.Target, tk.depth+1)

	case resolve.External:
		loc, ok := t.locate(ctx, r, tk.file, res)
		if !ok {
			st.unresolved++
			if !res.Wildcard {
				r.logger.Debug("external target not found",
					slog.String("file", tk.file),
					slog.String("call", call.String()),
					slog.String("module", res.Path))
			}
			return
		}
		st.resolved++
		if len(loc.candidates) > 1 {
			st.warnAmbiguous(tk.file, tk.name, call.String(), loc.candidates)
		}
		var fresh bool
		if loc.isClass {
			fresh = t.admitClass(r, loc.file, loc.rec, loc.name, tk.depth+1)
		} else {
			fresh = st.admit(loc.file, loc.name, tk.depth+1)
		}
		// Imports only explain targets this call brought in.
		if fresh {
			for _, ref := range loc.refs {
				st.addImport(ref.file, ref.ref)
			}
		}

	default:
		st.unresolved++
		if res.ExternalModule {
			st.addExternal(tk.file, res.Specifier, call.Name)
		}
	}
}

// admitClass records a direct class reference and queues its constructor.
// It reports whether the class or its constructor was new to the trace.
func (t *Tracer) admitClass(r *run, file string, rec *record.Record, class string, depth int) bool {
	fresh := r.st.markClass(file, class, ClassReasonReference)
	for _, ctor := range constructorNames {
		q := record.Qualify(class, ctor)
		if _, ok := rec.Function(q); ok {
			return r.st.admit(file, q, depth) || fresh
		}
	}
	return fresh
}

type contributedImport struct {
	file string
	ref  ImportRef
}

// located is a definition found in another file, with every import that
// led to it.
type located struct {
	file    string
	rec     *record.Record
	name       string
	isClass    bool
	candidates []string
	refs       []contributedImport
}

// locate analyzes an external target file and finds the definition,
// following re-exports when the file only forwards the name.
func (t *Tracer) locate(ctx context.Context, r *run, fromFile string, res resolve.Resolution) (located, bool) {
	path := res.Path
	cur := res
	refs := []contributedImport{{file: fromFile, ref: r.importRef(res.Specifier, path)}}

	for hop := 0; ; hop++ {
		rec, ok := t.load(ctx, r, path)
		if !ok {
			return located{}, false
		}
		if def, found := resolve.Locate(rec, cur); found {
			return located{
				file:       path,
				rec:        rec,
				name:       def.Name,
				isClass:    def.IsClass,
				candidates: def.Candidates,
				refs:       refs,
			}, true
		}
		if hop >= maxReexportHops || len(cur.Lookups) == 0 {
			return located{}, false
		}

		var next *resolve.Hop
		var nextPath string
		for _, h := range resolve.Reexports(rec, cur.Lookups[0]) {
			if p, found := r.modules.Resolve(path, h.Specifier); found && p != path {
				next, nextPath = &h, p
				break
			}
		}
		if next == nil {
			return located{}, false
		}
		refs = append(refs, contributedImport{file: path, ref: r.importRef(next.Specifier, nextPath)})
		cur = resolve.Resolution{
			Kind:          resolve.External,
			Path:          nextPath,
			Specifier:     next.Specifier,
			Lookups:       next.Lookups,
			DefaultImport: next.Default,
			Unqualified:   cur.Unqualified && !next.Default,
		}
		path = nextPath
	}
}

// load returns the record for path, analyzing it when first needed.
func (t *Tracer) load(ctx context.Context, r *run, path string) (*record.Record, bool) {
	st := r.st
	if rec, ok := st.cache[path]; ok {
		return rec, !rec.Failed()
	}
	if len(st.cache) >= r.opts.MaxFiles {
		st.halt(Warning{
			Kind:    WarningGuardExceeded,
			File:    path,
			Message: "file limit reached",
		})
		return nil, false
	}

	rec, ok := st.prefetched[path]
	if ok {
		delete(st.prefetched, path)
	} else {
		rec = t.analyzer.Analyze(ctx, path)
	}
	st.store(path, rec)
	if rec.Failed() {
		r.logger.Warn("analysis failed",
			slog.String("file", path),
			slog.String("error", rec.Error))
		return rec, false
	}
	return rec, true
}

func (r *run) importRef(specifier, path string) ImportRef {
	return ImportRef{Specifier: specifier, ResolvedPath: path, ResolvedRel: r.modules.Rel(path)}
}

// result converts the traversal state into a Result.
func (r *run) result(startFile, startFunction string) *Result {
	st := r.st
	res := &Result{
		RunID:         r.id,
		ProjectRoot:   r.root,
		StartFile:     r.modules.Rel(startFile),
		StartFunction: startFunction,
		Partial:       st.partial,
	}

	for _, tk := range st.collected {
		fn, _ := st.cache[tk.file].Function(tk.name)
		res.Functions = append(res.Functions, CollectedFunction{
			File:          tk.file,
			RelPath:       r.modules.Rel(tk.file),
			QualifiedName: tk.name,
			Source:        fn.Source,
			Location:      fn.Location,
			Depth:         tk.depth,
		})
	}

	for _, cm := range st.classes {
		c, ok := st.cache[cm.file].Class(cm.name)
		if !ok {
			continue
		}
		res.Classes = append(res.Classes, CollectedClass{
			File:      cm.file,
			RelPath:   r.modules.Rel(cm.file),
			Name:      cm.name,
			Source:    c.Source,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Reason:    cm.reason,
		})
	}

	for _, fi := range st.imports {
		res.Imports = append(res.Imports, FileImports{
			File:    fi.file,
			RelPath: r.modules.Rel(fi.file),
			Refs:    fi.refs,
		})
	}

	for _, ext := range st.externals {
		res.Externals = append(res.Externals, ExternalModule{
			File:      ext.file,
			RelPath:   r.modules.Rel(ext.file),
			Specifier: ext.specifier,
			Names:     ext.names,
		})
	}

	for _, w := range st.warnings {
		if w.File != "" {
			w.File = r.modules.Rel(w.File)
		}
		res.Warnings = append(res.Warnings, w)
	}

	res.Stats = Stats{
		FilesAnalyzed:   len(st.cacheOrder),
		NodesCollected:  len(st.collected),
		CallsResolved:   st.resolved,
		CallsUnresolved: st.unresolved,
	}
	return res
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/AleutianAI/codecollector/services/collector/ast"
	"github.com/AleutianAI/codecollector/services/collector/record"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAnalyzer serves prepared records and counts analyses per file.
type fakeAnalyzer struct {
	mu      sync.Mutex
	records map[string]*record.Record
	failing map[string]bool
	counts  map[string]int
	onLoad  func(path string)
}

func newFake(recs ...*record.Record) *fakeAnalyzer {
	f := &fakeAnalyzer{
		records: make(map[string]*record.Record),
		failing: make(map[string]bool),
		counts:  make(map[string]int),
	}
	for _, r := range recs {
		f.records[r.FilePath] = r
	}
	return f
}

func (f *fakeAnalyzer) Analyze(_ context.Context, path string) *record.Record {
	f.mu.Lock()
	f.counts[path]++
	hook := f.onLoad
	f.mu.Unlock()
	if hook != nil {
		hook(path)
	}
	if f.failing[path] {
		return record.Failed(path, "python", errors.New("parse exploded"))
	}
	if r, ok := f.records[path]; ok {
		return r
	}
	return record.Failed(path, "python", os.ErrNotExist)
}

func (f *fakeAnalyzer) exists(path string) bool {
	path = filepath.ToSlash(path)
	_, ok := f.records[path]
	return ok || f.failing[path]
}

func (f *fakeAnalyzer) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[path]
}

func (f *fakeAnalyzer) tracer() *Tracer {
	return New(f,
		WithFileExists(f.exists),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// def adds a function; calls are written as they appear in source.
func def(r *record.Record, name string, calls ...string) {
	class, member := record.SplitQualified(name)
	fn := record.Function{
		QualifiedName: name,
		Source:        "def " + name,
		Location:      record.Location{StartLine: 1, EndLine: 2, ClassName: class, FunctionName: member},
	}
	for _, c := range calls {
		cs := record.CallSite{Name: c}
		if i := strings.LastIndex(c, "."); i >= 0 {
			cs = record.CallSite{Module: c[:i], Name: c[i+1:]}
		}
		fn.Calls = append(fn.Calls, cs)
	}
	r.AddFunction(fn)
}

func class(r *record.Record, name string) {
	r.AddClass(record.Class{Name: name, Source: "class " + name, StartLine: 1, EndLine: 9})
}

func names(res *Result) []string {
	out := make([]string, 0, len(res.Functions))
	for _, fn := range res.Functions {
		out = append(out, fn.RelPath+"::"+fn.QualifiedName)
	}
	return out
}

func TestTrace_Recursion(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	def(a, "main", "main", "f")
	def(a, "f", "main", "f")

	res, err := newFake(a).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main", "a.py::f"}, names(res))
	assert.False(t, res.Partial)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "a.py", res.StartFile)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 0, res.Functions[0].Depth)
	assert.Equal(t, 1, res.Functions[1].Depth)
}

func TestTrace_CrossFile(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: "helper", Alias: "helper"}, 1)
	def(a, "main", "helper", "print")

	b := record.New("/proj/b.py", "python")
	b.AddImport("os", record.Binding{Original: record.ModuleBinding, Alias: "os"}, 1)
	def(b, "helper", "util", "os.getcwd")
	def(b, "util")
	def(b, "unused")

	res, err := newFake(a, b).tracer().Trace(context.Background(), "/proj", "/proj/a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main", "b.py::helper", "b.py::util"}, names(res))

	require.Len(t, res.Imports, 1)
	assert.Equal(t, "a.py", res.Imports[0].RelPath)
	assert.Equal(t, []ImportRef{{Specifier: "b", ResolvedPath: "/proj/b.py", ResolvedRel: "b.py"}}, res.Imports[0].Refs)

	require.Len(t, res.Externals, 1)
	assert.Equal(t, "b.py", res.Externals[0].RelPath)
	assert.Equal(t, "os", res.Externals[0].Specifier)
	assert.Equal(t, []string{"getcwd"}, res.Externals[0].Names)

	assert.Equal(t, 2, res.Stats.FilesAnalyzed)
	assert.Equal(t, 3, res.Stats.NodesCollected)
	assert.Equal(t, 2, res.Stats.CallsResolved)
	assert.Equal(t, 2, res.Stats.CallsUnresolved)
	assert.Empty(t, res.Warnings)
}

func TestTrace_LocalBeatsImport(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: "helper", Alias: "helper"}, 1)
	def(a, "main", "helper")
	def(a, "helper")

	b := record.New("/proj/b.py", "python")
	def(b, "helper")

	fake := newFake(a, b)
	res, err := fake.tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main", "a.py::helper"}, names(res))
	assert.Zero(t, fake.count("/proj/b.py"))
}

func TestTrace_StartErrors(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	def(a, "main")
	def(a, "other")
	tr := newFake(a).tracer()

	t.Run("function not found", func(t *testing.T) {
		res, err := tr.Trace(context.Background(), "/proj", "a.py", "missing", Options{})
		require.Error(t, err)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrStartFunctionNotFound)

		var se *StartError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "missing", se.Function)
		assert.Equal(t, []string{"main", "other"}, se.Available)
	})

	t.Run("file unreadable", func(t *testing.T) {
		res, err := tr.Trace(context.Background(), "/proj", "nope.py", "main", Options{})
		require.Error(t, err)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrStartFileUnreadable)
	})

	t.Run("invalid options", func(t *testing.T) {
		res, err := tr.Trace(context.Background(), "/proj", "a.py", "main", Options{MaxNodes: -1})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("canceled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := tr.Trace(ctx, "/proj", "a.py", "main", Options{})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTrace_UnqualifiedMethodStart(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	class(a, "Service")
	def(a, "Service.run", "self.step")
	def(a, "Service.step")

	res, err := newFake(a).tracer().Trace(context.Background(), "/proj", "a.py", "run", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::Service.run", "a.py::Service.step"}, names(res))
	require.Len(t, res.Classes, 1)
	assert.Equal(t, ClassReasonMethod, res.Classes[0].Reason)
}

func TestTrace_NodeGuard(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	def(a, "main", "f1", "f2", "f3", "f4")
	for _, n := range []string{"f1", "f2", "f3", "f4"} {
		def(a, n)
	}

	res, err := newFake(a).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{MaxNodes: 2})
	require.NoError(t, err)

	assert.Len(t, res.Functions, 2)
	assert.True(t, res.Partial)
	assert.Len(t, res.WarningsOf(WarningGuardExceeded), 1)
	assert.ErrorIs(t, res.Err(), ErrGuardExceeded)
}

func TestTrace_DepthGuard(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	def(a, "main", "f1")
	def(a, "f1", "f2")
	def(a, "f2", "f3")
	def(a, "f3")
	def(a, "leaf", "print")
	def(a, "top", "leaf")

	t.Run("prunes followable calls", func(t *testing.T) {
		res, err := newFake(a).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{MaxDepth: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.py::main", "a.py::f1"}, names(res))
		assert.True(t, res.Partial)
		assert.Len(t, res.WarningsOf(WarningGuardExceeded), 1)
	})

	t.Run("unresolved calls at the limit are not a prune", func(t *testing.T) {
		res, err := newFake(a).tracer().Trace(context.Background(), "/proj", "a.py", "top", Options{MaxDepth: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.py::top", "a.py::leaf"}, names(res))
		assert.False(t, res.Partial)
		assert.Empty(t, res.Warnings)
	})
}

func TestTrace_FileGuard(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: "helper", Alias: "helper"}, 1)
	def(a, "main", "helper")
	b := record.New("/proj/b.py", "python")
	def(b, "helper")

	res, err := newFake(a, b).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{MaxFiles: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main"}, names(res))
	assert.True(t, res.Partial)
	w := res.WarningsOf(WarningGuardExceeded)
	require.Len(t, w, 1)
	assert.Equal(t, "b.py", w[0].File)
}

func TestTrace_AnalysisFailed(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: "helper", Alias: "helper"}, 1)
	a.AddImport("b", record.Binding{Original: "other", Alias: "other"}, 1)
	def(a, "main", "helper", "other")

	fake := newFake(a)
	fake.failing["/proj/b.py"] = true

	res, err := fake.tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main"}, names(res))
	assert.False(t, res.Partial)
	w := res.WarningsOf(WarningAnalysisFailed)
	require.Len(t, w, 1)
	assert.Equal(t, "b.py", w[0].File)
	assert.Contains(t, w[0].Message, "parse exploded")
	assert.Equal(t, 1, fake.count("/proj/b.py"))
}

func TestTrace_AmbiguousMethod(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	def(a, "main", "run", "run")
	class(a, "Service")
	def(a, "Service.run")
	class(a, "Other")
	def(a, "Other.run")

	res, err := newFake(a).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main", "a.py::Service.run"}, names(res))
	w := res.WarningsOf(WarningResolutionAmbiguous)
	require.Len(t, w, 1)
	assert.Contains(t, w[0].Message, "Other.run")
}

func TestTrace_ClassConstructor(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	def(a, "main", "Service", "Worker.go")
	class(a, "Service")
	def(a, "Service.__init__", "self.setup")
	def(a, "Service.setup")
	def(a, "Service.unused")
	class(a, "Worker")
	def(a, "Worker.go")

	res, err := newFake(a).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a.py::main",
		"a.py::Service.__init__",
		"a.py::Worker.go",
		"a.py::Service.setup",
	}, names(res))

	require.Len(t, res.Classes, 2)
	assert.Equal(t, "Service", res.Classes[0].Name)
	assert.Equal(t, ClassReasonReference, res.Classes[0].Reason)
	assert.Equal(t, "Worker", res.Classes[1].Name)
	assert.Equal(t, ClassReasonMethod, res.Classes[1].Reason)
}

func TestTrace_ReexportChain(t *testing.T) {
	app := record.New("/proj/src/app.ts", "typescript")
	app.AddImport("./lib", record.Binding{Original: "helper", Alias: "helper"}, 1)
	def(app, "main", "helper")

	index := record.New("/proj/src/lib/index.ts", "typescript")
	index.AddImport("./helper", record.Binding{Original: "helper", Alias: "helper", Reexport: true}, 1)

	impl := record.New("/proj/src/lib/helper.ts", "typescript")
	def(impl, "helper")

	res, err := newFake(app, index, impl).tracer().Trace(context.Background(), "/proj", "src/app.ts", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/app.ts::main", "src/lib/helper.ts::helper"}, names(res))
	require.Len(t, res.Imports, 2)
	assert.Equal(t, "src/app.ts", res.Imports[0].RelPath)
	assert.Equal(t, "src/lib/index.ts", res.Imports[0].Refs[0].ResolvedRel)
	assert.Equal(t, "src/lib/index.ts", res.Imports[1].RelPath)
	assert.Equal(t, "src/lib/helper.ts", res.Imports[1].Refs[0].ResolvedRel)
}

func TestTrace_DefaultImportAlias(t *testing.T) {
	a := record.New("/proj/a.ts", "typescript")
	a.AddImport("./b", record.Binding{Original: record.DefaultBinding, Alias: "make"}, 1)
	def(a, "main", "make")

	b := record.New("/proj/b.ts", "typescript")
	def(b, "createWidget")
	b.DefaultExport = "createWidget"

	res, err := newFake(a, b).tracer().Trace(context.Background(), "/proj", "a.ts", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.ts::main", "b.ts::createWidget"}, names(res))
	require.Len(t, res.Imports, 1)
	assert.Equal(t, "a.ts", res.Imports[0].RelPath)
	assert.Equal(t, "./b", res.Imports[0].Refs[0].Specifier)
	assert.Equal(t, 0, res.Stats.CallsUnresolved)
}

func TestTrace_DefaultImportClass(t *testing.T) {
	a := record.New("/proj/a.ts", "typescript")
	a.AddImport("./widget", record.Binding{Original: record.DefaultBinding, Alias: "W"}, 1)
	def(a, "main", "W")

	w := record.New("/proj/widget.ts", "typescript")
	class(w, "Widget")
	def(w, "Widget.constructor")
	w.DefaultExport = "Widget"

	res, err := newFake(a, w).tracer().Trace(context.Background(), "/proj", "a.ts", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.ts::main", "widget.ts::Widget.constructor"}, names(res))
	require.Len(t, res.Classes, 1)
	assert.Equal(t, ClassReasonReference, res.Classes[0].Reason)
}

func TestTrace_ImportedMethodName(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: "run", Alias: "run"}, 1)
	def(a, "main", "run")

	b := record.New("/proj/b.py", "python")
	class(b, "Job")
	def(b, "Job.run")
	class(b, "Task")
	def(b, "Task.run")

	res, err := newFake(a, b).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main", "b.py::Job.run"}, names(res))
	require.Len(t, res.Imports, 1)
	assert.Equal(t, "b", res.Imports[0].Refs[0].Specifier)

	w := res.WarningsOf(WarningResolutionAmbiguous)
	require.Len(t, w, 1)
	assert.Equal(t, "a.py", w[0].File)
	assert.Contains(t, w[0].Message, "Task.run")
}

func TestTrace_QualifiedCallSkipsMethodNames(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: record.ModuleBinding, Alias: "b"}, 1)
	def(a, "main", "b.run")

	b := record.New("/proj/b.py", "python")
	class(b, "Job")
	def(b, "Job.run")

	res, err := newFake(a, b).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main"}, names(res))
	assert.Equal(t, 1, res.Stats.CallsUnresolved)
}

func TestTrace_ImportsOnlyForNewTargets(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: "helper", Alias: "helper"}, 1)
	a.AddImport("c", record.Binding{Original: "other", Alias: "other"}, 2)
	def(a, "main", "helper", "other")

	b := record.New("/proj/b.py", "python")
	def(b, "helper")

	c := record.New("/proj/c.py", "python")
	c.AddImport("b", record.Binding{Original: "helper", Alias: "helper"}, 1)
	def(c, "other", "helper")

	res, err := newFake(a, b, c).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main", "b.py::helper", "c.py::other"}, names(res))
	require.Len(t, res.Imports, 1)
	assert.Equal(t, "a.py", res.Imports[0].RelPath)
	require.Len(t, res.Imports[0].Refs, 2)
	assert.Equal(t, "b", res.Imports[0].Refs[0].Specifier)
	assert.Equal(t, "c", res.Imports[0].Refs[1].Specifier)
	assert.Equal(t, 3, res.Stats.CallsResolved)
}

func TestTrace_Wildcard(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: record.ModuleBinding, Alias: record.ModuleBinding}, 1)
	def(a, "main", "helper", "missing")
	b := record.New("/proj/b.py", "python")
	def(b, "helper")

	res, err := newFake(a, b).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main", "b.py::helper"}, names(res))
	assert.Empty(t, res.Warnings)
}

func TestTrace_Cancellation(t *testing.T) {
	a := record.New("/proj/a.py", "python")
	a.AddImport("b", record.Binding{Original: "helper", Alias: "helper"}, 1)
	def(a, "main", "helper")
	b := record.New("/proj/b.py", "python")
	def(b, "helper", "deeper")
	def(b, "deeper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := newFake(a, b)
	fake.onLoad = func(path string) {
		if path == "/proj/b.py" {
			cancel()
		}
	}

	res, err := fake.tracer().Trace(ctx, "/proj", "a.py", "main", Options{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py::main", "b.py::helper"}, names(res))
	assert.True(t, res.Partial)
	assert.Len(t, res.WarningsOf(WarningCanceled), 1)
}

func fanOut() *fakeAnalyzer {
	a := record.New("/proj/a.py", "python")
	var calls []string
	recs := []*record.Record{a}
	for _, m := range []string{"m1", "m2", "m3", "m4", "m5"} {
		a.AddImport(m, record.Binding{Original: record.ModuleBinding, Alias: m}, 1)
		calls = append(calls, m+".run")
		r := record.New("/proj/"+m+".py", "python")
		def(r, "run", "shared")
		def(r, "shared")
		recs = append(recs, r)
	}
	def(a, "main", calls...)
	return newFake(recs...)
}

func TestTrace_PrefetchAnalyzesOnce(t *testing.T) {
	fake := fanOut()
	res, err := fake.tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{Workers: 4})
	require.NoError(t, err)

	assert.Len(t, res.Functions, 11)
	for _, m := range []string{"m1", "m2", "m3", "m4", "m5"} {
		assert.Equal(t, 1, fake.count("/proj/"+m+".py"), m)
	}
}

func TestTrace_Deterministic(t *testing.T) {
	var runs [][]string
	for _, workers := range []int{1, 4, 8, 1} {
		res, err := fanOut().tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{Workers: workers, MaxFiles: 4})
		require.NoError(t, err)
		var ws []string
		for _, w := range res.Warnings {
			ws = append(ws, w.String())
		}
		runs = append(runs, append(names(res), ws...))
	}
	for _, r := range runs[1:] {
		assert.Equal(t, runs[0], r)
	}
}

func TestTrace_ConcurrentCalls(t *testing.T) {
	tr := fanOut().tracer()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.Trace(context.Background(), "/proj", "a.py", "main", Options{})
			assert.NoError(t, err)
			assert.Len(t, res.Functions, 11)
		}()
	}
	wg.Wait()
}

func TestTrace_Span(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	a := record.New("/proj/a.py", "python")
	def(a, "main")
	_, err := newFake(a).tracer().Trace(context.Background(), "/proj", "a.py", "main", Options{})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "tracer.Trace", spans[0].Name)
}

func TestTrace_RealFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("app.py", `from lib.util import clean

def main():
    clean("x")
`)
	write("lib/__init__.py", "")
	write("lib/util.py", `import json

def clean(s):
    return json.dumps(strip(s))

def strip(s):
    return s.strip()
`)

	tr := New(ast.NewRegistry(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	res, err := tr.Trace(context.Background(), dir, "app.py", "main", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"app.py::main", "lib/util.py::clean", "lib/util.py::strip"}, names(res))
	require.Len(t, res.Externals, 1)
	assert.Equal(t, "json", res.Externals[0].Specifier)
}

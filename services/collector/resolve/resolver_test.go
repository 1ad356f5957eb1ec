// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

func addFn(r *record.Record, name string) {
	class, member := record.SplitQualified(name)
	r.AddFunction(record.Function{
		QualifiedName: name,
		Source:        name,
		Location:      record.Location{StartLine: 1, EndLine: 1, ClassName: class, FunctionName: member},
	})
}

func addClass(r *record.Record, name string) {
	r.AddClass(record.Class{Name: name, Source: "class " + name, StartLine: 1, EndLine: 1})
}

func newTestResolver(files []string, opts ...Option) *Resolver {
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f] = true
	}
	modules := NewModuleResolver("/proj", nil,
		WithFileExists(func(p string) bool { return known[filepath.ToSlash(p)] }))
	return NewResolver(modules, opts...)
}

func TestResolver_BareLocal(t *testing.T) {
	rec := record.New("/proj/a.py", "python")
	addFn(rec, "main")
	addFn(rec, "helper")
	addClass(rec, "Service")
	addFn(rec, "Service.run")
	addClass(rec, "Other")
	addFn(rec, "Other.run")
	rec.AddImport(".b", record.Binding{Original: "helper", Alias: "helper"}, 1)

	r := newTestResolver([]string{"/proj/b.py"})

	t.Run("local function beats import", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "helper"})
		assert.Equal(t, Local, res.Kind)
		assert.Equal(t, "helper", res.Target)
	})
	t.Run("class constructor", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "Service"})
		assert.Equal(t, Local, res.Kind)
		assert.True(t, res.TargetIsClass)
	})
	t.Run("method name first match", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "run"})
		assert.Equal(t, Local, res.Kind)
		assert.Equal(t, "Service.run", res.Target)
		assert.True(t, res.Ambiguous())
		assert.Equal(t, []string{"Service.run", "Other.run"}, res.Candidates)
	})
	t.Run("unknown", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "print"})
		assert.Equal(t, Unresolved, res.Kind)
		assert.NotEmpty(t, res.Reason)
	})
}

func TestResolver_BareImports(t *testing.T) {
	rec := record.New("/proj/src/a.ts", "typescript")
	addFn(rec, "main")
	rec.AddImport("./b", record.Binding{Original: "b", Alias: "b"}, 1)
	rec.AddImport("./c", record.Binding{Original: "c", Alias: "cee"}, 2)
	rec.AddImport("./d", record.Binding{Original: record.DefaultBinding, Alias: "d"}, 3)
	rec.AddImport("lodash", record.Binding{Original: "map", Alias: "map"}, 4)
	rec.AddImport("./re", record.Binding{Original: "re", Alias: "re", Reexport: true}, 5)

	r := newTestResolver([]string{"/proj/src/b.ts", "/proj/src/c.ts", "/proj/src/d/index.ts", "/proj/src/re.ts"})

	tests := []struct {
		name     string
		call     string
		kind     Kind
		path     string
		lookups  []string
		dflt     bool
		external bool
	}{
		{"named", "b", External, "/proj/src/b.ts", []string{"b"}, false, false},
		{"aliased", "cee", External, "/proj/src/c.ts", []string{"c"}, false, false},
		{"default", "d", External, "/proj/src/d/index.ts", []string{"d"}, true, false},
		{"package", "map", Unresolved, "", []string{"map"}, false, true},
		{"reexport does not bind", "re", Unresolved, "", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(rec, "main", record.CallSite{Name: tt.call})
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.path, filepath.ToSlash(res.Path))
			assert.Equal(t, tt.lookups, res.Lookups)
			assert.Equal(t, tt.dflt, res.DefaultImport)
			assert.Equal(t, tt.external, res.ExternalModule)
		})
	}
}

func TestResolver_Receivers(t *testing.T) {
	rec := record.New("/proj/app/main.py", "python")
	addClass(rec, "Service")
	addFn(rec, "Service.run")
	addFn(rec, "Service.setup")
	addFn(rec, "main")
	rec.AddImport("os", record.Binding{Original: record.ModuleBinding, Alias: "os"}, 1)
	rec.AddImport("app.store", record.Binding{Original: record.ModuleBinding, Alias: "store"}, 2)
	rec.AddImport(".", record.Binding{Original: "utils", Alias: "utils"}, 3)
	rec.AddImport(".models", record.Binding{Original: "User", Alias: "User"}, 4)
	rec.AddImport("app", record.Binding{Original: record.ModuleBinding, Alias: "app"}, 5)

	r := newTestResolver([]string{
		"/proj/app/store.py",
		"/proj/app/utils.py",
		"/proj/app/models.py",
		"/proj/app/__init__.py",
		"/proj/app/deep/mod.py",
	})

	t.Run("self method", func(t *testing.T) {
		res := r.Resolve(rec, "Service.run", record.CallSite{Name: "setup", Module: "self"})
		assert.Equal(t, Local, res.Kind)
		assert.Equal(t, "Service.setup", res.Target)
	})
	t.Run("self missing method", func(t *testing.T) {
		res := r.Resolve(rec, "Service.run", record.CallSite{Name: "gone", Module: "self"})
		assert.Equal(t, Unresolved, res.Kind)
	})
	t.Run("self outside class", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "setup", Module: "self"})
		assert.Equal(t, Unresolved, res.Kind)
	})
	t.Run("local class receiver", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "run", Module: "Service"})
		assert.Equal(t, Local, res.Kind)
		assert.Equal(t, "Service.run", res.Target)
	})
	t.Run("module alias", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "save", Module: "store"})
		assert.Equal(t, External, res.Kind)
		assert.Equal(t, "/proj/app/store.py", filepath.ToSlash(res.Path))
		assert.Equal(t, []string{"save"}, res.Lookups)
		assert.Equal(t, "app.store", res.Specifier)
	})
	t.Run("submodule binding", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "fmt", Module: "utils"})
		assert.Equal(t, External, res.Kind)
		assert.Equal(t, "/proj/app/utils.py", filepath.ToSlash(res.Path))
		assert.Equal(t, []string{"fmt"}, res.Lookups)
	})
	t.Run("class binding", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "load", Module: "User"})
		assert.Equal(t, External, res.Kind)
		assert.Equal(t, "/proj/app/models.py", filepath.ToSlash(res.Path))
		assert.Equal(t, []string{"User.load"}, res.Lookups)
	})
	t.Run("dotted receiver through package", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "go", Module: "app.deep.mod"})
		assert.Equal(t, External, res.Kind)
		assert.Equal(t, "/proj/app/deep/mod.py", filepath.ToSlash(res.Path))
	})
	t.Run("stdlib", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "join", Module: "os.path"})
		assert.Equal(t, Unresolved, res.Kind)
		assert.True(t, res.ExternalModule)
	})
	t.Run("unknown receiver", func(t *testing.T) {
		res := r.Resolve(rec, "main", record.CallSite{Name: "x", Module: "obj"})
		assert.Equal(t, Unresolved, res.Kind)
		assert.False(t, res.ExternalModule)
	})
}

func TestResolver_ReceiverPrecedence(t *testing.T) {
	rec := record.New("/proj/a.ts", "typescript")
	addClass(rec, "Api")
	addFn(rec, "Api.get")
	rec.AddImport("./api", record.Binding{Original: record.ModuleBinding, Alias: "Api"}, 1)
	files := []string{"/proj/api.ts"}

	res := newTestResolver(files).Resolve(rec, "x", record.CallSite{Name: "get", Module: "Api"})
	assert.Equal(t, External, res.Kind, "imports win by default")

	res = newTestResolver(files, WithPreferLocalClassReceiver(true)).Resolve(rec, "x", record.CallSite{Name: "get", Module: "Api"})
	assert.Equal(t, Local, res.Kind)
	assert.Equal(t, "Api.get", res.Target)
}

func TestResolver_Wildcard(t *testing.T) {
	rec := record.New("/proj/a.py", "python")
	rec.AddImport("typing", record.Binding{Original: record.ModuleBinding, Alias: record.ModuleBinding}, 1)
	rec.AddImport(".helpers", record.Binding{Original: record.ModuleBinding, Alias: record.ModuleBinding}, 2)

	res := newTestResolver([]string{"/proj/helpers.py"}).Resolve(rec, "f", record.CallSite{Name: "assist"})
	require.Equal(t, External, res.Kind)
	assert.True(t, res.Wildcard)
	assert.Equal(t, "/proj/helpers.py", filepath.ToSlash(res.Path))
}

func TestLocate(t *testing.T) {
	target := record.New("/proj/b.ts", "typescript")
	addFn(target, "b")
	addClass(target, "Widget")
	addFn(target, "Widget.create")
	addClass(target, "Job")
	addFn(target, "Job.run")
	addClass(target, "Task")
	addFn(target, "Task.run")
	target.DefaultExport = "Widget"

	tests := []struct {
		name       string
		res        Resolution
		want       string
		isClass    bool
		ok         bool
		candidates []string
	}{
		{"function", Resolution{Lookups: []string{"b"}}, "b", false, true, nil},
		{"class", Resolution{Lookups: []string{"Widget"}}, "Widget", true, true, nil},
		{"default", Resolution{DefaultImport: true, Lookups: []string{"w"}}, "Widget", true, true, nil},
		{"default member", Resolution{DefaultImport: true, Member: "create"}, "Widget.create", false, true, nil},
		{"qualified fallback order", Resolution{Lookups: []string{"Nope.x", "b"}}, "b", false, true, nil},
		{"method of bare call", Resolution{Lookups: []string{"create"}, Unqualified: true}, "Widget.create", false, true, nil},
		{"ambiguous method", Resolution{Lookups: []string{"run"}, Unqualified: true}, "Job.run", false, true, []string{"Job.run", "Task.run"}},
		{"method needs bare call", Resolution{Lookups: []string{"create"}}, "", false, false, nil},
		{"miss", Resolution{Lookups: []string{"zzz"}, Unqualified: true}, "", false, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := Locate(target, tt.res)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, def.Name)
			assert.Equal(t, tt.isClass, def.IsClass)
			assert.Equal(t, tt.candidates, def.Candidates)
		})
	}
}

func TestLocate_DefaultFunction(t *testing.T) {
	target := record.New("/proj/b.ts", "typescript")
	addFn(target, "createWidget")
	target.DefaultExport = "createWidget"

	def, ok := Locate(target, Resolution{DefaultImport: true, Lookups: []string{"make"}})
	require.True(t, ok)
	assert.Equal(t, "createWidget", def.Name)
	assert.False(t, def.IsClass)
}

func TestReexports(t *testing.T) {
	barrel := record.New("/proj/index.ts", "typescript")
	barrel.AddImport("./a", record.Binding{Original: "impl", Alias: "run", Reexport: true}, 1)
	barrel.AddImport("./b", record.Binding{Original: record.ModuleBinding, Alias: record.ModuleBinding, Reexport: true}, 2)
	barrel.AddImport("./c", record.Binding{Original: record.DefaultBinding, Alias: "run"}, 3)

	hops := Reexports(barrel, "run")
	require.Len(t, hops, 3)
	assert.Equal(t, Hop{Specifier: "./a", Lookups: []string{"impl"}}, hops[0])
	assert.Equal(t, Hop{Specifier: "./c", Default: true, Lookups: []string{"run"}}, hops[1])
	assert.Equal(t, Hop{Specifier: "./b", Lookups: []string{"run"}}, hops[2], "wildcards come last")
}

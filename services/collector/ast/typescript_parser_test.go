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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

const typeScriptSource = `import { b, c as cee } from './b';
import d from './d';
import * as ns from '../ns';
const fs = require('fs');
const { x, y: why } = require('./xy');
export { re } from './re';
export * from './all';

export function a(): void {
  b();
  ns.helper();
  new Widget();
  console.log("done");
}

export default class Widget {
  private count = 0;
  constructor() {
    this.init();
  }
  init(): void {
    cee();
  }
  handle = () => {
    d();
  };
}

const arrow = (n: number) => b(n);
`

func callStrings(calls []record.CallSite) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

func parseTypeScript(t *testing.T, src, path string) *record.Record {
	t.Helper()
	rec, err := NewTypeScriptParser().Parse(context.Background(), []byte(src), path)
	require.NoError(t, err)
	require.NoError(t, rec.Validate())
	return rec
}

func TestTypeScriptParser_Functions(t *testing.T) {
	rec := parseTypeScript(t, typeScriptSource, "src/a.ts")

	assert.Equal(t, "typescript", rec.Language)
	assert.Equal(t,
		[]string{"a", "Widget.constructor", "Widget.init", "Widget.handle", "arrow"},
		rec.FunctionNames())

	a, ok := rec.Function("a")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(a.Source, "export function a()"))
	assert.Equal(t, 9, a.Location.StartLine)
	assert.Equal(t, 14, a.Location.EndLine)
	assert.Equal(t, []string{"b", "ns.helper", "Widget", "console.log"}, callStrings(a.Calls))

	ctor, _ := rec.Function("Widget.constructor")
	assert.Equal(t, "Widget", ctor.Location.ClassName)
	assert.Equal(t, []string{"this.init"}, callStrings(ctor.Calls))

	handle, _ := rec.Function("Widget.handle")
	assert.Equal(t, []string{"d"}, callStrings(handle.Calls))

	arrow, _ := rec.Function("arrow")
	assert.Equal(t, []string{"b"}, callStrings(arrow.Calls))
	assert.True(t, strings.HasPrefix(arrow.Source, "const arrow"))
}

func TestTypeScriptParser_ClassesAndDefaultExport(t *testing.T) {
	rec := parseTypeScript(t, typeScriptSource, "src/a.ts")

	require.Len(t, rec.Classes, 1)
	assert.Equal(t, "Widget", rec.Classes[0].Name)
	assert.True(t, strings.HasPrefix(rec.Classes[0].Source, "export default class Widget"))
	assert.Equal(t, "Widget", rec.DefaultExport)
}

func TestTypeScriptParser_Imports(t *testing.T) {
	rec := parseTypeScript(t, typeScriptSource, "src/a.ts")

	tests := []struct {
		specifier string
		want      []record.Binding
	}{
		{"./b", []record.Binding{{Original: "b", Alias: "b"}, {Original: "c", Alias: "cee"}}},
		{"./d", []record.Binding{{Original: record.DefaultBinding, Alias: "d"}}},
		{"../ns", []record.Binding{{Original: record.ModuleBinding, Alias: "ns"}}},
		{"fs", []record.Binding{{Original: record.ModuleBinding, Alias: "fs"}}},
		{"./xy", []record.Binding{{Original: "x", Alias: "x"}, {Original: "y", Alias: "why"}}},
		{"./re", []record.Binding{{Original: "re", Alias: "re", Reexport: true}}},
		{"./all", []record.Binding{{Original: record.ModuleBinding, Alias: record.ModuleBinding, Reexport: true}}},
	}
	require.Len(t, rec.Imports, len(tests))
	for i, tt := range tests {
		t.Run(tt.specifier, func(t *testing.T) {
			assert.Equal(t, tt.specifier, rec.Imports[i].Specifier, "imports keep source order")
			assert.Equal(t, tt.want, rec.Imports[i].Bindings)
		})
	}
}

func TestTypeScriptParser_TSX(t *testing.T) {
	src := `import React from 'react';
import { format } from './format';

export const Label = ({ v }: { v: number }) => {
  return <span>{format(v)}</span>;
};
`
	rec := parseTypeScript(t, src, "ui/Label.tsx")
	assert.Equal(t, []string{"Label"}, rec.FunctionNames())
	label, _ := rec.Function("Label")
	assert.Equal(t, []string{"format"}, callStrings(label.Calls))
	assert.True(t, strings.HasPrefix(label.Source, "export const Label"))
}

func TestTypeScriptParser_NestedAndLocal(t *testing.T) {
	src := `function outer() {
  const local = () => helper();
  function inner() {
    deep();
  }
  items.forEach((i) => visit(i));
  return inner();
}
`
	rec := parseTypeScript(t, src, "n.ts")
	assert.Equal(t, []string{"outer", "inner"}, rec.FunctionNames(), "local closures are not recorded")

	outer, _ := rec.Function("outer")
	assert.Equal(t, []string{"helper", "items.forEach", "visit", "inner"}, callStrings(outer.Calls))

	inner, _ := rec.Function("inner")
	assert.Equal(t, []string{"deep"}, callStrings(inner.Calls))
}

func TestTypeScriptParser_AnonymousDefault(t *testing.T) {
	rec := parseTypeScript(t, "export default function () {\n  run();\n}\n", "anon.ts")
	assert.Equal(t, "default", rec.DefaultExport)
	fn, ok := rec.Function("default")
	require.True(t, ok)
	assert.Equal(t, []string{"run"}, callStrings(fn.Calls))
}

func TestJavaScriptParser(t *testing.T) {
	src := `const helper = require('./helper');
const { pick } = require('./util').tools;

function main() {
  helper.run();
  local();
}

function local() {}

class Foo {
  bar() { return local(); }
  baz = () => main();
}

module.exports = { main };
`
	rec, err := NewJavaScriptParser().Parse(context.Background(), []byte(src), "lib/main.js")
	require.NoError(t, err)
	require.NoError(t, rec.Validate())

	assert.Equal(t, "javascript", rec.Language)
	assert.Equal(t, []string{"main", "local", "Foo.bar", "Foo.baz"}, rec.FunctionNames())

	main, _ := rec.Function("main")
	assert.Equal(t, []string{"helper.run", "local"}, callStrings(main.Calls))

	baz, _ := rec.Function("Foo.baz")
	assert.Equal(t, []string{"main"}, callStrings(baz.Calls))

	imp, ok := rec.Import("./helper")
	require.True(t, ok)
	assert.Equal(t, []record.Binding{{Original: record.ModuleBinding, Alias: "helper"}}, imp.Bindings)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assemble renders a trace result as fenced source blocks.
package assemble

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/codecollector/services/collector/tracer"
)

// Options control rendering.
type Options struct {
	// IncludeWholeClassOnMethodHit emits the full class of every collected
	// method instead of the methods alone.
	IncludeWholeClassOnMethodHit bool
}

// span is an emitted line range in one file.
type span struct {
	file       string
	start, end int
}

func (s span) contains(o span) bool {
	return s.file == o.file && s.start <= o.start && o.end <= s.end && (s.start != o.start || s.end != o.end)
}

// Render converts res into text.
//
// Description:
//
//	Functions come first in discovery order, one block each with a
//	"<path> :: <name>" header and the verbatim source. Classes follow. A
//	class is emitted whole when a call named it directly or when
//	opts.IncludeWholeClassOnMethodHit is set, and its methods are then not
//	repeated as separate blocks. A function nested inside another emitted
//	block of the same file is also not repeated. The output ends with an
//	index of the imports that led across files and the external modules
//	that traced code calls into.
//
// Inputs:
//
//	res - Trace result. Nil renders as the empty string.
//	opts - Rendering options.
//
// Outputs:
//
//	string - Deterministic for equal inputs.
func Render(res *tracer.Result, opts Options) string {
	if res == nil {
		return ""
	}

	wholeClass := make(map[[2]string]bool)
	var classSpans []span
	for _, c := range res.Classes {
		if c.Reason == tracer.ClassReasonReference || opts.IncludeWholeClassOnMethodHit {
			wholeClass[[2]string{c.File, c.Name}] = true
			classSpans = append(classSpans, span{file: c.File, start: c.StartLine, end: c.EndLine})
		}
	}

	var fnSpans []span
	for _, fn := range res.Functions {
		fnSpans = append(fnSpans, span{file: fn.File, start: fn.Location.StartLine, end: fn.Location.EndLine})
	}

	var b strings.Builder
	emitted := make(map[[2]string]bool)

	for i, fn := range res.Functions {
		key := [2]string{fn.File, fn.QualifiedName}
		if emitted[key] {
			continue
		}
		if fn.Location.ClassName != "" && wholeClass[[2]string{fn.File, fn.Location.ClassName}] {
			continue
		}
		if nestedIn(fnSpans[i], classSpans) || nestedIn(fnSpans[i], fnSpans) {
			continue
		}
		emitted[key] = true
		writeBlock(&b, fn.RelPath+" :: "+fn.QualifiedName, fn.Source)
	}

	for _, c := range res.Classes {
		key := [2]string{c.File, "class " + c.Name}
		if !wholeClass[[2]string{c.File, c.Name}] || emitted[key] {
			continue
		}
		emitted[key] = true
		writeBlock(&b, c.RelPath+" :: class "+c.Name, c.Source)
	}

	if index := importIndex(res); index != "" {
		writeBlock(&b, "imports", index)
	}
	return b.String()
}

func nestedIn(s span, outer []span) bool {
	for _, o := range outer {
		if o.contains(s) {
			return true
		}
	}
	return false
}

// writeBlock writes one fenced block. The fence grows past any backtick
// run inside the body.
func writeBlock(b *strings.Builder, header, body string) {
	fence := strings.Repeat("`", max(3, longestBacktickRun(body)+1))
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(fence)
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(fence)
	b.WriteString("\n")
}

func longestBacktickRun(s string) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return longest
}

// importIndex lists, per file, the specifiers that led to other project
// files and then the external modules called into.
func importIndex(res *tracer.Result) string {
	type entry struct {
		lines []string
	}
	var order []string
	files := make(map[string]*entry)
	get := func(rel string) *entry {
		e, ok := files[rel]
		if !ok {
			e = &entry{}
			files[rel] = e
			order = append(order, rel)
		}
		return e
	}

	for _, fi := range res.Imports {
		e := get(fi.RelPath)
		for _, ref := range fi.Refs {
			e.lines = append(e.lines, fmt.Sprintf("  %s -> %s", ref.Specifier, ref.ResolvedRel))
		}
	}
	for _, ext := range res.Externals {
		e := get(ext.RelPath)
		e.lines = append(e.lines, fmt.Sprintf("  %s (external): %s", ext.Specifier, strings.Join(ext.Names, ", ")))
	}
	if len(order) == 0 {
		return ""
	}

	var b strings.Builder
	for _, rel := range order {
		b.WriteString(rel)
		b.WriteString("\n")
		for _, line := range files[rel].lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Summary describes res in one line.
func Summary(res *tracer.Result) string {
	if res == nil {
		return "nothing collected"
	}
	s := fmt.Sprintf("collected %s and %s from %s",
		plural(len(res.Functions), "function", "functions"),
		plural(len(res.Classes), "class", "classes"),
		plural(res.Stats.FilesAnalyzed, "file", "files"))
	if n := len(res.Warnings); n > 0 {
		s += " with " + plural(n, "warning", "warnings")
	}
	if res.Partial {
		s += " (partial)"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

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
	"github.com/AleutianAI/codecollector/services/collector/record"
)

// nodeKey identifies a function across the project.
type nodeKey struct {
	file string
	name string
}

// task is one worklist entry.
type task struct {
	nodeKey
	depth int
}

type classMark struct {
	nodeKey
	reason ClassReason
}

type fileImports struct {
	file  string
	refs  []ImportRef
	index map[string]bool
}

type externalRef struct {
	file      string
	specifier string
	names     []string
	seen      map[string]bool
}

// state is the traversal state of one trace.
//
// Thread Safety: owned by the goroutine running Trace. Prefetch workers
// never touch it; their results are handed over after they finish.
type state struct {
	opts Options

	visited   map[nodeKey]bool
	worklist  []task
	collected []task

	classes     []classMark
	classIndex  map[nodeKey]int
	imports     []*fileImports
	importIndex map[string]int
	externals   []*externalRef
	extIndex    map[[2]string]int

	// cache holds every record analyzed in this run, in analysis order.
	cache      map[string]*record.Record
	cacheOrder []string

	// prefetched holds records analyzed ahead of need. They move into
	// cache only when the traversal asks for them, so guards and warnings
	// see files in the same order as a sequential run.
	prefetched map[string]*record.Record

	warnings    []Warning
	warnedFiles map[string]bool
	warnedAmbig map[string]bool
	halted      bool
	depthPruned bool
	partial     bool
	resolved    int
	unresolved  int
}

func newState(opts Options) *state {
	return &state{
		opts:        opts,
		visited:     make(map[nodeKey]bool),
		classIndex:  make(map[nodeKey]int),
		importIndex: make(map[string]int),
		extIndex:    make(map[[2]string]int),
		cache:       make(map[string]*record.Record),
		prefetched:  make(map[string]*record.Record),
		warnedFiles: make(map[string]bool),
		warnedAmbig: make(map[string]bool),
	}
}

func (s *state) pending() bool { return len(s.worklist) > 0 }

func (s *state) pop() task {
	t := s.worklist[0]
	s.worklist = s.worklist[1:]
	return t
}

// admit marks a function visited and queues it, enforcing the node guard.
// It returns false when the function was already visited or the guard
// stopped the trace.
func (s *state) admit(file, name string, depth int) bool {
	key := nodeKey{file: file, name: name}
	if s.visited[key] {
		return false
	}
	if s.halted {
		return false
	}
	if len(s.visited) >= s.opts.MaxNodes {
		s.halt(Warning{
			Kind:     WarningGuardExceeded,
			File:     file,
			Function: name,
			Message:  "node limit reached",
		})
		return false
	}
	s.visited[key] = true
	s.worklist = append(s.worklist, task{nodeKey: key, depth: depth})
	return true
}

func (s *state) halt(w Warning) {
	if s.halted {
		return
	}
	s.halted = true
	s.partial = true
	s.warnings = append(s.warnings, w)
}

func (s *state) pruneDepth(file, name string) {
	s.partial = true
	if s.depthPruned {
		return
	}
	s.depthPruned = true
	s.warnings = append(s.warnings, Warning{
		Kind:     WarningGuardExceeded,
		File:     file,
		Function: name,
		Message:  "depth limit reached; deeper calls were not followed",
	})
}

// markClass records a class, upgrading a method-only mark to a direct
// reference when needed. It reports whether the mark changed.
func (s *state) markClass(file, name string, reason ClassReason) bool {
	key := nodeKey{file: file, name: name}
	if i, ok := s.classIndex[key]; ok {
		if reason == ClassReasonReference && s.classes[i].reason != ClassReasonReference {
			s.classes[i].reason = ClassReasonReference
			return true
		}
		return false
	}
	s.classIndex[key] = len(s.classes)
	s.classes = append(s.classes, classMark{nodeKey: key, reason: reason})
	return true
}

func (s *state) addImport(file string, ref ImportRef) {
	i, ok := s.importIndex[file]
	if !ok {
		i = len(s.imports)
		s.importIndex[file] = i
		s.imports = append(s.imports, &fileImports{file: file, index: make(map[string]bool)})
	}
	fi := s.imports[i]
	if fi.index[ref.Specifier] {
		return
	}
	fi.index[ref.Specifier] = true
	fi.refs = append(fi.refs, ref)
}

func (s *state) addExternal(file, specifier, name string) {
	key := [2]string{file, specifier}
	i, ok := s.extIndex[key]
	if !ok {
		i = len(s.externals)
		s.extIndex[key] = i
		s.externals = append(s.externals, &externalRef{file: file, specifier: specifier, seen: make(map[string]bool)})
	}
	ext := s.externals[i]
	if !ext.seen[name] {
		ext.seen[name] = true
		ext.names = append(ext.names, name)
	}
}

func (s *state) store(path string, rec *record.Record) {
	if _, ok := s.cache[path]; ok {
		return
	}
	s.cache[path] = rec
	s.cacheOrder = append(s.cacheOrder, path)
	if rec.Failed() && !s.warnedFiles[path] {
		s.warnedFiles[path] = true
		s.warnings = append(s.warnings, Warning{
			Kind:    WarningAnalysisFailed,
			File:    path,
			Message: rec.Error,
		})
	}
}

func (s *state) warnAmbiguous(file, caller, call string, candidates []string) {
	key := file + "\x00" + caller + "\x00" + call
	if s.warnedAmbig[key] {
		return
	}
	s.warnedAmbig[key] = true
	msg := "call " + call + " matches"
	for i, c := range candidates {
		if i > 0 {
			msg += ","
		}
		msg += " " + c
	}
	msg += "; using " + candidates[0]
	s.warnings = append(s.warnings, Warning{
		Kind:     WarningResolutionAmbiguous,
		File:     file,
		Function: caller,
		Message:  msg,
	})
}

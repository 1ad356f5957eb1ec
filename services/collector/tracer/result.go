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
	"fmt"
	"time"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// ClassReason records why a class was collected.
type ClassReason string

const (
	// ClassReasonMethod means only methods of the class were reached.
	ClassReasonMethod ClassReason = "method"

	// ClassReasonReference means the class itself was named by a call,
	// such as a constructor invocation.
	ClassReasonReference ClassReason = "reference"
)

// CollectedFunction is one function reached by the trace.
type CollectedFunction struct {
	File          string          `json:"file"`
	RelPath       string          `json:"rel_path"`
	QualifiedName string          `json:"qualified_name"`
	Source        string          `json:"source"`
	Location      record.Location `json:"location"`

	// Depth is the call distance from the start function.
	Depth int `json:"depth"`
}

// CollectedClass is one class whose context the trace needs.
type CollectedClass struct {
	File      string      `json:"file"`
	RelPath   string      `json:"rel_path"`
	Name      string      `json:"name"`
	Source    string      `json:"source"`
	StartLine int         `json:"start_line"`
	EndLine   int         `json:"end_line"`
	Reason    ClassReason `json:"reason"`
}

// ImportRef is an import specifier that contributed a resolved call.
type ImportRef struct {
	Specifier    string `json:"specifier"`
	ResolvedPath string `json:"resolved_path"`
	ResolvedRel  string `json:"resolved_rel"`
}

// FileImports groups the contributing imports of one file.
type FileImports struct {
	File    string      `json:"file"`
	RelPath string      `json:"rel_path"`
	Refs    []ImportRef `json:"refs"`
}

// ExternalModule is an import outside the project that traced code calls
// into. Names lists the called names in first-seen order.
type ExternalModule struct {
	File      string   `json:"file"`
	RelPath   string   `json:"rel_path"`
	Specifier string   `json:"specifier"`
	Names     []string `json:"names"`
}

// Stats summarizes the work a trace did.
type Stats struct {
	FilesAnalyzed   int           `json:"files_analyzed"`
	NodesCollected  int           `json:"nodes_collected"`
	CallsResolved   int           `json:"calls_resolved"`
	CallsUnresolved int           `json:"calls_unresolved"`
	Duration        time.Duration `json:"duration"`
}

// Result is the outcome of a trace.
//
// Functions are in discovery order, the start function first. A result
// with Partial set stopped early; everything in it is still valid.
type Result struct {
	RunID         string `json:"run_id"`
	ProjectRoot   string `json:"project_root"`
	StartFile     string `json:"start_file"`
	StartFunction string `json:"start_function"`

	Functions []CollectedFunction `json:"functions"`
	Classes   []CollectedClass    `json:"classes"`
	Imports   []FileImports       `json:"imports"`
	Externals []ExternalModule    `json:"externals"`
	Warnings  []Warning           `json:"warnings"`

	Partial bool  `json:"partial"`
	Stats   Stats `json:"stats"`
}

// Err returns an error wrapping ErrGuardExceeded when the result is
// partial, for callers that treat truncation as failure.
func (r *Result) Err() error {
	if !r.Partial {
		return nil
	}
	return fmt.Errorf("%w: collected %d functions before stopping", ErrGuardExceeded, len(r.Functions))
}

// WarningsOf returns the warnings of the given kind.
func (r *Result) WarningsOf(kind WarningKind) []Warning {
	var out []Warning
	for _, w := range r.Warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

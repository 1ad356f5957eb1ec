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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStartFileUnreadable means the start file could not be analyzed.
	ErrStartFileUnreadable = errors.New("start file unreadable")

	// ErrStartFunctionNotFound means the start file defines no such function.
	ErrStartFunctionNotFound = errors.New("start function not found")

	// ErrGuardExceeded marks a partial result. Trace itself never returns
	// it; see Result.Err.
	ErrGuardExceeded = errors.New("guard exceeded")

	// ErrInvalidOptions means Options failed validation.
	ErrInvalidOptions = errors.New("invalid trace options")
)

// StartError describes why a trace could not begin.
type StartError struct {
	Kind     error
	File     string
	Function string
	Reason   string

	// Available lists some functions the start file does define, to help
	// callers suggest a correction.
	Available []string
}

func (e *StartError) Error() string {
	var b strings.Builder
	switch {
	case errors.Is(e.Kind, ErrStartFunctionNotFound):
		fmt.Fprintf(&b, "%v: %q in %s", e.Kind, e.Function, e.File)
	default:
		fmt.Fprintf(&b, "%v: %s", e.Kind, e.File)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *StartError) Unwrap() error { return e.Kind }

// WarningKind classifies a non-fatal trace event.
type WarningKind string

const (
	// WarningGuardExceeded means a node, file or depth guard stopped the
	// trace or pruned part of it.
	WarningGuardExceeded WarningKind = "guard_exceeded"

	// WarningAnalysisFailed means a reachable file could not be analyzed;
	// calls into it were treated as unresolved.
	WarningAnalysisFailed WarningKind = "analysis_failed"

	// WarningResolutionAmbiguous means several definitions matched a call
	// and the first was used.
	WarningResolutionAmbiguous WarningKind = "resolution_ambiguous"

	// WarningCanceled means the context ended before the trace finished.
	WarningCanceled WarningKind = "canceled"
)

// Warning is a non-fatal event reported alongside a result.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	File     string      `json:"file,omitempty"`
	Function string      `json:"function,omitempty"`
	Message  string      `json:"message"`
}

func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(string(w.Kind))
	if w.File != "" {
		b.WriteString(" ")
		b.WriteString(w.File)
		if w.Function != "" {
			b.WriteString(" :: ")
			b.WriteString(w.Function)
		}
	}
	b.WriteString(": ")
	b.WriteString(w.Message)
	return b.String()
}

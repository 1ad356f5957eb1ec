// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

// Schema is the mapping view of a record, keyed the way external tools
// exchange structural records.
type Schema struct {
	Functions         map[string]string            `json:"functions"`
	FunctionLocations map[string]Location          `json:"function_locations"`
	Classes           map[string]string            `json:"classes"`
	Imports           map[string]map[string]string `json:"imports"`
	FunctionCalls     map[string][]CallSite        `json:"function_calls"`
	Error             string                       `json:"error,omitempty"`
}

// Schema returns the mapping view of r. Ordering is lost; use the record
// slices when order matters.
func (r *Record) Schema() Schema {
	s := Schema{
		Functions:         make(map[string]string, len(r.Functions)),
		FunctionLocations: make(map[string]Location, len(r.Functions)),
		Classes:           make(map[string]string, len(r.Classes)),
		Imports:           make(map[string]map[string]string, len(r.Imports)),
		FunctionCalls:     make(map[string][]CallSite, len(r.Functions)),
		Error:             r.Error,
	}
	for _, fn := range r.Functions {
		s.Functions[fn.QualifiedName] = fn.Source
		s.FunctionLocations[fn.QualifiedName] = fn.Location
		calls := make([]CallSite, len(fn.Calls))
		copy(calls, fn.Calls)
		s.FunctionCalls[fn.QualifiedName] = calls
	}
	for _, c := range r.Classes {
		s.Classes[c.Name] = c.Source
	}
	for _, imp := range r.Imports {
		m := make(map[string]string, len(imp.Bindings))
		for _, b := range imp.Bindings {
			m[b.Original] = b.Alias
		}
		s.Imports[imp.Specifier] = m
	}
	return s
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"sort"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

// DefaultCallerLevels bounds Callers when no limit is given.
const DefaultCallerLevels = 50

// Caller is a function that reaches a name through a chain of calls.
type Caller struct {
	Entry

	// Level is 1 for direct callers, 2 for their callers, and so on.
	Level int `json:"level"`

	// Line is the first call site in the caller.
	Line int `json:"line"`
}

// Callers finds the functions that call name, then the functions that
// call those, up to maxLevels levels.
//
// Description:
//
//	Matching is by called name only: `x.save()` and `save()` both match
//	"save". A qualified name matches on its last segment. Each function is
//	reported once, at the lowest level it appears.
//
// Outputs:
//
//	[]Caller - Ordered by level, then path, then line.
func (l *Listing) Callers(name string, maxLevels int) []Caller {
	if maxLevels <= 0 {
		maxLevels = DefaultCallerLevels
	}
	_, target := record.SplitQualified(name)

	type fnKey struct{ file, name string }
	seen := make(map[fnKey]bool)
	processed := map[string]bool{target: true}
	frontier := []string{target}
	var out []Caller

	for level := 1; level <= maxLevels && len(frontier) > 0; level++ {
		wanted := make(map[string]bool, len(frontier))
		for _, n := range frontier {
			wanted[n] = true
		}
		frontier = nil

		for _, rec := range l.records {
			if rec == nil || rec.Failed() {
				continue
			}
			for _, fn := range rec.Functions {
				key := fnKey{rec.FilePath, fn.QualifiedName}
				if seen[key] {
					continue
				}
				line, ok := firstCallTo(fn, wanted)
				if !ok {
					continue
				}
				seen[key] = true
				out = append(out, Caller{Entry: l.entryFor(rec, fn), Level: level, Line: line})

				member := fn.Location.FunctionName
				if !processed[member] {
					processed[member] = true
					frontier = append(frontier, member)
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		return a.Line < b.Line
	})
	return out
}

func firstCallTo(fn record.Function, names map[string]bool) (int, bool) {
	for _, c := range fn.Calls {
		if names[c.Name] {
			return c.Line, true
		}
	}
	return 0, false
}

func (l *Listing) entryFor(rec *record.Record, fn record.Function) Entry {
	kind := KindFunction
	if fn.Location.ClassName != "" {
		kind = KindMethod
	}
	return Entry{
		File:          rec.FilePath,
		RelPath:       relPath(l.Root, rec.FilePath),
		QualifiedName: fn.QualifiedName,
		Kind:          kind,
		StartLine:     fn.Location.StartLine,
		Language:      rec.Language,
	}
}

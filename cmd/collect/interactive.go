// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/codecollector/services/collector/catalog"
)

// errNoTerminal means an interactive prompt was requested without one.
var errNoTerminal = errors.New("interactive selection needs a terminal")

// pick asks the user for the start function. A non-empty file limits the
// choices to that file.
func (a *app) pick(ctx context.Context, root, file string) (string, string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", "", errNoTerminal
	}

	entries, err := a.service.Catalog(ctx, root, "")
	if err != nil {
		return "", "", err
	}
	entries = inFile(entries, root, file)
	if len(entries) == 0 {
		return "", "", fmt.Errorf("no functions found under %s", root)
	}

	options := make([]huh.Option[int], len(entries))
	for i, e := range entries {
		options[i] = huh.NewOption(e.Key(), i)
	}
	var choice int
	err = huh.NewSelect[int]().
		Title("Start function").
		Description("Type / to filter").
		Options(options...).
		Filtering(true).
		Height(15).
		Value(&choice).
		Run()
	if err != nil {
		return "", "", fmt.Errorf("selection: %w", err)
	}
	e := entries[choice]
	return e.File, e.QualifiedName, nil
}

// inFile keeps the entries defined in file, given relative to root or the
// working directory. An empty file keeps every entry.
func inFile(entries []catalog.Entry, root, file string) []catalog.Entry {
	if file == "" {
		return entries
	}
	want := filepath.ToSlash(filepath.Clean(file))
	if abs, err := filepath.Abs(file); err == nil {
		if absRoot, err := filepath.Abs(root); err == nil {
			if rel, err := filepath.Rel(absRoot, abs); err == nil && !strings.HasPrefix(rel, "..") {
				want = filepath.ToSlash(rel)
			}
		}
	}
	var out []catalog.Entry
	for _, e := range entries {
		if e.RelPath == want || e.RelPath == filepath.ToSlash(filepath.Clean(file)) {
			out = append(out, e)
		}
	}
	return out
}

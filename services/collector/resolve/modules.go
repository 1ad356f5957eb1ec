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
	"os"
	"path/filepath"
	"strings"
)

// Style selects how a family spells module specifiers.
type Style string

const (
	// StyleDotted is Python's `pkg.mod` / `..pkg` notation.
	StyleDotted Style = "dotted"

	// StylePath is ECMAScript's `./dir/file` notation. Bare specifiers
	// name installed packages and never resolve into the project.
	StylePath Style = "path"
)

// Family groups the source extensions that share module conventions.
//
// Probes are suffixes appended to the specifier's base path, tried in
// order after the base path itself. StripExtensions lists specifier
// suffixes that may stand for a differently named source file, as when
// TypeScript sources import `./x.js` but the file on disk is `x.ts`.
type Family struct {
	Name            string   `yaml:"name" validate:"required"`
	Style           Style    `yaml:"style" validate:"oneof=dotted path"`
	Extensions      []string `yaml:"extensions" validate:"required,min=1,dive,startswith=."`
	Probes          []string `yaml:"probes" validate:"dive,required"`
	StripExtensions []string `yaml:"strip_extensions" validate:"dive,startswith=."`
}

// DefaultFamilies returns the Python and ECMAScript conventions.
func DefaultFamilies() []Family {
	return []Family{
		{
			Name:       "python",
			Style:      StyleDotted,
			Extensions: []string{".py", ".pyw", ".pyi"},
			Probes:     []string{".py", ".pyi", "/__init__.py"},
		},
		{
			Name:       "ecmascript",
			Style:      StylePath,
			Extensions: []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"},
			Probes: []string{
				".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs",
				"/index.ts", "/index.tsx", "/index.js", "/index.jsx",
			},
			StripExtensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		},
	}
}

// ModuleOption configures a ModuleResolver.
type ModuleOption func(*ModuleResolver)

// WithFileExists replaces the filesystem check, so records built in memory
// can be resolved without touching disk.
func WithFileExists(fn func(path string) bool) ModuleOption {
	return func(m *ModuleResolver) {
		if fn != nil {
			m.exists = fn
		}
	}
}

// ModuleResolver maps an import specifier to a project file.
//
// Thread Safety: safe for concurrent use when the exists function is.
type ModuleResolver struct {
	root     string
	families []Family
	byExt    map[string]int
	exists   func(string) bool
}

// NewModuleResolver creates a resolver rooted at projectRoot. When families
// is empty the defaults are used.
func NewModuleResolver(projectRoot string, families []Family, opts ...ModuleOption) *ModuleResolver {
	if len(families) == 0 {
		families = DefaultFamilies()
	}
	m := &ModuleResolver{
		root:     filepath.Clean(projectRoot),
		families: families,
		byExt:    make(map[string]int),
		exists:   regularFileExists,
	}
	for i, f := range families {
		for _, ext := range f.Extensions {
			ext = strings.ToLower(ext)
			if _, taken := m.byExt[ext]; !taken {
				m.byExt[ext] = i
			}
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Root returns the project root.
func (m *ModuleResolver) Root() string { return m.root }

// Family returns the family handling path's extension.
func (m *ModuleResolver) Family(path string) (Family, bool) {
	i, ok := m.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Family{}, false
	}
	return m.families[i], true
}

// Within reports whether path lies inside the project root.
func (m *ModuleResolver) Within(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Rel returns path relative to the project root using forward slashes.
func (m *ModuleResolver) Rel(path string) string {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Resolve returns the project file that specifier names when imported
// from fromFile.
//
// Description:
//
//	Candidate base paths are derived from the specifier according to the
//	importing file's family. Each base is probed as-is, then with each
//	probe suffix in order. The first existing regular file inside the
//	project root wins.
//
// Outputs:
//
//	string - Cleaned absolute path of the module file.
//	bool - False when the specifier names no project file (an installed
//	       package, a standard library module, or a missing file).
func (m *ModuleResolver) Resolve(fromFile, specifier string) (string, bool) {
	fam, ok := m.Family(fromFile)
	if !ok || specifier == "" {
		return "", false
	}
	for _, base := range m.bases(fam, fromFile, specifier) {
		for _, candidate := range probe(fam, base) {
			candidate = filepath.Clean(candidate)
			if !m.Within(candidate) {
				continue
			}
			if m.exists(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

func (m *ModuleResolver) bases(fam Family, fromFile, specifier string) []string {
	dir := filepath.Dir(fromFile)
	switch fam.Style {
	case StyleDotted:
		dots := len(specifier) - len(strings.TrimLeft(specifier, "."))
		rel := filepath.FromSlash(strings.ReplaceAll(specifier[dots:], ".", "/"))
		if dots > 0 {
			base := dir
			for i := 1; i < dots; i++ {
				base = filepath.Dir(base)
			}
			return []string{filepath.Join(base, rel)}
		}
		bases := []string{filepath.Join(m.root, rel)}
		if local := filepath.Join(dir, rel); local != bases[0] {
			bases = append(bases, local)
		}
		return bases
	default:
		switch {
		case specifier == "." || specifier == ".." ||
			strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
			return []string{filepath.Join(dir, filepath.FromSlash(specifier))}
		case strings.HasPrefix(specifier, "/"):
			return []string{filepath.Join(m.root, filepath.FromSlash(specifier))}
		}
		return nil
	}
}

func probe(fam Family, base string) []string {
	out := make([]string, 0, 1+2*len(fam.Probes))
	out = append(out, base)
	for _, p := range fam.Probes {
		out = append(out, base+filepath.FromSlash(p))
	}
	for _, ext := range fam.StripExtensions {
		if strings.HasSuffix(base, ext) {
			stem := strings.TrimSuffix(base, ext)
			for _, p := range fam.Probes {
				out = append(out, stem+filepath.FromSlash(p))
			}
		}
	}
	return out
}

// JoinSpecifier names a submodule of specifier in the family's notation.
func JoinSpecifier(fam Family, specifier, name string) string {
	if fam.Style == StyleDotted {
		if strings.HasSuffix(specifier, ".") {
			return specifier + name
		}
		return specifier + "." + name
	}
	return strings.TrimSuffix(specifier, "/") + "/" + name
}

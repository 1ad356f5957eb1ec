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
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/codecollector/services/collector/resolve"
)

// Defaults applied when an Options field is zero.
const (
	DefaultMaxNodes = 500
	DefaultMaxFiles = 200
	DefaultWorkers  = 4

	// maxReexportHops bounds how far a name is followed through modules
	// that re-export it.
	maxReexportHops = 8
)

// Options bound and shape one trace.
type Options struct {
	// MaxDepth limits call distance from the start function. Zero means
	// unbounded. Branches deeper than the limit are pruned.
	MaxDepth int `validate:"gte=0"`

	// MaxNodes caps collected functions. Zero means DefaultMaxNodes.
	MaxNodes int `validate:"gte=0"`

	// MaxFiles caps analyzed files. Zero means DefaultMaxFiles.
	MaxFiles int `validate:"gte=0"`

	// IncludeWholeClassOnMethodHit emits a method's entire class instead
	// of the method alone.
	IncludeWholeClassOnMethodHit bool

	// Workers bounds concurrent file analysis. Zero means DefaultWorkers;
	// one disables prefetching.
	Workers int `validate:"gte=0,lte=64"`

	// Families configures module path resolution. Empty means
	// resolve.DefaultFamilies.
	Families []resolve.Family `validate:"dive"`

	// PreferLocalClassReceiver resolves `Recv.name()` against a local
	// class before an import bound to the same name.
	PreferLocalClassReceiver bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxNodes: DefaultMaxNodes,
		MaxFiles: DefaultMaxFiles,
		Workers:  DefaultWorkers,
	}
}

var validate = validator.New()

// Validate reports invalid option values.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.MaxNodes == 0 {
		o.MaxNodes = DefaultMaxNodes
	}
	if o.MaxFiles == 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	if o.Workers == 0 {
		o.Workers = DefaultWorkers
	}
	if len(o.Families) == 0 {
		o.Families = resolve.DefaultFamilies()
	}
	return o
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithLogger sets the tracer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithFileExists replaces the filesystem check used by module resolution.
// Intended for tracing in-memory records.
func WithFileExists(fn func(path string) bool) Option {
	return func(t *Tracer) {
		t.fileExists = fn
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports batches of source file changes under a project.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the settle delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithMatch selects the files whose changes are reported.
func WithMatch(match func(path string) bool) Option {
	return func(w *Watcher) {
		w.match = match
	}
}

// WithExclude skips paths. Excluded directories are not watched.
func WithExclude(excluded func(path string) bool) Option {
	return func(w *Watcher) {
		w.excluded = excluded
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher watches a directory tree.
//
// Thread Safety: Run must be called at most once. Close is safe to call
// from any goroutine.
type Watcher struct {
	fs       *fsnotify.Watcher
	root     string
	debounce time.Duration
	match    func(string) bool
	excluded func(string) bool
	logger   *slog.Logger

	// pending holds matching files found while adding new directories.
	pending []string

	closeOnce sync.Once
}

// New watches every non-excluded directory under root. Watches are in
// place when New returns.
func New(root string, opts ...Option) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{
		fs:       fw,
		root:     root,
		debounce: DefaultDebounce,
		match:    func(string) bool { return true },
		excluded: func(string) bool { return false },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addTree(root, false); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
	})
	return err
}

// addTree watches dir and its subdirectories. With collect set, matching
// files already present are queued, since they may have been written
// before the watch existed.
func (w *Watcher) addTree(dir string, collect bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != w.root && w.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if collect && w.match(path) {
				w.pending = append(w.pending, path)
			}
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("watch failed", slog.String("dir", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

// Run delivers changed files to onChange until ctx ends.
//
// Description:
//
//	Events are collected until none arrive for the debounce period; then
//	onChange receives the changed paths, sorted and deduplicated. New
//	directories are watched as they appear. onChange runs on the calling
//	goroutine, so events that arrive meanwhile are batched for the next
//	call. The watcher is closed when Run returns.
//
// Outputs:
//
//	error - Nil when ctx ends.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, changed []string)) error {
	defer w.Close()

	changed := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	mark := func(paths ...string) {
		for _, p := range paths {
			changed[p] = true
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if paths := w.handle(ev); len(paths) > 0 {
				mark(paths...)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timer.C:
			if len(changed) == 0 {
				continue
			}
			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			changed = make(map[string]bool)
			w.logger.Debug("files changed", slog.Int("count", len(paths)))
			onChange(ctx, paths)
		}
	}
}

// handle returns the changed files an event stands for.
func (w *Watcher) handle(ev fsnotify.Event) []string {
	if w.excluded(ev.Name) {
		return nil
	}
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.pending = w.pending[:0]
			if err := w.addTree(ev.Name, true); err != nil {
				w.logger.Warn("watch failed", slog.String("dir", ev.Name), slog.String("error", err.Error()))
			}
			return append([]string(nil), w.pending...)
		}
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return nil
	}
	if !w.match(ev.Name) {
		return nil
	}
	return []string{ev.Name}
}

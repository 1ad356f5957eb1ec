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
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codecollector/services/collector/record"
	"github.com/AleutianAI/codecollector/services/collector/resolve"
)

// prefetch analyzes, in parallel, the files a function's calls are about
// to need.
//
// Description:
//
//	Only files not yet analyzed are fetched, at most as many as the file
//	guard still allows. Workers write into their own slot of a results
//	slice; the owning goroutine moves the records into the prefetched set
//	after every worker has returned. Nothing is kept when the context ends
//	during the fetch.
//
// Thread Safety: must be called from the goroutine that owns r.st.
func (t *Tracer) prefetch(ctx context.Context, r *run, resolutions []resolve.Resolution) {
	if r.opts.Workers <= 1 {
		return
	}
	st := r.st
	budget := r.opts.MaxFiles - len(st.cache)

	var paths []string
	seen := make(map[string]bool)
	for _, res := range resolutions {
		if res.Kind != resolve.External || seen[res.Path] {
			continue
		}
		if _, ok := st.cache[res.Path]; ok {
			continue
		}
		if _, ok := st.prefetched[res.Path]; ok {
			continue
		}
		if len(paths) >= budget {
			break
		}
		seen[res.Path] = true
		paths = append(paths, res.Path)
	}
	if len(paths) < 2 {
		return
	}

	recs := make([]*record.Record, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			recs[i] = t.analyzer.Analyze(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return
	}
	for i, path := range paths {
		st.prefetched[path] = recs[i]
	}
	r.logger.Debug("prefetched files", slog.Int("count", len(paths)))
}

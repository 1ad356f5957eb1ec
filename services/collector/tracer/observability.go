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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "collector.tracer"

var (
	// tracesTotal counts trace runs.
	//
	// Labels:
	//   - status: "complete", "partial" or "error"
	tracesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collector",
			Subsystem: "tracer",
			Name:      "traces_total",
			Help:      "Total number of dependency traces.",
		},
		[]string{"status"},
	)

	// traceDuration measures whole trace runs.
	traceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "collector",
			Subsystem: "tracer",
			Name:      "trace_duration_seconds",
			Help:      "Duration of dependency traces in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	// traceNodes records how many functions each successful trace collected.
	traceNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "collector",
			Subsystem: "tracer",
			Name:      "nodes_collected",
			Help:      "Functions collected per trace.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// warningsTotal counts trace warnings.
	//
	// Labels:
	//   - kind: "guard_exceeded", "analysis_failed", "resolution_ambiguous", "canceled"
	warningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collector",
			Subsystem: "tracer",
			Name:      "warnings_total",
			Help:      "Total warnings raised by traces, by kind.",
		},
		[]string{"kind"},
	)
)

func startTraceSpan(ctx context.Context, runID, startFile, startFunction string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tracer.Trace",
		trace.WithAttributes(
			attribute.String("collector.run_id", runID),
			attribute.String("collector.start_file", startFile),
			attribute.String("collector.start_function", startFunction),
		),
	)
}

// recordTraceMetrics records a finished trace. A nil result is a failure.
func recordTraceMetrics(res *Result, duration time.Duration) {
	status := "error"
	switch {
	case res == nil:
	case res.Partial:
		status = "partial"
	default:
		status = "complete"
	}
	tracesTotal.WithLabelValues(status).Inc()
	traceDuration.WithLabelValues(status).Observe(duration.Seconds())
	if res == nil {
		return
	}
	traceNodes.Observe(float64(len(res.Functions)))
	for _, w := range res.Warnings {
		warningsTotal.WithLabelValues(string(w.Kind)).Inc()
	}
}

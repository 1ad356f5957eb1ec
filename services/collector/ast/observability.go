// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// analyzerTracerName is the OTel tracer name shared by all analyzers.
const analyzerTracerName = "collector.ast"

var (
	// analysisDuration measures how long a single file analysis takes.
	//
	// Labels:
	//   - language: "python", "typescript", "javascript"
	//   - status: "success" or "error"
	analysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "collector",
			Subsystem: "ast",
			Name:      "analysis_duration_seconds",
			Help:      "Duration of structural analysis per file in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"language", "status"},
	)

	// analysesTotal counts analyzed files.
	//
	// Labels:
	//   - language: "python", "typescript", "javascript", "unknown"
	//   - status: "success" or "error"
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collector",
			Subsystem: "ast",
			Name:      "analyses_total",
			Help:      "Total number of analyzed source files.",
		},
		[]string{"language", "status"},
	)

	// functionsExtracted counts functions and methods found by analyzers.
	functionsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collector",
			Subsystem: "ast",
			Name:      "functions_extracted_total",
			Help:      "Total functions and methods extracted from analyzed files.",
		},
		[]string{"language"},
	)
)

// startAnalysisSpan starts a span for analyzing one file.
func startAnalysisSpan(ctx context.Context, language, filePath string, size int) (context.Context, trace.Span) {
	return otel.Tracer(analyzerTracerName).Start(ctx, "ast.Analyze",
		trace.WithAttributes(
			attribute.String("collector.language", language),
			attribute.String("collector.file", filePath),
			attribute.Int("collector.file_size", size),
		),
	)
}

// recordAnalysisMetrics records one finished analysis.
//
// Thread Safety: Safe for concurrent use.
func recordAnalysisMetrics(language string, duration time.Duration, functions int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	analysisDuration.WithLabelValues(language, status).Observe(duration.Seconds())
	analysesTotal.WithLabelValues(language, status).Inc()
	if success {
		functionsExtracted.WithLabelValues(language).Add(float64(functions))
	}
}

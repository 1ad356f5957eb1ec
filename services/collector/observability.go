// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collector

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "collector"

// serviceMetrics are the OpenTelemetry instruments of a Service. They
// measure whole collections; the analyzer and tracer keep their own
// Prometheus series.
type serviceMetrics struct {
	collections metric.Int64Counter
	duration    metric.Float64Histogram
	functions   metric.Int64Histogram
}

func newServiceMetrics(mp metric.MeterProvider) serviceMetrics {
	m := mp.Meter(meterName)
	fallback := noop.NewMeterProvider().Meter(meterName)

	collections, err := m.Int64Counter("collector.collections",
		metric.WithDescription("Collections run, by outcome."))
	if err != nil {
		otel.Handle(err)
		collections, _ = fallback.Int64Counter("collector.collections")
	}
	duration, err := m.Float64Histogram("collector.collect.duration",
		metric.WithDescription("Time to trace and render one collection."),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
		duration, _ = fallback.Float64Histogram("collector.collect.duration")
	}
	functions, err := m.Int64Histogram("collector.collect.functions",
		metric.WithDescription("Functions in one collection."))
	if err != nil {
		otel.Handle(err)
		functions, _ = fallback.Int64Histogram("collector.collect.functions")
	}
	return serviceMetrics{collections: collections, duration: duration, functions: functions}
}

// record notes one finished collection. out is nil when it failed.
func (m serviceMetrics) record(ctx context.Context, out *Output, d time.Duration) {
	status := "error"
	switch {
	case out == nil:
	case out.Result.Partial:
		status = "partial"
	default:
		status = "complete"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.collections.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	if out != nil {
		m.functions.Record(ctx, int64(len(out.Result.Functions)), attrs)
	}
}

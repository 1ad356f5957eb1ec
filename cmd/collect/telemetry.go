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

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTelemetry installs the span and metric exporters requested on the
// command line.
func (a *app) setupTelemetry(ctx context.Context) error {
	if err := a.setupTracing(ctx); err != nil {
		return err
	}
	return a.setupMetrics()
}

func (a *app) setupTracing(ctx context.Context) error {
	var opts []sdktrace.TracerProviderOption
	if a.otelStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(a.errOut), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("creating span exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}
	if a.otlpEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(a.otlpEndpoint),
			otlptracegrpc.WithInsecure())
		if err != nil {
			return fmt.Errorf("creating OTLP exporter for %s: %w", a.otlpEndpoint, err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	if len(opts) == 0 {
		return nil
	}

	tp := sdktrace.NewTracerProvider(opts...)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	a.cleanups = append(a.cleanups, func(ctx context.Context) error {
		otel.SetTracerProvider(prev)
		return tp.Shutdown(ctx)
	})
	return nil
}

// setupMetrics routes OpenTelemetry instruments to stderr and, when a
// metrics file was requested, into a registry dumped next to the
// Prometheus defaults.
func (a *app) setupMetrics() error {
	var opts []sdkmetric.Option
	if a.otelStdout {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(a.errOut), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("creating metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}
	if a.metricsFile != "" {
		reg := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return fmt.Errorf("creating prometheus metric reader: %w", err)
		}
		a.otelRegistry = reg
		opts = append(opts, sdkmetric.WithReader(exporter))
	}
	if len(opts) == 0 {
		return nil
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	a.meterProvider = mp
	a.cleanups = append(a.cleanups, func(ctx context.Context) error {
		otel.SetMeterProvider(prev)
		return mp.Shutdown(ctx)
	})
	return nil
}

// finish writes the metrics file and flushes telemetry.
func (a *app) finish(ctx context.Context) error {
	var errs []error
	if a.metricsFile != "" {
		gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
		if a.otelRegistry != nil {
			gatherers = append(gatherers, a.otelRegistry)
		}
		if err := prometheus.WriteToTextfile(a.metricsFile, gatherers); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}

	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}

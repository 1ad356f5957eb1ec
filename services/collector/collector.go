// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collector wires configuration, analysis, tracing and rendering
// into the operations the command line exposes.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/codecollector/services/collector/assemble"
	"github.com/AleutianAI/codecollector/services/collector/ast"
	"github.com/AleutianAI/codecollector/services/collector/catalog"
	"github.com/AleutianAI/codecollector/services/collector/config"
	"github.com/AleutianAI/codecollector/services/collector/record"
	"github.com/AleutianAI/codecollector/services/collector/tracer"
	"github.com/AleutianAI/codecollector/services/collector/watch"
)

// Overrides are settings given explicitly by the caller. Nil fields keep
// the configured value.
type Overrides struct {
	MaxNodes   *int
	MaxDepth   *int
	MaxFiles   *int
	Workers    *int
	WholeClass *bool
}

// Request describes one collection.
type Request struct {
	ProjectRoot   string
	StartFile     string
	StartFunction string
	Overrides     Overrides

	// Getenv reads environment overrides. Nil means os.Getenv.
	Getenv func(string) string
}

// Output is the outcome of Collect.
type Output struct {
	Result  *tracer.Result
	Text    string
	Summary string
	Config  config.Config
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry replaces the analyzer registry.
func WithRegistry(reg *ast.Registry) Option {
	return func(s *Service) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithMeterProvider sets the provider of the collection instruments.
// The default is the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		if mp != nil {
			s.meterProvider = mp
		}
	}
}

// Service runs collections.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	registry      *ast.Registry
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	metrics       serviceMetrics
}

// New creates a Service with the default analyzers.
func New(opts ...Option) *Service {
	s := &Service{logger: slog.Default(), meterProvider: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = ast.NewRegistry(ast.WithLogger(s.logger))
	}
	s.metrics = newServiceMetrics(s.meterProvider)
	return s
}

// Registry returns the analyzer registry.
func (s *Service) Registry() *ast.Registry { return s.registry }

// Settings resolves the effective configuration for a project.
//
// Description:
//
//	Layers, lowest first: collector.config.yaml, the project's .env file,
//	the process environment, then explicit overrides.
func (s *Service) Settings(root string, ov Overrides, getenv func(string) string) (config.Config, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return config.Config{}, err
	}
	if getenv == nil {
		if err := config.LoadDotEnv(root); err != nil {
			return config.Config{}, err
		}
		getenv = os.Getenv
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return config.Config{}, err
	}

	if ov.MaxNodes != nil {
		cfg.MaxNodes = *ov.MaxNodes
	}
	if ov.MaxDepth != nil {
		cfg.MaxDepth = *ov.MaxDepth
	}
	if ov.MaxFiles != nil {
		cfg.MaxFiles = *ov.MaxFiles
	}
	if ov.Workers != nil {
		cfg.Workers = *ov.Workers
	}
	if ov.WholeClass != nil {
		cfg.IncludeWholeClass = *ov.WholeClass
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// Collect traces req.StartFunction and renders what it reaches.
//
// Outputs:
//
//	*Output - Result, rendered text and one-line summary.
//	error - Config errors, or tracer start errors (*tracer.StartError).
func (s *Service) Collect(ctx context.Context, req Request) (*Output, error) {
	start := time.Now()
	out, err := s.collect(ctx, req)
	s.metrics.record(ctx, out, time.Since(start))
	return out, err
}

func (s *Service) collect(ctx context.Context, req Request) (*Output, error) {
	cfg, err := s.Settings(req.ProjectRoot, req.Overrides, req.Getenv)
	if err != nil {
		return nil, err
	}

	t := tracer.New(s.registry, tracer.WithLogger(s.logger))
	res, err := t.Trace(ctx, req.ProjectRoot, req.StartFile, req.StartFunction, cfg.TraceOptions())
	if err != nil {
		return nil, err
	}

	return &Output{
		Result:  res,
		Text:    assemble.Render(res, assemble.Options{IncludeWholeClassOnMethodHit: cfg.IncludeWholeClass}),
		Summary: assemble.Summary(res),
		Config:  cfg,
	}, nil
}

func (s *Service) catalogFor(root string) (*catalog.Catalog, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return catalog.New(s.registry,
		catalog.WithExcludes(cfg.Excludes()),
		catalog.WithWorkers(cfg.Workers),
		catalog.WithLogger(s.logger)), nil
}

// Catalog lists the project's functions matching filter.
func (s *Service) Catalog(ctx context.Context, root, filter string) ([]catalog.Entry, error) {
	c, err := s.catalogFor(root)
	if err != nil {
		return nil, err
	}
	l, err := c.Build(ctx, root)
	if err != nil {
		return nil, err
	}
	return l.Filter(filter), nil
}

// Callers lists the project's functions that reach name through calls.
func (s *Service) Callers(ctx context.Context, root, name string, levels int) ([]catalog.Caller, error) {
	c, err := s.catalogFor(root)
	if err != nil {
		return nil, err
	}
	l, err := c.Build(ctx, root)
	if err != nil {
		return nil, err
	}
	return l.Callers(name, levels), nil
}

// Analyze returns the structural record of one file.
func (s *Service) Analyze(ctx context.Context, path string) (*record.Record, error) {
	if !s.registry.Supports(path) {
		return nil, fmt.Errorf("%w: %s", ast.ErrUnsupportedLanguage, filepath.Ext(path))
	}
	return s.registry.Analyze(ctx, path), nil
}

// Watch runs Collect now and again whenever a source file under the
// project changes, until ctx ends. Each run's output or error is passed to
// onOutput.
func (s *Service) Watch(ctx context.Context, req Request, onOutput func(*Output, error)) error {
	c, err := s.catalogFor(req.ProjectRoot)
	if err != nil {
		return err
	}
	root, err := filepath.Abs(req.ProjectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	w, err := watch.New(root,
		watch.WithMatch(s.registry.Supports),
		watch.WithExclude(func(p string) bool { return c.Excluded(root, p) }),
		watch.WithLogger(s.logger))
	if err != nil {
		return err
	}

	onOutput(s.Collect(ctx, req))
	return w.Run(ctx, func(ctx context.Context, changed []string) {
		s.logger.Info("re-collecting", slog.Int("changed", len(changed)))
		onOutput(s.Collect(ctx, req))
	})
}

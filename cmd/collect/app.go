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
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/codecollector/services/collector"
	"github.com/AleutianAI/codecollector/services/collector/tracer"
)

var (
	summaryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// app holds the state shared by every subcommand of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	verbose      bool
	metricsFile  string
	otelStdout   bool
	otlpEndpoint string

	styled        bool
	logger        *slog.Logger
	service       *collector.Service
	meterProvider *sdkmetric.MeterProvider
	otelRegistry  *prometheus.Registry
	cleanups      []func(context.Context) error
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	a := &app{out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if ferr := a.finish(context.Background()); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Fprintln(errOut, a.style(errorStyle, "error: "+err.Error()))
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	flags := &traceFlags{}
	root := &cobra.Command{
		Use:   "collect [root]",
		Short: "Collect the source code a function depends on",
		Long: `collect follows the calls of one function through a Python, TypeScript or
JavaScript project and prints every function and class they reach, so the
function can be read (or handed to a reviewer or a model) on its own.

Running collect without a subcommand behaves like "collect trace".`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTrace(cmd, args, flags)
		},
	}
	flags.register(root)

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log debug detail to stderr")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	pf.BoolVar(&a.otelStdout, "otel-stdout", false, "print OpenTelemetry spans and metrics to stderr")
	pf.StringVar(&a.otlpEndpoint, "otlp-endpoint", "", "export spans over OTLP/gRPC to this host:port")

	root.AddCommand(a.traceCmd(), a.listCmd(), a.callersCmd(), a.analyzeCmd())
	return root
}

// setup builds the logger, telemetry and service before any subcommand.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))

	if f, ok := a.errOut.(*os.File); ok {
		a.styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if err := a.setupTelemetry(cmd.Context()); err != nil {
		return err
	}
	opts := []collector.Option{collector.WithLogger(a.logger)}
	if a.meterProvider != nil {
		opts = append(opts, collector.WithMeterProvider(a.meterProvider))
	}
	a.service = collector.New(opts...)
	return nil
}

func (a *app) style(s lipgloss.Style, text string) string {
	if !a.styled {
		return text
	}
	return s.Render(text)
}

// printSummary reports a result on stderr.
func (a *app) printSummary(out *collector.Output, dest string) {
	line := out.Summary
	if dest != "" {
		line += " -> " + dest
	}
	fmt.Fprintln(a.errOut, a.style(summaryStyle, line))
	for _, w := range out.Result.Warnings {
		fmt.Fprintln(a.errOut, a.style(warnStyle, "  warning: "+w.String()))
	}
}

// describe adds the context a user needs to fix a failed start.
func describe(err error) error {
	var se *tracer.StartError
	if !errors.As(err, &se) || !errors.Is(err, tracer.ErrStartFunctionNotFound) || len(se.Available) == 0 {
		return err
	}
	return fmt.Errorf("%w (defined there: %s)", err, strings.Join(se.Available, ", "))
}

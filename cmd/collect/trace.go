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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/codecollector/services/collector"
	"github.com/AleutianAI/codecollector/services/collector/tracer"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// traceFlags are the flags of the trace command.
type traceFlags struct {
	file        string
	function    string
	maxNodes    int
	maxDepth    int
	maxFiles    int
	workers     int
	wholeClass  bool
	output      string
	clipboard   bool
	format      string
	strict      bool
	watch       bool
	interactive bool
}

func (f *traceFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.file, "file", "f", "", "file defining the start function")
	fs.StringVarP(&f.function, "function", "F", "", `start function ("name" or "Class.method")`)
	fs.IntVar(&f.maxNodes, "max-nodes", tracer.DefaultMaxNodes, "stop after collecting this many functions")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "do not follow calls deeper than this (0 = unbounded)")
	fs.IntVar(&f.maxFiles, "max-files", tracer.DefaultMaxFiles, "stop after analyzing this many files")
	fs.IntVar(&f.workers, "workers", tracer.DefaultWorkers, "files analyzed in parallel")
	fs.BoolVar(&f.wholeClass, "whole-class", false, "emit the whole class of every collected method")
	fs.StringVarP(&f.output, "output", "o", "", "write the collection to this file")
	fs.BoolVar(&f.clipboard, "clipboard", false, "copy the collection to the clipboard")
	fs.StringVar(&f.format, "format", formatText, "output format: text or json")
	fs.BoolVar(&f.strict, "strict", false, "fail when a limit cut the collection short")
	fs.BoolVar(&f.watch, "watch", false, "collect again whenever a source file changes")
	fs.BoolVarP(&f.interactive, "interactive", "i", false, "pick the start function from a list")
}

// overrides returns the flags the user set explicitly.
func (f *traceFlags) overrides(cmd *cobra.Command) collector.Overrides {
	var ov collector.Overrides
	changed := cmd.Flags().Changed
	if changed("max-nodes") {
		ov.MaxNodes = &f.maxNodes
	}
	if changed("max-depth") {
		ov.MaxDepth = &f.maxDepth
	}
	if changed("max-files") {
		ov.MaxFiles = &f.maxFiles
	}
	if changed("workers") {
		ov.Workers = &f.workers
	}
	if changed("whole-class") {
		ov.WholeClass = &f.wholeClass
	}
	return ov
}

func (a *app) traceCmd() *cobra.Command {
	flags := &traceFlags{}
	cmd := &cobra.Command{
		Use:   "trace [root]",
		Short: "Collect a function and everything it calls",
		Example: `  collect trace -f app/service.py -F Service.run
  collect trace ./web -f src/index.ts -F main --max-depth 2 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTrace(cmd, args, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func rootArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return "."
}

func (a *app) runTrace(cmd *cobra.Command, args []string, f *traceFlags) error {
	ctx := cmd.Context()
	root := rootArg(args)

	if f.format != formatText && f.format != formatJSON {
		return fmt.Errorf("unknown format %q (want text or json)", f.format)
	}
	if f.file == "" || f.function == "" {
		if !f.interactive {
			return errors.New("--file and --function are required (or pick them with -i)")
		}
		file, function, err := a.pick(ctx, root, f.file)
		if err != nil {
			return err
		}
		f.file, f.function = file, function
	}

	req := collector.Request{
		ProjectRoot:   root,
		StartFile:     f.file,
		StartFunction: f.function,
		Overrides:     f.overrides(cmd),
	}

	if f.watch {
		return a.service.Watch(ctx, req, func(out *collector.Output, err error) {
			if err != nil {
				fmt.Fprintln(a.errOut, a.style(errorStyle, "error: "+describe(err).Error()))
				return
			}
			if err := a.emit(out, f); err != nil {
				fmt.Fprintln(a.errOut, a.style(errorStyle, "error: "+err.Error()))
			}
		})
	}

	out, err := a.service.Collect(ctx, req)
	if err != nil {
		return describe(err)
	}
	if err := a.emit(out, f); err != nil {
		return err
	}
	if f.strict {
		return out.Result.Err()
	}
	return nil
}

// jsonOutput is the --format json document.
type jsonOutput struct {
	Summary string         `json:"summary"`
	Result  *tracer.Result `json:"result"`
	Text    string         `json:"text"`
}

// emit writes one collection to its destination and reports it.
func (a *app) emit(out *collector.Output, f *traceFlags) error {
	body := out.Text
	if f.format == formatJSON {
		data, err := json.MarshalIndent(jsonOutput{Summary: out.Summary, Result: out.Result, Text: out.Text}, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		body = string(data) + "\n"
	}

	dest := ""
	switch {
	case f.output != "":
		if err := os.WriteFile(f.output, []byte(body), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.output, err)
		}
		dest = f.output
	case f.clipboard:
		if err := clipboard.WriteAll(body); err != nil {
			return fmt.Errorf("copying to clipboard: %w", err)
		}
		dest = "clipboard"
	default:
		fmt.Fprint(a.out, body)
	}
	a.printSummary(out, dest)
	return nil
}

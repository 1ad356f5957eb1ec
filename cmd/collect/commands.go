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
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codecollector/services/collector/record"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

func checkFormat(format string) error {
	if format != formatText && format != formatJSON {
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
	return nil
}

func (a *app) listCmd() *cobra.Command {
	var filter, format string
	cmd := &cobra.Command{
		Use:   "list [root]",
		Short: "List every function in the project",
		Long: `list prints one "<path>::<name>" line per function, ready to pass back
as --file and --function.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			entries, err := a.service.Catalog(cmd.Context(), rootArg(args), filter)
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(a.out, entries)
			}
			for _, e := range entries {
				fmt.Fprintln(a.out, e.Key())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only list entries containing this text (case-insensitive)")
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or json")
	return cmd
}

func (a *app) callersCmd() *cobra.Command {
	var levels int
	var format string
	cmd := &cobra.Command{
		Use:   "callers [root] NAME",
		Short: "List the functions that call NAME, directly or indirectly",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			root, name := ".", args[0]
			if len(args) == 2 {
				root, name = args[0], args[1]
			}
			callers, err := a.service.Callers(cmd.Context(), root, name, levels)
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(a.out, callers)
			}
			for _, c := range callers {
				fmt.Fprintf(a.out, "%d %s:%d\n", c.Level, c.Key(), c.Line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&levels, "levels", 0, "how many caller levels to follow (0 = default)")
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or json")
	return cmd
}

func (a *app) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze FILE",
		Short: "Print the structural record of one file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.service.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := writeJSON(a.out, rec.Schema()); err != nil {
				return err
			}
			if rec.Failed() {
				return fmt.Errorf("analyzing %s: %s", args[0], rec.Error)
			}
			if err := rec.Validate(); err != nil {
				var ve *record.ValidationError
				if errors.As(err, &ve) {
					for _, v := range ve.Violations {
						a.logger.Warn("record violation",
							slog.String("file", ve.FilePath),
							slog.String("violation", v))
					}
				}
				return err
			}
			return nil
		},
	}
}

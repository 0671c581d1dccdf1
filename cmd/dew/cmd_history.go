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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ideal-world/dew-baas/services/action/build"
	"github.com/ideal-world/dew-baas/services/action/config"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
	Path  string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [buildID]",
		Short: "List recorded builds or show one",
		Long: `List the builds recorded in the journal, newest first, or show the
per-file detail of one build.

Example:
  dew history
  dew history --path dist --limit 5
  dew history 0f8fad5b-d9cb-469f-a165-70867728950e`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum builds to list")
	cmd.Flags().StringVar(&opts.Path, "path", "", "only list builds of this base path")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, args []string) error {
	cfg, err := opts.loadConfig(cmd, config.Overrides{})
	if err != nil {
		return err
	}
	db, err := build.OpenJournalDB(filepath.Join(opts.Project, cfg.JournalDir))
	if err != nil {
		return err
	}
	defer db.Close()
	journal, err := build.NewJournal(db, opts.logger)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		rec, detail, err := journal.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		renderRecord(cmd.OutOrStdout(), rec, detail)
		return nil
	}

	base := ""
	if opts.Path != "" {
		if base, err = filepath.Abs(opts.Path); err != nil {
			return err
		}
	}
	records, err := journal.List(cmd.Context(), base, opts.Limit)
	if err != nil {
		return err
	}
	renderRecords(cmd.OutOrStdout(), records)
	return nil
}

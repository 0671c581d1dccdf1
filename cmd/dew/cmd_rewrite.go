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
	"fmt"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/ideal-world/dew-baas/services/action/ast"
	"github.com/ideal-world/dew-baas/services/action/bundle"
	"github.com/ideal-world/dew-baas/services/action/config"
	"github.com/ideal-world/dew-baas/services/action/rewrite"
)

// RewriteOptions holds flags for the rewrite command.
type RewriteOptions struct {
	*RootOptions
	Module  string
	Diff    bool
	Explain bool
	Write   bool
}

// NewRewriteCommand creates the rewrite command.
func NewRewriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RewriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rewrite <file>",
		Short: "Show the proxy form of one compiled module",
		Long: `Rewrite one compiled module into the proxy a production build would
produce, without bundling or shipping anything. The result is printed
unless --write is given.

Example:
  dew rewrite dist/todo.js --diff
  dew rewrite dist/todo.js --explain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Module, "module", "", "module name used in task ids (default: derived from the file name)")
	cmd.Flags().BoolVar(&opts.Diff, "diff", false, "print a unified diff instead of the rewritten module")
	cmd.Flags().BoolVar(&opts.Explain, "explain", false, "print the decision taken for every top-level statement")
	cmd.Flags().BoolVar(&opts.Write, "write", false, "replace the file with its proxy form")

	return cmd
}

func runRewrite(cmd *cobra.Command, opts *RewriteOptions, path string) error {
	cfg, err := opts.loadConfig(cmd, config.Overrides{})
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	module := opts.Module
	if module == "" {
		module = bundle.ModuleName(filepath.Base(path))
	}

	parser := ast.NewParser(ast.WithLogger(opts.logger))
	out := cmd.OutOrStdout()

	if opts.Explain {
		mod, err := parser.Parse(cmd.Context(), content, path)
		if err != nil {
			return err
		}
		class := rewrite.Classify(mod)
		for i, d := range class.Decisions {
			st := mod.Statements[i]
			fmt.Fprintf(out, "%4d-%-4d %-15s %s\n", st.StartLine, st.EndLine, d.Action, styleMuted.Render(d.Reason))
		}
		return nil
	}

	rw := rewrite.NewRewriter(parser,
		rewrite.WithGateway(cfg.ServerURL, cfg.AppID),
		rewrite.WithLogger(opts.logger),
	)
	result, err := rw.Rewrite(cmd.Context(), rewrite.NewRunContext(), module, content)
	if err != nil {
		return err
	}

	switch {
	case opts.Write:
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, result.Content, info.Mode().Perm()); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s %s (%d stubs)\n", styleOK.Render("rewrote"), path, len(result.Stubs))
	case opts.Diff:
		diff, err := unifiedDiff(path, content, result.Content)
		if err != nil {
			return err
		}
		fmt.Fprint(out, diff)
	default:
		_, err = out.Write(result.Content)
		return err
	}
	return nil
}

func unifiedDiff(path string, before, after []byte) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: path,
		ToFile:   path + " (proxy)",
		Context:  3,
	})
}

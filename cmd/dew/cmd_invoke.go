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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ideal-world/dew-baas/services/action/config"
	"github.com/ideal-world/dew-baas/services/sdk"
)

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <taskCode> [arg...]",
		Short: "Run a shipped task on the gateway",
		Long: `Run one shipped task and print its result. Each argument is parsed as
JSON; anything that is not valid JSON is sent as a string.

Example:
  dew invoke todo.addItem '"buy milk"'
  dew invoke todo.fetchItems`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, rootOpts, args[0], args[1:])
		},
	}
	return cmd
}

func runInvoke(cmd *cobra.Command, opts *RootOptions, taskCode string, rawArgs []string) error {
	cfg, err := opts.loadConfig(cmd, config.Overrides{})
	if err != nil {
		return err
	}
	if err := cfg.RequireApp(); err != nil {
		return err
	}
	client, err := newSDKClient(cfg, opts)
	if err != nil {
		return err
	}

	out, err := sdk.NewTaskClient(client, cfg.AppID).Execute(cmd.Context(), taskCode, parseArgs(rawArgs)...)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "null")
		return nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(out)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
	return nil
}

// parseArgs decodes every argument as JSON, falling back to a string.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, r := range raw {
		if json.Valid([]byte(r)) {
			args = append(args, json.RawMessage(r))
		} else {
			args = append(args, r)
		}
	}
	return args
}

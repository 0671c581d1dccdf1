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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ideal-world/dew-baas/services/action/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel  string
	LogFormat string
	Telemetry string
	Project   string

	Env       string
	ServerURL string
	AppID     string

	// set by PersistentPreRunE
	logger    *slog.Logger
	telemetry *telemetry
}

// NewRootCommand creates the dew command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dew",
		Short: "Build, ship and invoke dew-baas actions",
		Long: `dew prepares compiled action modules for the dew-baas task runtime.

A development build makes every module call the gateway directly. A
production build bundles the modules into one task artifact, ships it and
rewrites each module into a proxy that forwards calls to the shipped tasks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger)

			if opts.Telemetry != "" {
				t, err := setupTelemetry(cmd.Context(), opts.Telemetry, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				opts.telemetry = t
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.shutdownTelemetry(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "auto", "log format (auto|text|json)")
	cmd.PersistentFlags().StringVar(&opts.Telemetry, "telemetry", "", "trace exporter (none|stdout|otlp); overrides configuration")
	cmd.PersistentFlags().StringVar(&opts.Project, "project", ".", "project root holding dew.yaml, package.json and dew.json")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", "", "environment section of dew.json")
	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server-url", "", "gateway base URL")
	cmd.PersistentFlags().StringVar(&opts.AppID, "app-id", "", "application id")

	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewRewriteCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))
	cmd.AddCommand(NewGatewayCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// loadConfig merges the project configuration with the global flags and
// ov. Telemetry configured in files is started here when no flag chose it.
func (o *RootOptions) loadConfig(cmd *cobra.Command, ov config.Overrides) (*config.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("env") {
		ov.Env = &o.Env
	}
	if flags.Changed("server-url") {
		ov.ServerURL = &o.ServerURL
	}
	if flags.Changed("app-id") {
		ov.AppID = &o.AppID
	}
	if flags.Changed("telemetry") {
		ov.Telemetry = &o.Telemetry
	}

	cfg, err := config.NewLoader(o.Project, config.WithLoaderLogger(o.logger)).Load(ov)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if o.telemetry == nil && cfg.Telemetry != "none" {
		t, err := setupTelemetry(cmd.Context(), cfg.Telemetry, cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		o.telemetry = t
	}
	return cfg, nil
}

func (o *RootOptions) shutdownTelemetry(ctx context.Context) error {
	if o.telemetry == nil {
		return nil
	}
	err := o.telemetry.Shutdown(context.WithoutCancel(ctx))
	o.telemetry = nil
	return err
}

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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ideal-world/dew-baas/services/action/build"
	"github.com/ideal-world/dew-baas/services/action/bundle"
	"github.com/ideal-world/dew-baas/services/action/config"
	"github.com/ideal-world/dew-baas/services/sdk"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Prod        bool
	Out         string
	Yes         bool
	Watch       bool
	MetricsFile string
	NoJournal   bool
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build [path]",
		Short: "Prepare compiled action modules for development or production",
		Long: `Prepare the compiled action modules under path (default: current directory).

Without --prod every module gets SDK initialization prepended so it calls
the gateway directly. With --prod the modules are bundled into one task
artifact, shipped to the task service (or written to --out), and each
module is rewritten into a proxy. A production build modifies the files in
place and asks for confirmation unless --yes is given or stdin is not a
terminal.

Example:
  dew build dist --prod --env test
  dew build dist --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			return runBuild(cmd, opts, path)
		},
	}

	cmd.Flags().BoolVar(&opts.Prod, "prod", false, "production build: bundle, ship and rewrite")
	cmd.Flags().StringVar(&opts.Out, "out", "", "write the production bundle to a file or gs://bucket/object instead of shipping it; local paths are relative to the working directory and must lie outside the build path")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "re-run the development build when modules change")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics of the run to this file")
	cmd.Flags().BoolVar(&opts.NoJournal, "no-journal", false, "do not record the build in the journal")

	return cmd
}

func runBuild(cmd *cobra.Command, opts *BuildOptions, path string) error {
	ov := config.Overrides{}
	if cmd.Flags().Changed("prod") {
		ov.Prod = &opts.Prod
	}
	if cmd.Flags().Changed("out") {
		ov.Out = &opts.Out
	}
	cfg, err := opts.loadConfig(cmd, ov)
	if err != nil {
		return err
	}
	if err := cfg.RequireApp(); err != nil {
		return err
	}
	if cfg.Prod && opts.Watch {
		return fmt.Errorf("--watch only runs development builds")
	}

	if cfg.Prod && !opts.Yes && isTerminal(os.Stdin) {
		ok, err := confirmProd(path, cfg)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), styleMuted.Render("build canceled"))
			return nil
		}
	}

	orchOpts := []build.OrchestratorOption{
		build.WithPreflightWorkers(cfg.PreflightWorkers),
		build.WithBuildLogger(opts.logger),
	}

	if !opts.NoJournal {
		db, err := build.OpenJournalDB(filepath.Join(opts.Project, cfg.JournalDir))
		if err != nil {
			return err
		}
		defer db.Close()
		journal, err := build.NewJournal(db, opts.logger)
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, build.WithJournal(journal))
	}

	if cfg.Prod && cfg.Out == "" {
		client, err := newSDKClient(cfg, opts.RootOptions)
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, build.WithShipper(sdk.NewTaskClient(client, cfg.AppID)))
	}

	orch := build.NewOrchestrator(orchOpts...)
	req := build.Request{
		BaseDir:     path,
		Env:         cfg.Env,
		Prod:        cfg.Prod,
		NodeEnv:     cfg.NodeEnv,
		Destination: cfg.Out,
		SDK: bundle.SDKInit{
			ServerURL: cfg.ServerURL,
			AppID:     cfg.AppID,
			AK:        cfg.AK,
			SK:        cfg.SK,
		},
	}

	if opts.Watch {
		fmt.Fprintln(cmd.OutOrStdout(), styleMuted.Render("watching "+path+", press Ctrl+C to stop"))
		return orch.Watch(cmd.Context(), req, cfg.WatchDebounce, func(result *build.Result, err error) {
			renderBuild(cmd.OutOrStdout(), result, err)
		})
	}

	result, buildErr := orch.Build(cmd.Context(), req)
	renderBuild(cmd.OutOrStdout(), result, buildErr)

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, prometheus.DefaultGatherer); err != nil {
			opts.logger.Warn("writing metrics file failed",
				slog.String("path", opts.MetricsFile),
				slog.Any("error", err),
			)
		}
	}

	if buildErr != nil && isPartial(buildErr) {
		return &exitError{code: 2, err: buildErr}
	}
	return buildErr
}

func confirmProd(path string, cfg *config.Config) (bool, error) {
	target := "ship to " + cfg.ServerURL
	if cfg.Out != "" {
		target = "write the bundle to " + cfg.Out
	}
	ok := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Production build of %s (env %s)?", path, cfg.Env)).
		Description("Modules are rewritten in place and the build will " + target + ".").
		Affirmative("Build").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return ok, nil
}

// newSDKClient builds the gateway client from the configuration.
func newSDKClient(cfg *config.Config, opts *RootOptions) (*sdk.Client, error) {
	return sdk.NewClient(cfg.ServerURL,
		sdk.WithCredentials(sdk.NewCredentials(cfg.AK, cfg.SK)),
		sdk.WithToken(cfg.Token),
		sdk.WithAppID(cfg.AppID),
		sdk.WithAuthHeader(cfg.AuthHeader),
		sdk.WithTimeout(cfg.Timeout),
		sdk.WithClientLogger(opts.logger),
	)
}

func isPartial(err error) bool {
	var partial *build.PartialBuildError
	return errors.As(err, &partial)
}

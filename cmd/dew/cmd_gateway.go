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
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ideal-world/dew-baas/services/action/config"
	"github.com/ideal-world/dew-baas/services/gateway"
)

// GatewayOptions holds flags for the gateway command.
type GatewayOptions struct {
	*RootOptions
	Addr  string
	AK    string
	SK    string
	Token string
	Debug bool
}

// NewGatewayCommand creates the gateway command.
func NewGatewayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GatewayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run a local gateway for end-to-end checks",
		Long: `Run a local dew gateway. It verifies signed requests the way the real
gateway does, stores shipped task bundles and answers the built-in
dew.echo task with its arguments. Without --ak/--sk or --token it accepts
anonymous requests.

Example:
  dew gateway --addr 127.0.0.1:9000 --ak ak1 --sk sk1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from configuration)")
	cmd.Flags().StringVar(&opts.AK, "ak", "", "accepted access key (default from configuration)")
	cmd.Flags().StringVar(&opts.SK, "sk", "", "secret key of --ak")
	cmd.Flags().StringVar(&opts.Token, "token", "", "accepted Dew-Token value")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "log every request")

	return cmd
}

func runGateway(cmd *cobra.Command, opts *GatewayOptions) error {
	ov := config.Overrides{}
	if opts.Addr != "" {
		ov.Addr = &opts.Addr
	}
	if opts.AK != "" {
		ov.AK = &opts.AK
		ov.SK = &opts.SK
	}
	cfg, err := opts.loadConfig(cmd, ov)
	if err != nil {
		return err
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	gwOpts := []gateway.Option{
		gateway.WithDateOffset(cfg.Gateway.DateOffset),
		gateway.WithRateLimit(cfg.Gateway.RateLimit, cfg.Gateway.RateBurst),
		gateway.WithDebug(opts.Debug),
		gateway.WithLogger(opts.logger),
		gateway.WithToken(opts.Token),
		gateway.WithToken(cfg.Token),
	}
	if cfg.Signed() {
		gwOpts = append(gwOpts, gateway.WithKey(cfg.AK, cfg.SK))
	}
	if opts.telemetry != nil {
		gwOpts = append(gwOpts, gateway.WithMetricReader(opts.telemetry.metricReader))
	}

	srv, err := gateway.NewServer(gwOpts...)
	if err != nil {
		return err
	}
	srv.Handle("dew.echo", func(ctx context.Context, args []json.RawMessage) (any, error) {
		return args, nil
	})
	return srv.Run(cmd.Context(), cfg.Gateway.Addr)
}

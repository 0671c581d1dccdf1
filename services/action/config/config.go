// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the settings shared by the dew build, invoke and
// gateway commands.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultsYAML []byte

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the merged configuration of one dew invocation.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// ServerURL is the gateway base URL.
	ServerURL string `yaml:"server_url" validate:"required,url"`

	// AppID identifies the application on the gateway.
	AppID string `yaml:"app_id"`

	// AK and SK sign requests. Either both or neither are set.
	AK string `yaml:"ak" validate:"required_with=SK"`
	SK string `yaml:"sk" validate:"required_with=AK"`

	// Token is sent as Dew-Token on every request.
	Token string `yaml:"token"`

	// Env selects the dew.json environment section.
	Env string `yaml:"env" validate:"required"`

	// Prod selects the production build target.
	Prod bool `yaml:"prod"`

	// NodeEnv is substituted for process.env.NODE_ENV in built modules.
	// Defaults to "production" or "development" from Prod.
	NodeEnv string `yaml:"node_env" validate:"omitempty,oneof=production development test"`

	// Out, when set, receives the production bundle instead of shipping it.
	// A local path or gs://bucket/prefix.
	Out string `yaml:"out"`

	// AuthHeader is the name of the signature header.
	AuthHeader string `yaml:"auth_header" validate:"oneof=Authorization Authentication"`

	// Timeout bounds each gateway request.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// JournalDir holds the build journal, relative to the project root.
	JournalDir string `yaml:"journal_dir" validate:"required"`

	// PreflightWorkers bounds the concurrent preflight parse.
	PreflightWorkers int `yaml:"preflight_workers" validate:"min=1,max=64"`

	// WatchDebounce coalesces file events in watch mode.
	WatchDebounce time.Duration `yaml:"watch_debounce" validate:"gte=0"`

	// Telemetry selects the trace exporter.
	Telemetry string `yaml:"telemetry" validate:"oneof=none stdout otlp"`

	Gateway GatewayConfig `yaml:"gateway"`

	// Sources lists the files that contributed, in load order.
	Sources []string `yaml:"-"`
}

// GatewayConfig configures the local mock gateway.
type GatewayConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// DateOffset is how long a signed Dew-Date stays valid.
	DateOffset time.Duration `yaml:"date_offset" validate:"gt=0"`

	// RateLimit is the sustained requests per second allowed per AK.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// RateBurst is the bucket size of the per-AK limiter.
	RateBurst int `yaml:"rate_burst" validate:"gte=0"`
}

// Signed reports whether requests carry an ak/sk signature.
func (c *Config) Signed() bool {
	return c.AK != "" && c.SK != ""
}

// RequireApp checks the settings build and invoke cannot run without.
func (c *Config) RequireApp() error {
	if c.AppID == "" {
		return fmt.Errorf("%w: app id is not set (package.json dew.appId, DEW_APP_ID or --app-id)", ErrInvalidConfig)
	}
	return nil
}

// Defaults returns the embedded default configuration.
func Defaults() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	return &cfg, nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns an ErrInvalidConfig
// listing every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_with":
		return field + " is required when " + fe.Param() + " is set"
	case "url":
		return fmt.Sprintf("%s %q is not a url", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s %q must be one of [%s]", field, fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param())
	}
}

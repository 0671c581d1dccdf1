// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// YAMLFile is the optional project settings file.
	YAMLFile = "dew.yaml"

	// PackageFile carries serverUrl and appId under its "dew" key.
	PackageFile = "package.json"

	// CredentialsFile carries ak/sk and per-environment overrides.
	CredentialsFile = "dew.json"

	envPrefix = "DEW_"
)

// Overrides are command-line values. Nil fields were not given.
type Overrides struct {
	ServerURL *string
	AppID     *string
	AK        *string
	SK        *string
	Env       *string
	Prod      *bool
	NodeEnv   *string
	Out       *string
	Telemetry *string
	Addr      *string
}

// credentials is the shape shared by the top level and each env section
// of dew.json.
type credentials struct {
	AK        string `json:"ak"`
	SK        string `json:"sk"`
	Token     string `json:"token"`
	ServerURL string `json:"serverUrl"`
	AppID     string `json:"appId"`
}

type credentialsFile struct {
	credentials
	Env map[string]credentials `json:"env"`
}

type packageFile struct {
	Dew struct {
		ServerURL string `json:"serverUrl"`
		AppID     string `json:"appId"`
	} `json:"dew"`
}

// Loader merges the configuration layers of one project directory.
type Loader struct {
	dir       string
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLookupEnv replaces os.LookupEnv, mainly for tests.
func WithLookupEnv(fn func(string) (string, bool)) LoaderOption {
	return func(l *Loader) {
		if fn != nil {
			l.lookupEnv = fn
		}
	}
}

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader for the project rooted at dir.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{dir: dir, lookupEnv: os.LookupEnv, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load merges defaults, dew.yaml, package.json, dew.json, DEW_* variables
// and ov, in that order, and validates the result.
//
// Description:
//
//	The environment name is resolved first (flag, then DEW_ENV, then
//	dew.yaml, then the default) because it selects the dew.json section.
//	Missing files are skipped. Malformed files are errors.
//
// Outputs:
//
//	*Config - The merged configuration.
//	error   - File read or decode errors, ErrUnknownEnv, or ErrInvalidConfig.
func (l *Loader) Load(ov Overrides) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if err := l.loadYAML(cfg); err != nil {
		return nil, err
	}
	if err := l.loadPackage(cfg); err != nil {
		return nil, err
	}

	if v, ok := l.lookupEnv(envPrefix + "ENV"); ok && v != "" {
		cfg.Env = v
	}
	if ov.Env != nil && *ov.Env != "" {
		cfg.Env = *ov.Env
	}

	if err := l.loadCredentials(cfg); err != nil {
		return nil, err
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	applyOverrides(cfg, ov)

	if cfg.NodeEnv == "" {
		cfg.NodeEnv = "development"
		if cfg.Prod {
			cfg.NodeEnv = "production"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.logger.Debug("configuration loaded",
		slog.String("env", cfg.Env),
		slog.Bool("prod", cfg.Prod),
		slog.String("server_url", cfg.ServerURL),
		slog.Bool("signed", cfg.Signed()),
		slog.Any("sources", cfg.Sources),
	)
	return cfg, nil
}

func (l *Loader) read(name string) ([]byte, bool, error) {
	path := filepath.Join(l.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, true, nil
}

func (l *Loader) loadYAML(cfg *Config) error {
	data, ok, err := l.read(YAMLFile)
	if err != nil || !ok {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", YAMLFile, err)
	}
	cfg.Sources = append(cfg.Sources, YAMLFile)
	return nil
}

func (l *Loader) loadPackage(cfg *Config) error {
	data, ok, err := l.read(PackageFile)
	if err != nil || !ok {
		return err
	}
	var pkg packageFile
	if err := json.Unmarshal(data, &pkg); err != nil {
		return fmt.Errorf("parsing %s: %w", PackageFile, err)
	}
	setString(&cfg.ServerURL, pkg.Dew.ServerURL)
	setString(&cfg.AppID, pkg.Dew.AppID)
	cfg.Sources = append(cfg.Sources, PackageFile)
	return nil
}

func (l *Loader) loadCredentials(cfg *Config) error {
	data, ok, err := l.read(CredentialsFile)
	if err != nil || !ok {
		return err
	}
	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", CredentialsFile, err)
	}

	file.credentials.apply(cfg)
	if section, found := file.Env[cfg.Env]; found {
		section.apply(cfg)
	} else if len(file.Env) > 0 && cfg.Env != "default" {
		return fmt.Errorf("%w: %q is not defined in %s", ErrUnknownEnv, cfg.Env, CredentialsFile)
	}
	cfg.Sources = append(cfg.Sources, CredentialsFile)
	return nil
}

func (c credentials) apply(cfg *Config) {
	setString(&cfg.AK, c.AK)
	setString(&cfg.SK, c.SK)
	setString(&cfg.Token, c.Token)
	setString(&cfg.ServerURL, c.ServerURL)
	setString(&cfg.AppID, c.AppID)
}

func (l *Loader) applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SERVER_URL":  &cfg.ServerURL,
		"APP_ID":      &cfg.AppID,
		"AK":          &cfg.AK,
		"SK":          &cfg.SK,
		"TOKEN":       &cfg.Token,
		"NODE_ENV":    &cfg.NodeEnv,
		"OUT":         &cfg.Out,
		"AUTH_HEADER": &cfg.AuthHeader,
		"JOURNAL_DIR": &cfg.JournalDir,
		"TELEMETRY":   &cfg.Telemetry,
	}
	for key, dst := range strs {
		if v, ok := l.lookupEnv(envPrefix + key); ok {
			setString(dst, v)
		}
	}

	if v, ok := l.lookupEnv(envPrefix + "PROD"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sPROD=%q: %v", ErrInvalidConfig, envPrefix, v, err)
		}
		cfg.Prod = b
	}
	if v, ok := l.lookupEnv(envPrefix + "TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sTIMEOUT=%q: %v", ErrInvalidConfig, envPrefix, v, err)
		}
		cfg.Timeout = d
	}
	return nil
}

func applyOverrides(cfg *Config, ov Overrides) {
	setPtr(&cfg.ServerURL, ov.ServerURL)
	setPtr(&cfg.AppID, ov.AppID)
	setPtr(&cfg.AK, ov.AK)
	setPtr(&cfg.SK, ov.SK)
	setPtr(&cfg.NodeEnv, ov.NodeEnv)
	setPtr(&cfg.Out, ov.Out)
	setPtr(&cfg.Telemetry, ov.Telemetry)
	setPtr(&cfg.Gateway.Addr, ov.Addr)
	if ov.Prod != nil {
		cfg.Prod = *ov.Prod
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr(dst *string, v *string) {
	if v != nil {
		setString(dst, *v)
	}
}

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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProjectFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.ServerURL)
	assert.Equal(t, "default", cfg.Env)
	assert.Equal(t, "Authorization", cfg.AuthHeader)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 8, cfg.PreflightWorkers)
	assert.Equal(t, 15*time.Minute, cfg.Gateway.DateOffset)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Layering(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, YAMLFile, "timeout: 5s\nenv: test\n")
	writeProjectFile(t, dir, PackageFile, `{"name":"todo","dew":{"serverUrl":"http://pkg.example:8080","appId":"app-pkg"}}`)
	writeProjectFile(t, dir, CredentialsFile, `{
		"ak": "ak-top", "sk": "sk-top",
		"env": {
			"test": {"ak": "ak-test", "sk": "sk-test"},
			"prod": {"ak": "ak-prod", "sk": "sk-prod", "serverUrl": "https://prod.example"}
		}
	}`)

	l := NewLoader(dir, WithLookupEnv(envMap(map[string]string{
		"DEW_TOKEN": "tok",
	})))

	cfg, err := l.Load(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "http://pkg.example:8080", cfg.ServerURL)
	assert.Equal(t, "app-pkg", cfg.AppID)
	assert.Equal(t, "ak-test", cfg.AK)
	assert.Equal(t, "sk-test", cfg.SK)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, "development", cfg.NodeEnv)
	assert.Equal(t, []string{YAMLFile, PackageFile, CredentialsFile}, cfg.Sources)

	cfg, err = l.Load(Overrides{Env: strPtr("prod"), Prod: boolPtr(true), Out: strPtr("dist")})
	require.NoError(t, err)
	assert.Equal(t, "ak-prod", cfg.AK)
	assert.Equal(t, "https://prod.example", cfg.ServerURL)
	assert.Equal(t, "production", cfg.NodeEnv)
	assert.Equal(t, "dist", cfg.Out)
	assert.True(t, cfg.Signed())
}

func TestLoad_EnvVarsBeatFilesFlagsBeatEnvVars(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, PackageFile, `{"dew":{"serverUrl":"http://pkg.example","appId":"a"}}`)

	l := NewLoader(dir, WithLookupEnv(envMap(map[string]string{
		"DEW_SERVER_URL": "http://env.example",
		"DEW_PROD":       "true",
		"DEW_TIMEOUT":    "2s",
	})))

	cfg, err := l.Load(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "http://env.example", cfg.ServerURL)
	assert.True(t, cfg.Prod)
	assert.Equal(t, 2*time.Second, cfg.Timeout)

	cfg, err = l.Load(Overrides{ServerURL: strPtr("http://flag.example"), Prod: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "http://flag.example", cfg.ServerURL)
	assert.False(t, cfg.Prod)
}

func TestLoad_UnknownEnv(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, CredentialsFile, `{"env":{"test":{"ak":"a","sk":"b"}}}`)

	_, err := NewLoader(dir, WithLookupEnv(envMap(nil))).Load(Overrides{Env: strPtr("staging")})
	if !errors.Is(err, ErrUnknownEnv) {
		t.Fatalf("expected ErrUnknownEnv, got %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"half credentials", map[string]string{"DEW_AK": "only-ak"}, "SK is required when AK is set"},
		{"bad url", map[string]string{"DEW_SERVER_URL": "not a url"}, "is not a url"},
		{"bad telemetry", map[string]string{"DEW_TELEMETRY": "zipkin"}, "Telemetry"},
		{"bad prod", map[string]string{"DEW_PROD": "maybe"}, "DEW_PROD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(t.TempDir(), WithLookupEnv(envMap(tt.env))).Load(Overrides{})
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, CredentialsFile, `{"ak":`)
	_, err := NewLoader(dir, WithLookupEnv(envMap(nil))).Load(Overrides{})
	if err == nil || !strings.Contains(err.Error(), CredentialsFile) {
		t.Fatalf("expected dew.json parse error, got %v", err)
	}
}

func TestRequireApp(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.RequireApp(), ErrInvalidConfig)
	cfg.AppID = "app1"
	assert.NoError(t, cfg.RequireApp())
}

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
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleModule = `"use strict";
Object.defineProperty(exports, "__esModule", { value: true });
exports.addItem = void 0;
function helper(x) {
    return x + 1;
}
function addItem(x) {
    return helper(x);
}
exports.addItem = addItem;
`

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-format", "json", "--telemetry", "none"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(io.Discard, "debug", "text")
	assert.NoError(t, err)
	_, err = newLogger(io.Discard, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(io.Discard, "info", "xml")
	assert.Error(t, err)
}

func TestParseArgs(t *testing.T) {
	args := parseArgs([]string{`"milk"`, `3`, `{"a":1}`, `plain words`})
	data, err := json.Marshal(args)
	require.NoError(t, err)
	assert.JSONEq(t, `["milk", 3, {"a":1}, "plain words"]`, string(data))
}

func TestRewriteCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "todo.js")
	require.NoError(t, os.WriteFile(file, []byte(sampleModule), 0o644))

	out, err := runCLI(t, "rewrite", file, "--project", dir, "--server-url", "http://gw:9000", "--app-id", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `DewSDK.init("http://gw:9000", "1");`)
	assert.Contains(t, out, `DewSDK.task.execute("todo.addItem", [x])`)
	assert.NotContains(t, out, "helper")

	diff, err := runCLI(t, "rewrite", file, "--diff", "--project", dir)
	require.NoError(t, err)
	assert.Contains(t, diff, "--- "+file)
	assert.Contains(t, diff, "-function helper(x) {")

	explain, err := runCLI(t, "rewrite", file, "--explain", "--project", dir)
	require.NoError(t, err)
	assert.Contains(t, explain, "private function")
	assert.Contains(t, explain, "stub")

	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, sampleModule, string(got), "rewrite without --write must not modify the file")
}

func TestBuildAndHistoryCommands(t *testing.T) {
	project := t.TempDir()
	dist := filepath.Join(project, "dist")
	require.NoError(t, os.MkdirAll(dist, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "todo.js"), []byte(sampleModule), 0o644))

	_, err := runCLI(t, "build", dist, "--project", project, "--app-id", "app1")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dist, "todo.js"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(got), `sdk.initDefaultSDK("http://localhost:9000", "app1");`), "dev preamble missing:\n%s", got)

	history, err := runCLI(t, "history", "--project", project)
	require.NoError(t, err)
	assert.Contains(t, history, dist)
	assert.Contains(t, history, "dev")
}

func TestBuildCommand_RequiresApp(t *testing.T) {
	project := t.TempDir()
	_, err := runCLI(t, "build", project, "--project", project, "--no-journal")
	assert.Error(t, err)
}

func TestBuildCommand_RejectsProdWatch(t *testing.T) {
	project := t.TempDir()
	_, err := runCLI(t, "build", project, "--project", project, "--app-id", "1", "--prod", "--watch", "--yes", "--no-journal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch")
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bundle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestESBuild_Bundle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "todo.js", "exports.greeting = function () { return 'hello from todo'; };\n")
	entry := writeFile(t, dir, "entry.js", "const todo = require(\"./todo\");\nexports.todo = todo;\n")

	b := NewESBuild()
	art, err := b.Bundle(context.Background(), entry)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}

	code := string(art.Code)
	if !strings.Contains(code, "var JVM") {
		t.Errorf("bundle does not assign the JVM global:\n%s", code)
	}
	if !strings.Contains(code, "hello from todo") {
		t.Errorf("bundle is missing required module:\n%s", code)
	}
	if len(art.SHA256) != 64 {
		t.Errorf("SHA256 = %q", art.SHA256)
	}
	if art.Metafile == nil || len(art.Metafile.Inputs) != 2 {
		t.Fatalf("metafile inputs = %+v", art.Metafile)
	}
}

func TestESBuild_External(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, dir, "entry.js", "const sdk = require(\"@idealworld/sdk/dist/jvm\");\nexports.sdk = sdk;\n")

	if _, err := NewESBuild().Bundle(context.Background(), entry); !errors.Is(err, ErrBundleFailed) {
		t.Fatalf("unresolvable import: expected ErrBundleFailed, got %v", err)
	}

	art, err := NewESBuild(WithExternal("@idealworld/sdk/dist/jvm")).Bundle(context.Background(), entry)
	if err != nil {
		t.Fatalf("Bundle with external: %v", err)
	}
	if !strings.Contains(string(art.Code), "@idealworld/sdk/dist/jvm") {
		t.Errorf("external require not preserved:\n%s", art.Code)
	}
	s := art.Metafile.Summarize()
	if len(s.External) != 1 || s.External[0] != "@idealworld/sdk/dist/jvm" {
		t.Errorf("summary external = %v", s.External)
	}
}

func TestESBuild_Minify(t *testing.T) {
	src := []byte("function addNumbers(firstValue, secondValue) {\n  return firstValue + secondValue;\n}\nconsole.log(addNumbers(1, 2));\n")

	out, err := NewESBuild().Minify(context.Background(), src)
	if err != nil {
		t.Fatalf("Minify: %v", err)
	}
	if len(out) >= len(src) {
		t.Errorf("minified output not smaller: %d >= %d", len(out), len(src))
	}

	if _, err := NewESBuild().Minify(context.Background(), []byte("function (")); !errors.Is(err, ErrMinifyFailed) {
		t.Errorf("expected ErrMinifyFailed, got %v", err)
	}
}

func TestESBuild_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewESBuild().Bundle(ctx, "/nope.js"); !errors.Is(err, context.Canceled) {
		t.Errorf("Bundle: expected context.Canceled, got %v", err)
	}
	if _, err := NewESBuild().Minify(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Minify: expected context.Canceled, got %v", err)
	}
}

func TestMetafile_Summarize(t *testing.T) {
	m, err := ParseMetafile([]byte(`{
		"inputs": {
			"a.js": {"bytes": 100, "imports": []},
			"b.js": {"bytes": 50, "imports": [{"path": "ext", "kind": "require-call", "external": true}]}
		},
		"outputs": {
			"out.js": {"bytes": 200, "inputs": {"a.js": {"bytesInOutput": 150}, "b.js": {"bytesInOutput": 50}}, "imports": [], "exports": []}
		}
	}`))
	if err != nil {
		t.Fatalf("ParseMetafile: %v", err)
	}

	s := m.Summarize()
	if s.TotalBytes != 200 {
		t.Errorf("TotalBytes = %d", s.TotalBytes)
	}
	if len(s.Inputs) != 2 || s.Inputs[0].Path != "a.js" || s.Inputs[0].Percentage != 75 {
		t.Errorf("Inputs = %+v", s.Inputs)
	}
	if len(s.External) != 1 || s.External[0] != "ext" {
		t.Errorf("External = %v", s.External)
	}

	var nilMeta *Metafile
	if got := nilMeta.Summarize(); got.TotalBytes != 0 {
		t.Errorf("nil summary = %+v", got)
	}
}

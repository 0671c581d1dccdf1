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
	"testing"
)

func TestFileSink_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dist")
	sink := NewFileSink(dir)
	defer sink.Close()

	where, err := sink.Write(context.Background(), "JVM.min.js", []byte("var JVM=1;"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if where != filepath.Join(dir, "JVM.min.js") {
		t.Errorf("location = %q", where)
	}
	got, err := os.ReadFile(where)
	if err != nil || string(got) != "var JVM=1;" {
		t.Errorf("content = %q, err = %v", got, err)
	}
	if _, err := os.Stat(where + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestParseGCSURL(t *testing.T) {
	tests := []struct {
		in     string
		bucket string
		prefix string
		ok     bool
	}{
		{"gs://builds", "builds", "", true},
		{"gs://builds/app1/prod/", "builds", "app1/prod", true},
		{"gs://", "", "", false},
		{"s3://builds", "", "", false},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseGCSURL(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseGCSURL(%q) err = %v", tt.in, err)
			continue
		}
		if tt.ok && (bucket != tt.bucket || prefix != tt.prefix) {
			t.Errorf("ParseGCSURL(%q) = %q, %q", tt.in, bucket, prefix)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidDestination) {
			t.Errorf("ParseGCSURL(%q) error not ErrInvalidDestination: %v", tt.in, err)
		}
	}
}

func TestOpenDestination_Local(t *testing.T) {
	t.Chdir(t.TempDir())
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	other := t.TempDir()

	tests := []struct {
		dest    string
		wantDir string
		name    string
	}{
		{"dist", filepath.Join(cwd, "dist"), DefaultArtifactName},
		{"dist/", filepath.Join(cwd, "dist"), DefaultArtifactName},
		{"out/bundle.js", filepath.Join(cwd, "out"), "bundle.js"},
		{filepath.Join(other, "abs.min.js"), other, "abs.min.js"},
	}
	for _, tt := range tests {
		sink, name, err := OpenDestination(context.Background(), tt.dest)
		if err != nil {
			t.Fatalf("OpenDestination(%q): %v", tt.dest, err)
		}
		fs, ok := sink.(*FileSink)
		if !ok {
			t.Fatalf("expected *FileSink, got %T", sink)
		}
		if fs.dir != tt.wantDir || name != tt.name {
			t.Errorf("OpenDestination(%q) = %q, %q; want %q, %q", tt.dest, fs.dir, name, tt.wantDir, tt.name)
		}
	}

	if _, _, err := OpenDestination(context.Background(), ""); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("empty dest: %v", err)
	}
	if _, _, err := OpenDestination(context.Background(), "gs://"); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("bucketless gs url: %v", err)
	}
}

func TestLocalDestination(t *testing.T) {
	t.Chdir(t.TempDir())
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	got, err := LocalDestination("bundle.js")
	if err != nil || got != filepath.Join(cwd, "bundle.js") {
		t.Errorf("LocalDestination(bundle.js) = %q, %v", got, err)
	}
	if _, err := LocalDestination("gs://builds/app.js"); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("gs url accepted as local: %v", err)
	}
	if !IsRemoteDestination("gs://builds") || IsRemoteDestination("dist/gs://x") {
		t.Error("IsRemoteDestination misclassified")
	}
}

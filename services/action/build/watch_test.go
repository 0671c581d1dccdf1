// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatch_RebuildsOnChange(t *testing.T) {
	dir := writeTree(t, map[string]string{"todo.js": todoSource})
	o := newTestOrchestrator(&fakeBundler{}, &fakeMinifier{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan *Result, 8)
	done := make(chan error, 1)
	go func() {
		done <- o.Watch(ctx, Request{BaseDir: dir, SDK: testSDK}, 50*time.Millisecond, func(r *Result, err error) {
			if err != nil {
				t.Errorf("watch build failed: %v", err)
			}
			results <- r
		})
	}()

	first := waitResult(t, results)
	if len(first.Files) != 1 {
		t.Fatalf("initial build should see one module, got %d", len(first.Files))
	}

	if err := os.WriteFile(filepath.Join(dir, "jobs.js"), []byte("function run() {}\nexports.run = run;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-results:
			if len(r.Files) == 2 {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("watch returned %v", err)
				}
				if !HasDevPreamble([]byte(readFile(t, filepath.Join(dir, "jobs.js")))) {
					t.Error("new module was not prepared")
				}
				return
			}
		case <-deadline:
			t.Fatal("no rebuild after adding a module")
		}
	}
}

func waitResult(t *testing.T, results <-chan *Result) *Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for build")
		return nil
	}
}

func TestRelevant(t *testing.T) {
	exts := []string{".js"}
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/a/todo.js", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/a/todo.js", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/a/JVM.js", Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "/a/" + LockFileName, Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "/a/readme.md", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := relevant(tt.event, exts); got != tt.want {
			t.Errorf("relevant(%v) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

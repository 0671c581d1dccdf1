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
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ideal-world/dew-baas/services/action/bundle"
)

// BuildHook receives the outcome of every build run by Watch.
type BuildHook func(result *Result, err error)

// Watch runs a development build of req and re-runs it whenever a module
// under the base path changes.
//
// Description:
//
//	Events are collected until the tree has been quiet for debounce, then
//	one build runs. Events queued by the build's own writes are dropped; a
//	late echo finds every module prepared and writes nothing.
//	The entry module and the lock file are ignored. Directories created
//	while watching are added.
//
// Inputs:
//
//	ctx      - Watch runs until ctx is canceled.
//	req      - The build request. Prod is ignored.
//	debounce - Quiet period before a rebuild. Values <= 0 use 300ms.
//	hook     - Called after every build. May be nil.
//
// Outputs:
//
//	error - Nil when ctx is canceled, otherwise the watcher setup error.
//	        Build errors go to hook and do not stop the watch.
func (o *Orchestrator) Watch(ctx context.Context, req Request, debounce time.Duration, hook BuildHook) error {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	req.Prod = false

	base, err := filepath.Abs(req.BaseDir)
	if err != nil {
		return fmt.Errorf("resolving base directory: %w", err)
	}
	req.BaseDir = base

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, base); err != nil {
		return err
	}

	run := func() {
		result, err := o.Build(ctx, req)
		if hook != nil {
			hook(result, err)
		}
		drain(watcher.Events)
	}
	run()

	extensions := o.options.Parser.Extensions()
	ticker := time.NewTicker(debounce / 3)
	defer ticker.Stop()
	var lastEvent time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if isWatchableDir(event.Name) {
					if err := addTree(watcher, event.Name); err != nil {
						o.options.Logger.Warn("watching new directory", slog.Any("error", err))
					}
					continue
				}
			}
			if !relevant(event, extensions) {
				continue
			}
			o.options.Logger.Debug("module changed",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()),
			)
			lastEvent = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.options.Logger.Warn("file watcher error", slog.Any("error", err))

		case <-ticker.C:
			if lastEvent.IsZero() || time.Since(lastEvent) < debounce {
				continue
			}
			lastEvent = time.Time{}
			run()
		}
	}
}

// addTree watches root and every directory below it that Discover visits.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skippedDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func skippedDir(name string) bool {
	return name == "node_modules" || strings.HasPrefix(name, ".")
}

func isWatchableDir(path string) bool {
	info, err := statDir(path)
	return err == nil && info && !skippedDir(filepath.Base(path))
}

func relevant(event fsnotify.Event, extensions []string) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if name == bundle.JVMFileName || name == LockFileName {
		return false
	}
	return slices.Contains(extensions, filepath.Ext(name))
}

// drain discards queued events.
func drain(events <-chan fsnotify.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

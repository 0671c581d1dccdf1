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
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ideal-world/dew-baas/services/action/rewrite"
)

// JVMFileName is the reserved name of the synthetic entry module.
const JVMFileName = "JVM.js"

// JVMSDKModule is the SDK variant bundled for the task runtime.
const JVMSDKModule = rewrite.SDKModule + "/dist/jvm"

// SDKInit carries the values written into generated SDK initialization code.
type SDKInit struct {
	ServerURL string
	AppID     string
	AK        string
	SK        string
}

// Aggregator composes the JVM entry module of one base directory.
//
// Description:
//
//	The entry module requires every action module, re-exports it under its
//	module name and references it once so module-level registration code
//	runs inside the bundle. The file is created with an SDK header on the
//	first Append and grows by one block per module afterwards. The build
//	orchestrator removes any stale file before the first Append and calls
//	Remove once the bundle is produced.
//
// Thread Safety:
//
//	Append and Remove are serialized by an internal mutex. Two aggregators
//	on the same directory are not coordinated.
type Aggregator struct {
	mu      sync.Mutex
	baseDir string
	init    SDKInit
	modules []string
	logger  *slog.Logger
}

// NewAggregator creates an aggregator writing JVM.js into baseDir.
func NewAggregator(baseDir string, init SDKInit, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{baseDir: baseDir, init: init, logger: logger}
}

// Path returns the absolute location of the entry module.
func (a *Aggregator) Path() string {
	return filepath.Join(a.baseDir, JVMFileName)
}

// Modules returns the module names appended so far.
func (a *Aggregator) Modules() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.modules...)
}

// Append adds one action module to the entry file.
//
// Inputs:
//
//	relPath - Module path relative to the base directory, extension included.
//
// Outputs:
//
//	string - The derived module name.
//	error  - Non-nil if relPath is the entry module itself or the write fails.
func (a *Aggregator) Append(relPath string) (string, error) {
	if IsReserved(relPath) {
		return "", fmt.Errorf("%s: %w", relPath, ErrReservedModule)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.Path()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(path, []byte(JVMHeader(a.init)), 0o644); err != nil {
			return "", fmt.Errorf("writing %s header: %w", JVMFileName, err)
		}
	} else if err != nil {
		return "", fmt.Errorf("checking %s: %w", JVMFileName, err)
	}

	name := ModuleName(relPath)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", JVMFileName, err)
	}
	if _, err := f.WriteString(JVMEntry(name, RequirePath(relPath))); err != nil {
		f.Close()
		return "", fmt.Errorf("appending %s to %s: %w", name, JVMFileName, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", JVMFileName, err)
	}

	a.modules = append(a.modules, name)
	a.logger.Debug("module aggregated",
		slog.String("module", name),
		slog.String("path", relPath),
	)
	return name, nil
}

// Remove deletes the entry module. A missing file is not an error.
func (a *Aggregator) Remove() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", JVMFileName, err)
	}
	return nil
}

// JVMHeader is the first block of the entry module.
func JVMHeader(init SDKInit) string {
	return `"use strict";
Object.defineProperty(exports, "__esModule", { value: true });
const sdk = require("` + JVMSDKModule + `");
exports.DewSDK = sdk.DewSDK;
sdk.initDefaultSDK(` + rewrite.JSString(init.ServerURL) + `, ` + rewrite.JSString(init.AppID) + `);
sdk.DewSDK.setting.aksk(` + rewrite.JSString(init.AK) + `, ` + rewrite.JSString(init.SK) + `);
`
}

// JVMEntry is the block appended for one module.
func JVMEntry(name, requirePath string) string {
	return "\nconst " + name + " = require(" + rewrite.JSString(requirePath) + ");\n" +
		"exports." + name + " = " + name + ";\n" +
		name + ";\n"
}

// IsReserved reports whether relPath names the entry module itself.
func IsReserved(relPath string) bool {
	return filepath.Clean(relPath) == JVMFileName
}

// ModuleName derives the identifier-safe module name of a relative path:
// the extension is dropped and every character that cannot appear in a
// JavaScript identifier, path separators and dots included, becomes '_'.
func ModuleName(relPath string) string {
	trimmed := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r == '_' || r == '$',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// RequirePath returns the relative require specifier of a module path.
func RequirePath(relPath string) string {
	trimmed := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	return "./" + filepath.ToSlash(trimmed)
}

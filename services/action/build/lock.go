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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName is the lock file created in the base path for the duration
// of a build.
const LockFileName = ".dew-build.lock"

// lock is a held build lock.
type lock struct {
	path  string
	flock *flock.Flock
}

// acquireLock takes an OS-held lock on the base path. The kernel drops it
// when the holder exits, so a killed build never blocks the next one. The
// file also records the holder for the ErrBuildLocked message.
func acquireLock(baseDir string) (*lock, error) {
	path := filepath.Join(baseDir, LockFileName)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		holder, _ := os.ReadFile(path)
		return nil, fmt.Errorf("%w: %s held by %q", ErrBuildLocked, path, strings.TrimSpace(string(holder)))
	}

	holder := fmt.Sprintf("pid=%d started=%s", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(holder), 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("recording lock holder: %w", err)
	}
	return &lock{path: path, flock: fl}, nil
}

// release removes the lock file while still holding it, then unlocks.
func (l *lock) release() error {
	var errs []error
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing lock file: %w", err))
	}
	if err := l.flock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlocking %s: %w", l.path, err))
	}
	return errors.Join(errs...)
}

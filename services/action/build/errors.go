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
	"strings"
)

var (
	// ErrBaseDirNotFound is returned when the build path does not exist or
	// is not a directory.
	ErrBaseDirNotFound = errors.New("base directory not found")

	// ErrBuildLocked is returned when another build holds the base path.
	ErrBuildLocked = errors.New("another build is running on this path")

	// ErrNoModules is returned by a production build over a directory with
	// no action modules.
	ErrNoModules = errors.New("no action modules found")

	// ErrAlreadyRewritten is returned by a production build over modules
	// that an earlier production build already turned into proxies.
	ErrAlreadyRewritten = errors.New("modules already rewritten into proxies; recompile the sources first")

	// ErrDestinationInBase is returned when a local destination lies under
	// the base path.
	ErrDestinationInBase = errors.New("destination is inside the build path")

	// ErrNoShipper is returned when a production build has neither a
	// destination nor a task shipper.
	ErrNoShipper = errors.New("no destination and no task shipper configured")

	// ErrBuildNotFound is returned by the journal for an unknown build id.
	ErrBuildNotFound = errors.New("build not found")
)

// PartialBuildError reports a production build that failed after the
// bundle was produced. A shipped artifact is not withdrawn and rewritten
// files are not rolled back: Rewritten lists the files that already hold
// their proxy form.
type PartialBuildError struct {
	// Step is the failed step: "ship", "cleanup" or "rewrite".
	Step string

	// Rewritten are base-relative paths already rewritten.
	Rewritten []string

	Err error
}

func (e *PartialBuildError) Error() string {
	msg := fmt.Sprintf("build failed at %s step: %v", e.Step, e.Err)
	if len(e.Rewritten) > 0 {
		msg += fmt.Sprintf(" (%d file(s) already rewritten: %s)", len(e.Rewritten), strings.Join(e.Rewritten, ", "))
	}
	return msg
}

func (e *PartialBuildError) Unwrap() error {
	return e.Err
}

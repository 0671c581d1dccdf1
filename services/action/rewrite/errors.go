// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rewrite

import "errors"

var (
	// ErrOverlappingEdits is returned when two edits touch the same bytes.
	ErrOverlappingEdits = errors.New("overlapping edits")

	// ErrEditOutOfRange is returned when an edit span falls outside the buffer.
	ErrEditOutOfRange = errors.New("edit span out of range")

	// ErrCorruptOutput is returned when the rewritten module no longer parses.
	ErrCorruptOutput = errors.New("rewritten module does not parse")

	// ErrEmptyModuleName is returned when Rewrite is called without a module name.
	ErrEmptyModuleName = errors.New("module name must not be empty")
)

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

import "errors"

var (
	// ErrReservedModule is returned when JVM.js is passed to Append.
	ErrReservedModule = errors.New("JVM.js is reserved for the generated entry module")

	// ErrBundleFailed wraps esbuild build errors.
	ErrBundleFailed = errors.New("bundle failed")

	// ErrMinifyFailed wraps esbuild transform errors.
	ErrMinifyFailed = errors.New("minify failed")

	// ErrInvalidDestination is returned for an unusable output destination.
	ErrInvalidDestination = errors.New("invalid output destination")
)

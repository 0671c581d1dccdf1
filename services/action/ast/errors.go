// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

var (
	// ErrFileTooLarge is returned when the source exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("source file exceeds maximum parse size")

	// ErrInvalidContent is returned when the source is not valid UTF-8.
	ErrInvalidContent = errors.New("source is not valid UTF-8")

	// ErrSyntax is the sentinel wrapped by every ParseError.
	ErrSyntax = errors.New("syntax error")
)

// ParseError reports the first syntax error tree-sitter found in a module.
//
// Description:
//
//	A ParseError is fatal for the file it belongs to. During a production
//	build it aborts the whole build because the aggregate entry module
//	cannot be trusted when one of its inputs does not parse.
type ParseError struct {
	// FilePath is the path passed to Parse.
	FilePath string

	// Line is the 1-based line of the first error node.
	Line int

	// Column is the 0-based byte column of the first error node.
	Column int

	// Snippet is a short excerpt of the offending source.
	Snippet string
}

// Error implements error.
func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("%s:%d:%d: %v", e.FilePath, e.Line, e.Column, ErrSyntax)
	}
	return fmt.Sprintf("%s:%d:%d: %v near %q", e.FilePath, e.Line, e.Column, ErrSyntax, e.Snippet)
}

// Unwrap lets errors.Is match ErrSyntax.
func (e *ParseError) Unwrap() error {
	return ErrSyntax
}

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

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ideal-world/dew-baas/services/action/ast"
)

// Edit replaces the bytes of Span in the original buffer with Replacement.
type Edit struct {
	Span        ast.Span
	Replacement string
}

// ApplyEdits splices every edit into a copy of content.
//
// Description:
//
//	All spans refer to the original buffer. Edits are sorted by
//	descending start offset and applied in that order, so every splice
//	happens above the offsets of the edits still pending and none of them
//	has to be recomputed. Overlapping spans are rejected before anything
//	is applied.
//
// Inputs:
//
//	content - The original buffer. Not modified.
//	edits   - Edits against content, in any order.
//
// Outputs:
//
//	[]byte - The edited copy.
//	error  - ErrEditOutOfRange or ErrOverlappingEdits.
func ApplyEdits(content []byte, edits []Edit) ([]byte, error) {
	sorted := slices.Clone(edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Span.Start != sorted[j].Span.Start {
			return sorted[i].Span.Start > sorted[j].Span.Start
		}
		return sorted[i].Span.End > sorted[j].Span.End
	})

	limit := len(content)
	for _, e := range sorted {
		if e.Span.Start < 0 || e.Span.End < e.Span.Start || e.Span.End > len(content) {
			return nil, fmt.Errorf("%w: [%d,%d) in %d bytes", ErrEditOutOfRange, e.Span.Start, e.Span.End, len(content))
		}
		if e.Span.End > limit {
			return nil, fmt.Errorf("%w: [%d,%d) overlaps edit at %d", ErrOverlappingEdits, e.Span.Start, e.Span.End, limit)
		}
		limit = e.Span.Start
	}

	out := slices.Clone(content)
	for _, e := range sorted {
		out = slices.Concat(out[:e.Span.Start], []byte(e.Replacement), out[e.Span.End:])
	}
	return out, nil
}

// deletionSpan widens a statement span so removing it also removes the
// line terminator that follows it.
func deletionSpan(content []byte, span ast.Span) ast.Span {
	end := span.End
	switch {
	case end < len(content) && content[end] == '\n':
		end++
	case end+1 < len(content) && content[end] == '\r' && content[end+1] == '\n':
		end += 2
	}
	return ast.Span{Start: span.Start, End: end}
}

// trailingCommentSpan widens a trailing comment span over the horizontal
// whitespace that separates it from the deleted statement before it.
func trailingCommentSpan(content []byte, span ast.Span, floor int) ast.Span {
	s := deletionSpan(content, span)
	for s.Start > floor && (content[s.Start-1] == ' ' || content[s.Start-1] == '\t') {
		s.Start--
	}
	return s
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sdk

import (
	"fmt"
	"strings"
)

// OptActionKind is the operation requested on a resource.
type OptActionKind string

const (
	ActionFetch  OptActionKind = "fetch"
	ActionCreate OptActionKind = "create"
	ActionModify OptActionKind = "modify"
	ActionPatch  OptActionKind = "patch"
	ActionDelete OptActionKind = "delete"
)

// Valid reports whether k is a known action.
func (k OptActionKind) Valid() bool {
	switch k {
	case ActionFetch, ActionCreate, ActionModify, ActionPatch, ActionDelete:
		return true
	}
	return false
}

// ParseOptActionKind parses an action name case-insensitively.
func ParseOptActionKind(s string) (OptActionKind, error) {
	k := OptActionKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return k, nil
}

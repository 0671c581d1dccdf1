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
	"sort"
	"sync"
)

// RunContext carries the state shared by every rewrite of one build run.
//
// Description:
//
//	Compiled CommonJS output often declares several exports in a single
//	`exports.a = exports.b = void 0;` statement before assigning them one
//	by one. When a later `exports.b = ...` statement is deleted, the
//	`exports.b = ` link of the earlier chain has to go too. RunContext
//	records those fragments per module so the rewriter can remove them
//	from the chain it keeps. A RunContext lives for one build and is then
//	dropped; fragments never leak between builds or between modules.
//
// Thread Safety:
//
//	Safe for concurrent use.
type RunContext struct {
	mu        sync.Mutex
	fragments map[string]map[string]bool
}

// NewRunContext creates an empty run context.
func NewRunContext() *RunContext {
	return &RunContext{fragments: make(map[string]map[string]bool)}
}

// Record notes that `exports.<name> = ` must be removed from module.
func (c *RunContext) Record(module, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.fragments[module]
	if !ok {
		set = make(map[string]bool)
		c.fragments[module] = set
	}
	set[name] = true
}

// Has reports whether name was recorded for module.
func (c *RunContext) Has(module, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragments[module][name]
}

// Fragments returns the recorded fragments of module, sorted.
func (c *RunContext) Fragments(module string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.fragments[module]))
	for name := range c.fragments[module] {
		out = append(out, cleanupFragment(name))
	}
	sort.Strings(out)
	return out
}

// Len returns the number of fragments recorded across all modules.
func (c *RunContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, set := range c.fragments {
		n += len(set)
	}
	return n
}

func cleanupFragment(name string) string {
	return "exports." + name + " = "
}

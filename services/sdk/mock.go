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
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MockFunc stands in for the gateway for one resource kind. It receives
// the action, the resource URI and the request body, and returns the body
// the call resolves with.
type MockFunc func(ctx context.Context, action OptActionKind, resourceURI string, body any) (json.RawMessage, error)

// Mocks maps lower-cased resource names to stubs. A Client with a
// matching entry never touches the network.
//
// Thread Safety: Safe for concurrent use.
type Mocks struct {
	mu    sync.RWMutex
	funcs map[string]MockFunc
}

// NewMocks creates an empty registry.
func NewMocks() *Mocks {
	return &Mocks{funcs: make(map[string]MockFunc)}
}

// Register adds or replaces the stub for name.
func (m *Mocks) Register(name string, fn MockFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[strings.ToLower(name)] = fn
}

// RegisterAll adds every entry of items.
func (m *Mocks) RegisterAll(items map[string]MockFunc) {
	for name, fn := range items {
		m.Register(name, fn)
	}
}

// Lookup returns the stub for name, if any.
func (m *Mocks) Lookup(name string) (MockFunc, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.funcs[strings.ToLower(name)]
	return fn, ok
}

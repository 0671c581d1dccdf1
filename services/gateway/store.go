// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Bundle is the task code shipped for one app.
type Bundle struct {
	AppID     string    `json:"app_id"`
	SHA256    string    `json:"sha256"`
	Bytes     int       `json:"bytes"`
	UpdatedAt time.Time `json:"updated_at"`
	Code      []byte    `json:"-"`
}

// BundleStore keeps the latest shipped bundle per app in memory.
type BundleStore struct {
	mu      sync.RWMutex
	bundles map[string]*Bundle
}

// NewBundleStore creates an empty store.
func NewBundleStore() *BundleStore {
	return &BundleStore{bundles: make(map[string]*Bundle)}
}

// Put replaces the bundle of appID.
func (s *BundleStore) Put(appID string, code []byte, now time.Time) *Bundle {
	sum := sha256.Sum256(code)
	b := &Bundle{
		AppID:     appID,
		SHA256:    hex.EncodeToString(sum[:]),
		Bytes:     len(code),
		UpdatedAt: now,
		Code:      append([]byte(nil), code...),
	}
	s.mu.Lock()
	s.bundles[appID] = b
	s.mu.Unlock()
	return b
}

// Get returns the bundle of appID.
func (s *BundleStore) Get(appID string) (*Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[appID]
	return b, ok
}

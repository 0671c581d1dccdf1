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
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ideal-world/dew-baas/services/sdk"
)

func TestVerifier_Verify(t *testing.T) {
	now := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	v := &Verifier{
		keys:       map[string]string{"ak1": "sk1"},
		tokens:     map[string]bool{"tok": true},
		dateOffset: 15 * time.Minute,
		now:        func() time.Time { return now },
	}

	signed := func(at time.Time, sk string) *http.Request {
		req, _ := http.NewRequest(http.MethodPost, "http://gw"+sdk.ExecPath+"?b=2&a=1", nil)
		date := sdk.FormatDate(at)
		sig := sdk.Sign(sdk.CanonicalString(req.Method, date, req.URL.Path, req.URL.RawQuery), []byte(sk))
		req.Header.Set(sdk.HeaderAuthorization, "ak1:"+sig)
		req.Header.Set(sdk.HeaderDate, date)
		return req
	}

	tests := []struct {
		name    string
		req     *http.Request
		wantErr error
	}{
		{"valid", signed(now, "sk1"), nil},
		{"within offset", signed(now.Add(-10*time.Minute), "sk1"), nil},
		{"expired", signed(now.Add(-20*time.Minute), "sk1"), ErrExpired},
		{"wrong secret", signed(now, "sk2"), ErrSignatureMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.req)
			if err != tt.wantErr {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("uppercase signature", func(t *testing.T) {
		req := signed(now, "sk1")
		ak, sig, _ := strings.Cut(req.Header.Get(sdk.HeaderAuthorization), ":")
		req.Header.Set(sdk.HeaderAuthorization, ak+":"+strings.ToUpper(sig))
		if _, err := v.Verify(req); err != nil {
			t.Fatalf("signatures compare case-insensitively, got %v", err)
		}
	})

	t.Run("token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "http://gw/exec", nil)
		req.Header.Set(sdk.HeaderToken, "tok")
		id, err := v.Verify(req)
		if err != nil || id.Method != "token" {
			t.Fatalf("token auth failed: %+v %v", id, err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "http://gw/exec", nil)
		if _, err := v.Verify(req); err != ErrMissingAuth {
			t.Fatalf("expected ErrMissingAuth, got %v", err)
		}
	})
}

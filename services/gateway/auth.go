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
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ideal-world/dew-baas/services/sdk"
)

// Identity is the caller a request was authenticated as.
type Identity struct {
	// Key is the access key or token the request used. Empty for
	// anonymous requests.
	Key string

	// Method is "aksk", "token" or "anonymous".
	Method string
}

// Verifier authenticates /exec requests the way the dew gateway does.
//
// Description:
//
//	A non-empty Dew-Token authenticates by token. Otherwise the auth
//	header must carry ak:signature and Dew-Date must be present; the
//	request is rejected when Dew-Date plus DateOffset is before now. The
//	signature is recomputed over method, Dew-Date, path and the sorted raw
//	query and compared case-insensitively.
//
// Thread Safety: Safe for concurrent use after construction.
type Verifier struct {
	keys       map[string]string
	tokens     map[string]bool
	anonymous  bool
	dateOffset time.Duration
	now        func() time.Time
}

// Verify authenticates r.
func (v *Verifier) Verify(r *http.Request) (Identity, error) {
	if token := r.Header.Get(sdk.HeaderToken); token != "" {
		if v.tokens[token] {
			return Identity{Key: token, Method: "token"}, nil
		}
		if !v.anonymous {
			return Identity{}, ErrUnknownToken
		}
	}

	auth := r.Header.Get(sdk.HeaderAuthorization)
	if auth == "" {
		auth = r.Header.Get(sdk.HeaderAuthentication)
	}
	if auth == "" {
		if v.anonymous {
			return Identity{Method: "anonymous"}, nil
		}
		return Identity{}, ErrMissingAuth
	}

	ak, signature, ok := strings.Cut(auth, ":")
	if !ok || ak == "" || signature == "" {
		return Identity{}, ErrMalformedAuth
	}
	date := r.Header.Get(sdk.HeaderDate)
	if date == "" {
		return Identity{}, fmt.Errorf("%w: %s is missing", ErrMalformedAuth, sdk.HeaderDate)
	}
	sent, err := http.ParseTime(date)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s: %v", ErrMalformedAuth, sdk.HeaderDate, err)
	}
	if sent.Add(v.dateOffset).Before(v.now()) {
		return Identity{}, ErrExpired
	}

	sk, ok := v.keys[ak]
	if !ok {
		return Identity{}, ErrUnknownAK
	}
	want := sdk.Sign(sdk.CanonicalString(r.Method, date, r.URL.Path, r.URL.RawQuery), []byte(sk))
	if !strings.EqualFold(want, signature) {
		return Identity{}, ErrSignatureMismatch
	}
	return Identity{Key: ak, Method: "aksk"}, nil
}

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
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Header and query names of the gateway wire contract.
const (
	HeaderToken          = "Dew-Token"
	HeaderAppID          = "Dew-App-Id"
	HeaderDate           = "Dew-Date"
	HeaderAuthorization  = "Authorization"
	HeaderAuthentication = "Authentication"

	QueryResourceURI    = "Dew-Resource-Uri"
	QueryResourceAction = "Dew-Resource-Action"

	// ExecPath is the single gateway endpoint.
	ExecPath = "/exec"
)

// SortQuery sorts the raw key=value pairs of a query ascending and joins
// them with '&'. Pairs are compared as encoded text, not decoded.
func SortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// CanonicalString is the lower-cased text that gets signed:
// method, date, path and sorted query separated by newlines.
func CanonicalString(method, date, path, rawQuery string) string {
	return strings.ToLower(method + "\n" + date + "\n" + path + "\n" + SortQuery(rawQuery))
}

// Sign computes base64(hex(hmac-sha1(canonical, sk))).
func Sign(canonical string, sk []byte) string {
	mac := hmac.New(sha1.New, sk)
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac.Sum(nil))))
}

// FormatDate renders t the way Dew-Date is sent.
func FormatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// Signer adds Dew-Date and the signature header to outgoing requests.
type Signer struct {
	creds  *Credentials
	header string
	now    func() time.Time
}

// NewSigner creates a signer. header defaults to Authorization; now
// defaults to time.Now.
func NewSigner(creds *Credentials, header string, now func() time.Time) *Signer {
	if header == "" {
		header = HeaderAuthorization
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{creds: creds, header: header, now: now}
}

// Apply signs req in place. Without credentials neither the date nor the
// signature header is set.
func (s *Signer) Apply(req *http.Request) error {
	if !s.creds.Enabled() {
		return nil
	}

	date := FormatDate(s.now())
	canonical := CanonicalString(req.Method, date, req.URL.Path, req.URL.RawQuery)

	var signature string
	if err := s.creds.withSecret(func(sk []byte) error {
		signature = Sign(canonical, sk)
		return nil
	}); err != nil {
		return err
	}

	req.Header.Set(s.header, s.creds.AK()+":"+signature)
	req.Header.Set(HeaderDate, date)
	return nil
}

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

	"github.com/awnumar/memguard"
)

// Credentials is an ak/sk pair. The secret key is sealed in an encrypted
// enclave and only decrypted for the duration of a signature.
//
// Thread Safety: Safe for concurrent use.
type Credentials struct {
	ak string
	sk *memguard.Enclave
}

// NewCredentials seals sk. An empty ak or sk yields credentials that do
// not sign.
func NewCredentials(ak, sk string) *Credentials {
	c := &Credentials{ak: ak}
	if ak != "" && sk != "" {
		c.sk = memguard.NewEnclave([]byte(sk))
	}
	return c
}

// AK returns the access key.
func (c *Credentials) AK() string {
	if c == nil {
		return ""
	}
	return c.ak
}

// Enabled reports whether requests are signed with these credentials.
func (c *Credentials) Enabled() bool {
	return c != nil && c.ak != "" && c.sk != nil
}

// withSecret opens the enclave, passes the plaintext key to fn and wipes
// it afterwards. fn must not retain the slice.
func (c *Credentials) withSecret(fn func(sk []byte) error) error {
	if !c.Enabled() {
		return fmt.Errorf("credentials are not set")
	}
	buf, err := c.sk.Open()
	if err != nil {
		return fmt.Errorf("opening secret key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

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

import "errors"

// Envelope codes returned by the gateway. HTTP status is always 200 for
// requests that reached /exec; the outcome travels in the code.
const (
	CodeOK           = "200"
	CodeBadRequest   = "400"
	CodeUnauthorized = "401"
	CodeNotFound     = "404"
	CodeRateLimited  = "429"
	CodeInternal     = "500"
)

var (
	// ErrMissingAuth is returned for a request with neither a token nor a
	// signature.
	ErrMissingAuth = errors.New("authentication info is missing")

	// ErrUnknownToken is returned for a token the gateway does not know.
	ErrUnknownToken = errors.New("token is not valid")

	// ErrUnknownAK is returned for a signature by an unknown access key.
	ErrUnknownAK = errors.New("access key is not valid")

	// ErrMalformedAuth is returned when the auth header is not ak:signature
	// or Dew-Date does not parse.
	ErrMalformedAuth = errors.New("malformed authentication header")

	// ErrExpired is returned when Dew-Date is older than the allowed offset.
	ErrExpired = errors.New("request has expired")

	// ErrSignatureMismatch is returned when the recomputed signature differs.
	ErrSignatureMismatch = errors.New("signature does not match")

	// ErrNoHandler is returned when no task handler is registered for a code.
	ErrNoHandler = errors.New("no handler for task")
)

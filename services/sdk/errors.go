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
	"errors"
	"fmt"
)

var (
	// ErrNoServerURL is returned by NewClient without a server URL.
	ErrNoServerURL = errors.New("server url is not set")

	// ErrInvalidAction is returned for an unknown OptActionKind.
	ErrInvalidAction = errors.New("invalid resource action")

	// ErrInvalidResourceURI is returned for a resource URI without scheme or host.
	ErrInvalidResourceURI = errors.New("invalid resource uri")

	// ErrMalformedResponse is returned when the gateway reply is not a
	// {code, message, body} envelope.
	ErrMalformedResponse = errors.New("malformed gateway response")
)

// ApplicationError is a gateway reply whose code is not "200".
type ApplicationError struct {
	Code    string
	Message string
}

// Error renders the error as [code]message.
func (e *ApplicationError) Error() string {
	return "[" + e.Code + "]" + e.Message
}

// TransportError is a failure below the application envelope: the request
// could not be sent, the connection broke, or the HTTP status was not 2xx.
type TransportError struct {
	// Op names the failed step: "send", "read" or "status".
	Op string

	URL string

	// StatusCode is set for Op "status".
	StatusCode int

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dew request %s %s: http status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("dew request %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

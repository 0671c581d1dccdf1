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

import "regexp"

// redactionPattern pairs a compiled regex with a replacement label.
type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// redactionPatterns are applied in order. The aksk() call pattern must
// run before the bare signature pattern.
var redactionPatterns = []redactionPattern{
	// Generated SDK init code: aksk("<ak>", "<sk>")
	{
		Pattern:     regexp.MustCompile(`aksk\("[^"]*",\s*"[^"]*"\)`),
		Replacement: `aksk("[REDACTED]", "[REDACTED]")`,
	},
	// Signature header value: <ak>:<base64 of a 40-char hex digest>
	{
		Pattern:     regexp.MustCompile(`([A-Za-z0-9_.-]+):[A-Za-z0-9+/]{54}==`),
		Replacement: "${1}:[REDACTED:signature]",
	},
	// Dew-Token header in dumped requests
	{
		Pattern:     regexp.MustCompile(`(?i)(dew-token[:=]\s*)[^\s,;&]+`),
		Replacement: "${1}[REDACTED:token]",
	},
}

// SafeLogString removes credentials from s before it is logged.
//
// Description:
//
//	Matches generated SDK init calls, signature header values and
//	Dew-Token values. Pattern-based only: secrets in other shapes pass
//	through unchanged.
//
// Thread Safety: This function is safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"bytes"
	"strings"

	"github.com/ideal-world/dew-baas/services/action/bundle"
	"github.com/ideal-world/dew-baas/services/action/rewrite"
)

const nodeEnvRef = "process.env.NODE_ENV"

var (
	sdkLiteral = []byte(rewrite.JSString(rewrite.SDKModule))
	jvmLiteral = []byte(rewrite.JSString(bundle.JVMSDKModule))
	sdkRequire = []byte("require(" + rewrite.JSString(rewrite.SDKModule) + ")")
)

// SwapSDKImport points SDK requires at the bundle runtime variant when
// toJVM is set and the module requires the SDK, and back at the default
// variant otherwise.
func SwapSDKImport(content []byte, toJVM bool) []byte {
	if toJVM && bytes.Contains(content, sdkRequire) {
		return bytes.ReplaceAll(content, sdkLiteral, jvmLiteral)
	}
	return bytes.ReplaceAll(content, jvmLiteral, sdkLiteral)
}

// SubstituteNodeEnv replaces every process.env.NODE_ENV reference with
// the quoted value.
func SubstituteNodeEnv(content []byte, nodeEnv string) []byte {
	return bytes.ReplaceAll(content, []byte(nodeEnvRef), []byte(rewrite.JSString(nodeEnv)))
}

// DevPreamble is prepended to every module of a development build.
func DevPreamble(init bundle.SDKInit) string {
	return "\nconst sdk = require(" + rewrite.JSString(rewrite.SDKModule) + ");\n" +
		"exports.DewSDK = sdk.DewSDK;\n" +
		"sdk.initDefaultSDK(" + rewrite.JSString(init.ServerURL) + ", " + rewrite.JSString(init.AppID) + ");\n" +
		"sdk.DewSDK.setting.aksk(" + rewrite.JSString(init.AK) + ", " + rewrite.JSString(init.SK) + ");\n"
}

// HasDevPreamble reports whether content was already prepared by a
// development build.
func HasDevPreamble(content []byte) bool {
	trimmed := strings.TrimLeft(string(bytes.TrimPrefix(content, []byte("\ufeff"))), "\r\n")
	return strings.HasPrefix(trimmed, "const sdk = require("+rewrite.JSString(rewrite.SDKModule)+");\nexports.DewSDK = sdk.DewSDK;\n")
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rewrite

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ideal-world/dew-baas/services/action/ast"
)

// SDKModule is the default runtime SDK import path.
const SDKModule = "@idealworld/sdk"

// runtimeHeaderPrefix starts every proxy module and marks it as rewritten.
const runtimeHeaderPrefix = `const {DewSDK} = require("` + SDKModule + `");` + "\n"

// argumentsFallback forwards every argument when a parameter list cannot
// be expressed as plain names.
const argumentsFallback = "Array.prototype.slice.call(arguments)"

// RuntimeHeader returns the header prepended to every proxy module. It
// loads the SDK and points it at the gateway before any stub runs.
func RuntimeHeader(serverURL, appID string) string {
	return runtimeHeaderPrefix +
		"DewSDK.init(" + JSString(serverURL) + ", " + JSString(appID) + ");\n"
}

// IsProxy reports whether content already starts with the runtime header.
func IsProxy(content []byte) bool {
	return bytes.HasPrefix(bytes.TrimPrefix(content, []byte("\ufeff")), []byte(runtimeHeaderPrefix))
}

// TaskID returns the fully qualified task identifier of a function.
func TaskID(moduleName, function string) string {
	return moduleName + "." + function
}

// StubBody returns the replacement block for an exported function body.
func StubBody(moduleName, function string, params []ast.Param) string {
	return "{\n  return DewSDK.task.execute(" + JSString(TaskID(moduleName, function)) + ", " + stubArguments(params) + ");\n}"
}

// stubArguments renders the positional argument list of a stub. Defaults
// are forwarded by name and rest parameters are spread back in place.
func stubArguments(params []ast.Param) string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		switch p.Kind {
		case ast.ParamPattern:
			return argumentsFallback
		case ast.ParamRest:
			names = append(names, "..."+p.Name)
		default:
			names = append(names, p.Name)
		}
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// JSString renders s as a double-quoted JavaScript string literal.
func JSString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

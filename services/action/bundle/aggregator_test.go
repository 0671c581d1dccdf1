// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestModuleName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"todo.js", "todo"},
		{"api/user.js", "api_user"},
		{"my-action.v2.cjs", "my_action_v2"},
		{"2fa.js", "_2fa"},
		{"$store.mjs", "$store"},
		{"a/b/c_d.js", "a_b_c_d"},
	}
	for _, tt := range tests {
		if got := ModuleName(tt.path); got != tt.want {
			t.Errorf("ModuleName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRequirePath(t *testing.T) {
	if got := RequirePath("api/user.js"); got != "./api/user" {
		t.Errorf("RequirePath = %q, want ./api/user", got)
	}
	if got := RequirePath("todo.js"); got != "./todo" {
		t.Errorf("RequirePath = %q, want ./todo", got)
	}
}

func TestAggregator_AppendWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	agg := NewAggregator(dir, SDKInit{
		ServerURL: "http://gw.test",
		AppID:     "app1",
		AK:        "ak1",
		SK:        "sk1",
	}, nil)

	if _, err := agg.Append("todo.js"); err != nil {
		t.Fatalf("Append todo: %v", err)
	}
	if _, err := agg.Append("api/user.js"); err != nil {
		t.Fatalf("Append user: %v", err)
	}

	got, err := os.ReadFile(agg.Path())
	if err != nil {
		t.Fatalf("reading entry: %v", err)
	}

	want := `"use strict";
Object.defineProperty(exports, "__esModule", { value: true });
const sdk = require("@idealworld/sdk/dist/jvm");
exports.DewSDK = sdk.DewSDK;
sdk.initDefaultSDK("http://gw.test", "app1");
sdk.DewSDK.setting.aksk("ak1", "sk1");

const todo = require("./todo");
exports.todo = todo;
todo;

const api_user = require("./api/user");
exports.api_user = api_user;
api_user;
`
	if string(got) != want {
		t.Errorf("entry mismatch\n--- got ---\n%s\n--- want ---\n%s", got, want)
	}
	if strings.Count(string(got), "initDefaultSDK") != 1 {
		t.Error("SDK header written more than once")
	}

	mods := agg.Modules()
	if len(mods) != 2 || mods[0] != "todo" || mods[1] != "api_user" {
		t.Errorf("Modules() = %v", mods)
	}
}

func TestAggregator_Reserved(t *testing.T) {
	agg := NewAggregator(t.TempDir(), SDKInit{}, nil)
	_, err := agg.Append(JVMFileName)
	if !errors.Is(err, ErrReservedModule) {
		t.Fatalf("expected ErrReservedModule, got %v", err)
	}
}

func TestAggregator_Remove(t *testing.T) {
	dir := t.TempDir()
	agg := NewAggregator(dir, SDKInit{}, nil)

	if err := agg.Remove(); err != nil {
		t.Fatalf("Remove on missing file: %v", err)
	}
	if _, err := agg.Append("a.js"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := agg.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, JVMFileName)); !os.IsNotExist(err) {
		t.Errorf("entry still present: %v", err)
	}
}

func TestJVMHeader_EscapesValues(t *testing.T) {
	h := JVMHeader(SDKInit{ServerURL: `http://x/"q"`, AppID: "a", AK: "k", SK: `s\`})
	if !strings.Contains(h, `"http://x/\"q\""`) {
		t.Errorf("server url not escaped: %s", h)
	}
	if !strings.Contains(h, `"s\\"`) {
		t.Errorf("secret not escaped: %s", h)
	}
}

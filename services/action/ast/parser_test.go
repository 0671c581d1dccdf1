// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

const todoModule = `"use strict";
Object.defineProperty(exports, "__esModule", { value: true });
exports.addItem = exports.fetchItems = exports.db = void 0;
const sdk_1 = require("@idealworld/sdk");
exports.db = sdk_1.DewSDK.reldb.subject("todoDB");
// loads everything
async function fetchItems() {
    return exports.db.exec('select * from todos', []);
}
exports.fetchItems = fetchItems;
function addItem(content, done = false, ...tags) {
    return exports.db.exec('insert into todos(content) values (?)', [content]);
}
exports.addItem = addItem;
init();
`

func TestParser_Parse_EmptyFile(t *testing.T) {
	parser := NewParser()
	mod, err := parser.Parse(context.Background(), []byte(""), "empty.js")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod == nil {
		t.Fatal("expected module, got nil")
	}
	if len(mod.Statements) != 0 {
		t.Errorf("expected no statements, got %d", len(mod.Statements))
	}
	if mod.Hash == "" {
		t.Error("expected hash to be set")
	}
}

func TestParser_Parse_TopLevelShapes(t *testing.T) {
	parser := NewParser()
	content := []byte(todoModule)
	mod, err := parser.Parse(context.Background(), content, "todo.js")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []StatementKind{
		StatementExpression, // "use strict"
		StatementExpression, // defineProperty
		StatementExpression, // chain
		StatementOther,      // const sdk_1
		StatementExpression, // exports.db
		StatementComment,
		StatementFunction,
		StatementExpression,
		StatementFunction,
		StatementExpression,
		StatementExpression, // init()
	}
	if len(mod.Statements) != len(want) {
		t.Fatalf("expected %d statements, got %d", len(want), len(mod.Statements))
	}
	for i, kind := range want {
		if mod.Statements[i].Kind != kind {
			t.Errorf("statement %d: expected %s, got %s (%s)", i, kind, mod.Statements[i].Kind, mod.Statements[i].NodeType)
		}
	}

	if got := mod.Statements[0].Expression; got.Kind != ExprDirective || got.Directive != "use strict" {
		t.Errorf("expected use strict directive, got %+v", got)
	}
	if got := mod.Statements[1].Expression; got.Kind != ExprDefineProperty || got.FirstArgument != "exports" {
		t.Errorf("expected defineProperty(exports, ...), got %+v", got)
	}
	if got := mod.Statements[10].Expression; got.Kind != ExprCall || got.Callee != "init" {
		t.Errorf("expected call to init, got %+v", got)
	}
}

func TestParser_Parse_ExportChain(t *testing.T) {
	parser := NewParser()
	content := []byte(todoModule)
	mod, err := parser.Parse(context.Background(), content, "todo.js")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chain := mod.Statements[2].Expression
	if chain.Kind != ExprExportAssignment {
		t.Fatalf("expected export assignment, got %s", chain.Kind)
	}
	names := make([]string, 0, len(chain.Targets))
	for _, target := range chain.Targets {
		names = append(names, target.Name)
	}
	if strings.Join(names, ",") != "addItem,fetchItems,db" {
		t.Errorf("unexpected chain order: %v", names)
	}
	if seg := chain.Targets[2].Segment.Text(content); seg != "exports.db = " {
		t.Errorf("expected segment %q, got %q", "exports.db = ", seg)
	}
	if chain.ValueIdentifier != "" {
		t.Errorf("void 0 is not an identifier, got %q", chain.ValueIdentifier)
	}

	single := mod.Statements[7]
	if !single.IsExportOf("fetchItems") {
		t.Errorf("expected exports.fetchItems = fetchItems")
	}
	if single.IsExportOf("addItem") {
		t.Errorf("fetchItems export must not match addItem")
	}
}

func TestParser_Parse_FunctionDetails(t *testing.T) {
	parser := NewParser()
	content := []byte(todoModule)
	mod, err := parser.Parse(context.Background(), content, "todo.js")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetch := mod.Statements[6].Function
	if fetch == nil || fetch.Name != "fetchItems" || !fetch.Async {
		t.Fatalf("expected async fetchItems, got %+v", fetch)
	}
	if body := fetch.Body.Text(content); !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		t.Errorf("body span should cover braces, got %q", body)
	}

	add := mod.Statements[8].Function
	if add == nil || add.Name != "addItem" {
		t.Fatalf("expected addItem, got %+v", add)
	}
	wantParams := []struct {
		name string
		kind ParamKind
	}{
		{"content", ParamIdentifier},
		{"done", ParamDefault},
		{"tags", ParamRest},
	}
	if len(add.Params) != len(wantParams) {
		t.Fatalf("expected %d params, got %d", len(wantParams), len(add.Params))
	}
	for i, want := range wantParams {
		if add.Params[i].Name != want.name || add.Params[i].Kind != want.kind {
			t.Errorf("param %d: expected %s/%d, got %s/%d", i, want.name, want.kind, add.Params[i].Name, add.Params[i].Kind)
		}
	}
	if add.HasPatternParams() {
		t.Error("addItem has no destructuring parameters")
	}

	exported := mod.ExportedFunctionNames()
	if !exported["addItem"] || !exported["fetchItems"] || len(exported) != 2 {
		t.Errorf("unexpected exported set: %v", exported)
	}
}

func TestParser_Parse_PatternParams(t *testing.T) {
	parser := NewParser()
	mod, err := parser.Parse(context.Background(), []byte("function f({a, b}, [c]) { return a; }\n"), "p.js")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn := mod.Statements[0].Function
	if fn == nil || !fn.HasPatternParams() {
		t.Fatalf("expected pattern parameters, got %+v", fn)
	}
}

func TestParser_Parse_SyntaxError(t *testing.T) {
	parser := NewParser()
	_, err := parser.Parse(context.Background(), []byte("function broken( {\n  return 1;\n"), "broken.js")
	if err == nil {
		t.Fatal("expected syntax error")
	}
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("expected ErrSyntax, got %v", err)
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if perr.FilePath != "broken.js" || perr.Line < 1 {
		t.Errorf("unexpected location: %+v", perr)
	}
}

func TestParser_Parse_Limits(t *testing.T) {
	parser := NewParser(WithMaxFileSize(8))
	if _, err := parser.Parse(context.Background(), []byte("exports.a = 1;"), "big.js"); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}

	parser = NewParser()
	if _, err := parser.Parse(context.Background(), []byte{0xff, 0xfe}, "bad.js"); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("expected ErrInvalidContent, got %v", err)
	}
}

func TestParser_Parse_Canceled(t *testing.T) {
	parser := NewParser()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := parser.Parse(ctx, []byte("init();"), "c.js"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParser_Parse_Concurrent(t *testing.T) {
	parser := NewParser()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := parser.Parse(context.Background(), []byte(todoModule), "todo.js"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent parse failed: %v", err)
	}
}

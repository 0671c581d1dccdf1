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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "dew.action.ast"

// snippetLen bounds the source excerpt carried by a ParseError.
const snippetLen = 40

// Parser turns compiled CommonJS module text into top-level statements.
//
// Description:
//
//	Parser uses tree-sitter to parse JavaScript and exposes only the
//	program's direct children, each with its byte span and the shape
//	details the action rewriter needs: function names, parameters and body
//	spans, export assignment chains, Object.defineProperty calls and string
//	directives. Nested scopes are never inspected.
//
// Thread Safety:
//
//	Parser is safe for concurrent use. Each Parse call creates its own
//	tree-sitter parser instance.
//
// Example:
//
//	parser := NewParser()
//	mod, err := parser.Parse(ctx, content, "todo.js")
//	if err != nil {
//	    return fmt.Errorf("parse: %w", err)
//	}
//	for _, st := range mod.Statements {
//	    fmt.Println(st.Kind, st.Span)
//	}
type Parser struct {
	options ParserOptions
}

// ParserOptions configures Parser behavior.
type ParserOptions struct {
	// MaxFileSize is the maximum source size in bytes.
	// Larger inputs return ErrFileTooLarge.
	// Default: 10MB
	MaxFileSize int

	// Logger receives debug output. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultParserOptions returns the default options.
func DefaultParserOptions() ParserOptions {
	return ParserOptions{
		MaxFileSize: 10 * 1024 * 1024,
		Logger:      slog.Default(),
	}
}

// ParserOption is a functional option for configuring Parser.
type ParserOption func(*ParserOptions)

// WithMaxFileSize sets the maximum source size accepted by Parse.
func WithMaxFileSize(size int) ParserOption {
	return func(o *ParserOptions) {
		o.MaxFileSize = size
	}
}

// WithLogger sets the parser logger.
func WithLogger(logger *slog.Logger) ParserOption {
	return func(o *ParserOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...ParserOption) *Parser {
	options := DefaultParserOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Parser{options: options}
}

// Extensions returns the file extensions of compiled action modules.
func (p *Parser) Extensions() []string {
	return []string{".js", ".cjs", ".mjs"}
}

// Parse parses content and returns its top-level statements.
//
// Description:
//
//	Validates size and encoding, parses with tree-sitter and walks the
//	program node's named children in source order. Any syntax error in the
//	tree, including nodes tree-sitter had to insert, fails the parse.
//
// Inputs:
//
//	ctx      - Context for cancellation. Checked before and after parsing.
//	content  - Raw module bytes. Must be valid UTF-8.
//	filePath - Path used in errors and in the returned Module.
//
// Outputs:
//
//	*Module - The statements in source order. Never nil on success.
//	error   - *ParseError for invalid syntax, ErrFileTooLarge,
//	          ErrInvalidContent, or a context error.
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *Parser) Parse(ctx context.Context, content []byte, filePath string) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if len(content) > p.options.MaxFileSize {
		return nil, fmt.Errorf("%s: %w", filePath, ErrFileTooLarge)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%s: %w", filePath, ErrInvalidContent)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ast.Parse",
		trace.WithAttributes(
			attribute.String("file.path", filePath),
			attribute.Int("file.bytes", len(content)),
		),
	)
	defer span.End()

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tree-sitter parse failed")
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root.HasError() {
		perr := syntaxError(root, content, filePath)
		span.RecordError(perr)
		span.SetStatus(codes.Error, "syntax error")
		return nil, perr
	}

	hash := sha256.Sum256(content)
	mod := &Module{
		FilePath:      filePath,
		Hash:          hex.EncodeToString(hash[:]),
		Statements:    make([]Statement, 0, int(root.NamedChildCount())),
		ParsedAtMilli: time.Now().UnixMilli(),
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child == nil {
			continue
		}
		mod.Statements = append(mod.Statements, p.statement(child, content))
	}

	span.SetAttributes(attribute.Int("statements", len(mod.Statements)))
	p.options.Logger.Debug("module parsed",
		slog.String("file", filePath),
		slog.Int("statements", len(mod.Statements)),
	)

	return mod, nil
}

// Valid reports whether content parses without syntax errors.
func (p *Parser) Valid(ctx context.Context, content []byte) bool {
	_, err := p.Parse(ctx, content, "<verify>")
	return err == nil
}

// statement converts one program child.
func (p *Parser) statement(node *sitter.Node, content []byte) Statement {
	st := Statement{
		Kind:      StatementOther,
		NodeType:  node.Type(),
		Span:      nodeSpan(node),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}

	switch node.Type() {
	case jsNodeComment:
		st.Kind = StatementComment
	case jsNodeFunctionDeclaration, jsNodeGeneratorFunctionDecl:
		if fn := p.function(node, content); fn != nil {
			st.Kind = StatementFunction
			st.Function = fn
		}
	case jsNodeExpressionStatement:
		st.Kind = StatementExpression
		st.Expression = p.expression(node, content)
	}

	return st
}

// function extracts name, parameters and body span from a declaration.
func (p *Parser) function(node *sitter.Node, content []byte) *FunctionDecl {
	nameNode := node.ChildByFieldName("name")
	bodyNode := node.ChildByFieldName("body")
	if nameNode == nil || bodyNode == nil {
		return nil
	}

	fn := &FunctionDecl{
		Name:      nodeText(nameNode, content),
		Generator: node.Type() == jsNodeGeneratorFunctionDecl,
		Body:      nodeSpan(bodyNode),
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case jsNodeAsync:
			fn.Async = true
		case "*":
			fn.Generator = true
		}
	}

	if params := node.ChildByFieldName("parameters"); params != nil {
		fn.Params = p.parameters(params, content)
	}

	return fn
}

// parameters extracts formal parameters in declaration order.
func (p *Parser) parameters(node *sitter.Node, content []byte) []Param {
	var params []Param

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		param := Param{Span: nodeSpan(child)}

		switch child.Type() {
		case jsNodeComment:
			continue
		case jsNodeIdentifier:
			param.Kind = ParamIdentifier
			param.Name = nodeText(child, content)
		case jsNodeAssignmentPattern, jsNodeAssignmentExpression:
			// a = defaultValue
			left := child.ChildByFieldName("left")
			if left != nil && left.Type() == jsNodeIdentifier {
				param.Kind = ParamDefault
				param.Name = nodeText(left, content)
			} else {
				param.Kind = ParamPattern
			}
		case jsNodeRestPattern:
			// ...args
			param.Kind = ParamPattern
			for j := 0; j < int(child.NamedChildCount()); j++ {
				gc := child.NamedChild(j)
				if gc.Type() == jsNodeIdentifier {
					param.Kind = ParamRest
					param.Name = nodeText(gc, content)
					break
				}
			}
		default:
			// object_pattern, array_pattern
			param.Kind = ParamPattern
		}

		params = append(params, param)
	}

	return params
}

// expression builds the structured view of an expression statement.
func (p *Parser) expression(node *sitter.Node, content []byte) *Expression {
	expr := &Expression{Kind: ExprOther}

	var inner *sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != jsNodeComment {
			inner = child
			break
		}
	}
	if inner == nil {
		return expr
	}

	switch inner.Type() {
	case jsNodeString:
		expr.Kind = ExprDirective
		expr.Directive = unquote(nodeText(inner, content))

	case jsNodeAssignmentExpression:
		p.exportChain(inner, content, expr)

	case jsNodeCallExpression:
		callee := inner.ChildByFieldName("function")
		if callee != nil {
			expr.Callee = nodeText(callee, content)
		}
		if args := inner.ChildByFieldName("arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				arg := args.NamedChild(i)
				if arg.Type() != jsNodeComment {
					expr.FirstArgument = nodeText(arg, content)
					break
				}
			}
		}
		if isMember(callee, content, "Object", "defineProperty") {
			expr.Kind = ExprDefineProperty
		} else {
			expr.Kind = ExprCall
		}
	}

	return expr
}

// exportChain follows `exports.a = exports.b = value` from the outermost
// assignment inwards. The chain ends at the first link whose left side is
// not a property of exports.
func (p *Parser) exportChain(node *sitter.Node, content []byte, expr *Expression) {
	cur := node
	for cur != nil && cur.Type() == jsNodeAssignmentExpression {
		left := cur.ChildByFieldName("left")
		right := cur.ChildByFieldName("right")
		if left == nil || right == nil {
			break
		}
		name, ok := exportsProperty(left, content)
		if !ok {
			break
		}
		expr.Targets = append(expr.Targets, ExportTarget{
			Name:    name,
			Segment: Span{Start: int(left.StartByte()), End: int(right.StartByte())},
		})
		cur = right
	}

	if len(expr.Targets) == 0 {
		return
	}
	expr.Kind = ExprExportAssignment
	if cur != nil && cur.Type() == jsNodeIdentifier {
		expr.ValueIdentifier = nodeText(cur, content)
	}
}

// exportsProperty returns X for a member expression `exports.X`.
func exportsProperty(node *sitter.Node, content []byte) (string, bool) {
	if node == nil || node.Type() != jsNodeMemberExpression {
		return "", false
	}
	object := node.ChildByFieldName("object")
	property := node.ChildByFieldName("property")
	if object == nil || property == nil {
		return "", false
	}
	if object.Type() != jsNodeIdentifier || nodeText(object, content) != "exports" {
		return "", false
	}
	if property.Type() != jsNodePropertyIdentifier {
		return "", false
	}
	return nodeText(property, content), true
}

// isMember reports whether node is the member expression object.property.
func isMember(node *sitter.Node, content []byte, object, property string) bool {
	if node == nil || node.Type() != jsNodeMemberExpression {
		return false
	}
	obj := node.ChildByFieldName("object")
	prop := node.ChildByFieldName("property")
	if obj == nil || prop == nil {
		return false
	}
	return obj.Type() == jsNodeIdentifier && nodeText(obj, content) == object &&
		nodeText(prop, content) == property
}

// syntaxError locates the first error or missing node under root.
func syntaxError(root *sitter.Node, content []byte, filePath string) *ParseError {
	node := firstErrorNode(root)
	if node == nil {
		node = root
	}
	start := int(node.StartByte())
	end := start + snippetLen
	if end > len(content) {
		end = len(content)
	}
	snippet := string(content[start:end])
	if idx := strings.IndexByte(snippet, '\n'); idx >= 0 {
		snippet = snippet[:idx]
	}
	return &ParseError{
		FilePath: filePath,
		Line:     int(node.StartPoint().Row) + 1,
		Column:   int(node.StartPoint().Column),
		Snippet:  snippet,
	}
}

// firstErrorNode returns the first ERROR or missing node in document order.
func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.Type() == jsNodeError || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return node
}

func nodeSpan(node *sitter.Node) Span {
	return Span{Start: int(node.StartByte()), End: int(node.EndByte())}
}

func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}

// unquote strips the surrounding quote characters of a string literal.
func unquote(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}

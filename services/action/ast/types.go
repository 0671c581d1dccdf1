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

// tree-sitter-javascript node types used by the adapter.
const (
	jsNodeComment               = "comment"
	jsNodeFunctionDeclaration   = "function_declaration"
	jsNodeGeneratorFunctionDecl = "generator_function_declaration"
	jsNodeExpressionStatement   = "expression_statement"
	jsNodeAssignmentExpression  = "assignment_expression"
	jsNodeAssignmentPattern     = "assignment_pattern"
	jsNodeCallExpression        = "call_expression"
	jsNodeMemberExpression      = "member_expression"
	jsNodeIdentifier            = "identifier"
	jsNodePropertyIdentifier    = "property_identifier"
	jsNodeString                = "string"
	jsNodeRestPattern           = "rest_pattern"
	jsNodeAsync                 = "async"
	jsNodeError                 = "ERROR"
)

// Span is a half-open byte range [Start, End) into the parsed source.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Text returns the bytes of content covered by the span.
func (s Span) Text(content []byte) string {
	return string(content[s.Start:s.End])
}

// StatementKind classifies a top-level statement by shape.
type StatementKind int

const (
	// StatementOther covers declarations, imports, classes and anything
	// that is neither a function declaration nor an expression statement.
	StatementOther StatementKind = iota

	// StatementFunction is a (possibly async or generator) function declaration.
	StatementFunction

	// StatementExpression is an expression statement.
	StatementExpression

	// StatementComment is a top-level line or block comment.
	StatementComment
)

// String returns a label-safe name for the kind.
func (k StatementKind) String() string {
	switch k {
	case StatementFunction:
		return "function"
	case StatementExpression:
		return "expression"
	case StatementComment:
		return "comment"
	default:
		return "other"
	}
}

// ParamKind describes how a formal parameter is declared.
type ParamKind int

const (
	ParamIdentifier ParamKind = iota // a
	ParamDefault                     // a = 1
	ParamRest                        // ...a
	ParamPattern                     // {a, b} or [a, b]
)

// Param is one formal parameter of a function declaration.
type Param struct {
	// Name is the bound identifier. Empty for ParamPattern.
	Name string

	// Kind is the declaration form.
	Kind ParamKind

	// Span covers the full parameter text including defaults.
	Span Span
}

// FunctionDecl is the sub-structure of a StatementFunction.
type FunctionDecl struct {
	Name      string
	Async     bool
	Generator bool
	Params    []Param

	// Body is the span of the statement block, braces included.
	Body Span
}

// HasPatternParams reports whether any parameter is a destructuring pattern.
func (f *FunctionDecl) HasPatternParams() bool {
	for _, p := range f.Params {
		if p.Kind == ParamPattern {
			return true
		}
	}
	return false
}

// ExpressionKind classifies the expression carried by a StatementExpression.
type ExpressionKind int

const (
	// ExprOther is any expression without a dedicated shape.
	ExprOther ExpressionKind = iota

	// ExprExportAssignment is `exports.X = <expr>`, possibly chained as
	// `exports.a = exports.b = void 0`.
	ExprExportAssignment

	// ExprDefineProperty is `Object.defineProperty(<target>, ...)`.
	ExprDefineProperty

	// ExprDirective is a bare string literal such as "use strict".
	ExprDirective

	// ExprCall is any other call expression whose result is discarded.
	ExprCall
)

// String returns a label-safe name for the kind.
func (k ExpressionKind) String() string {
	switch k {
	case ExprExportAssignment:
		return "export_assignment"
	case ExprDefineProperty:
		return "define_property"
	case ExprDirective:
		return "directive"
	case ExprCall:
		return "call"
	default:
		return "other"
	}
}

// ExportTarget is one `exports.<Name> = ` link of an assignment chain.
type ExportTarget struct {
	// Name is the property assigned on exports.
	Name string

	// Segment spans `exports.<Name> = ` up to the start of the assigned
	// value, so removing it leaves the rest of the chain intact.
	Segment Span
}

// Expression is the structured view of an expression statement.
type Expression struct {
	Kind ExpressionKind

	// Targets lists the export chain outermost first. Only set for
	// ExprExportAssignment.
	Targets []ExportTarget

	// ValueIdentifier is the identifier assigned at the end of an export
	// chain, empty when the value is not a plain identifier.
	ValueIdentifier string

	// Callee is the callee text for ExprCall and ExprDefineProperty.
	Callee string

	// FirstArgument is the text of the first call argument, if any.
	FirstArgument string

	// Directive is the unquoted value of an ExprDirective.
	Directive string
}

// Statement is one child of the program node.
type Statement struct {
	Kind StatementKind

	// NodeType is the raw tree-sitter node type.
	NodeType string

	// Span covers the statement including its terminating semicolon.
	Span Span

	// StartLine and EndLine are 1-based.
	StartLine int
	EndLine   int

	// Function is set for StatementFunction.
	Function *FunctionDecl

	// Expression is set for StatementExpression.
	Expression *Expression
}

// IsExportOf reports whether the statement is `exports.name = name`.
func (s *Statement) IsExportOf(name string) bool {
	if s.Expression == nil || s.Expression.Kind != ExprExportAssignment {
		return false
	}
	if s.Expression.ValueIdentifier != name {
		return false
	}
	for _, t := range s.Expression.Targets {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Module is the parsed top level of one source file.
type Module struct {
	// FilePath is the path passed to Parse.
	FilePath string

	// Hash is the hex SHA256 of the parsed content.
	Hash string

	// Statements are the program children in source order.
	Statements []Statement

	// ParsedAtMilli is the parse time in Unix milliseconds UTC.
	ParsedAtMilli int64
}

// FunctionNames returns the names of all top-level function declarations.
func (m *Module) FunctionNames() map[string]bool {
	names := make(map[string]bool)
	for i := range m.Statements {
		if fn := m.Statements[i].Function; fn != nil && fn.Name != "" {
			names[fn.Name] = true
		}
	}
	return names
}

// ExportedFunctionNames returns the declared functions that also appear
// in an `exports.F = F` assignment.
func (m *Module) ExportedFunctionNames() map[string]bool {
	declared := m.FunctionNames()
	exported := make(map[string]bool)
	for i := range m.Statements {
		st := &m.Statements[i]
		if st.Expression == nil || st.Expression.Kind != ExprExportAssignment {
			continue
		}
		name := st.Expression.ValueIdentifier
		if declared[name] && st.IsExportOf(name) {
			exported[name] = true
		}
	}
	return exported
}

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
	"github.com/ideal-world/dew-baas/services/action/ast"
)

// Action is the disposition of one top-level statement.
type Action int

const (
	// Keep leaves the statement untouched.
	Keep Action = iota

	// RewriteToStub replaces the function body with a remote-call stub.
	RewriteToStub

	// Delete removes the statement.
	Delete

	// DeleteAndRecordCleanup removes an export assignment and records its
	// `exports.<name> = ` fragment for removal from earlier chains.
	DeleteAndRecordCleanup
)

// String returns a label-safe name for the action.
func (a Action) String() string {
	switch a {
	case Keep:
		return "keep"
	case RewriteToStub:
		return "stub"
	case Delete:
		return "delete"
	case DeleteAndRecordCleanup:
		return "delete_cleanup"
	default:
		return "unknown"
	}
}

// Decision is the classifier output for one statement.
type Decision struct {
	Action Action

	// Index is the statement index in the parsed module.
	Index int

	// Function is the declared function name for RewriteToStub and for
	// deleted private functions.
	Function string

	// Params are the stub parameters for RewriteToStub.
	Params []ast.Param

	// Exported are the export names whose fragments must be recorded for
	// DeleteAndRecordCleanup.
	Exported []string

	// Reason is a short label used in logs and --explain output.
	Reason string
}

// Classification is the result of classifying one module.
type Classification struct {
	Decisions []Decision

	// Declared holds every top-level function name.
	Declared map[string]bool

	// Exported holds the declared functions with an `exports.F = F` assignment.
	Exported map[string]bool
}

// Count returns how many decisions have the given action.
func (c *Classification) Count(action Action) int {
	n := 0
	for _, d := range c.Decisions {
		if d.Action == action {
			n++
		}
	}
	return n
}

// Classify decides the disposition of every top-level statement of mod.
//
// Description:
//
//	Runs in two passes. The first pass collects declared function names and
//	the functions exported through `exports.F = F`. The second pass
//	classifies each statement against those sets:
//
//	  function F                      -> RewriteToStub if F is exported, else Delete
//	  exports.X = ...                 -> Keep if function X is declared and
//	                                     exported, else DeleteAndRecordCleanup
//	  Object.defineProperty(exports,) -> Keep
//	  "use strict"                    -> Keep
//	  comment                         -> Keep, unless attached to a deleted statement
//	  anything else                   -> Delete
//
// Inputs:
//
//	mod - The parsed module. Must not be nil.
//
// Outputs:
//
//	*Classification - One decision per statement, in source order.
//
// Thread Safety: Pure function, safe for concurrent use.
func Classify(mod *ast.Module) *Classification {
	c := &Classification{
		Decisions: make([]Decision, len(mod.Statements)),
		Declared:  mod.FunctionNames(),
		Exported:  mod.ExportedFunctionNames(),
	}

	for i := range mod.Statements {
		c.Decisions[i] = c.classify(i, &mod.Statements[i])
	}

	attachComments(mod, c.Decisions)
	return c
}

func (c *Classification) classify(index int, st *ast.Statement) Decision {
	d := Decision{Index: index}

	switch st.Kind {
	case ast.StatementFunction:
		d.Function = st.Function.Name
		if c.Exported[st.Function.Name] {
			d.Action = RewriteToStub
			d.Params = st.Function.Params
			d.Reason = "exported function"
		} else {
			d.Action = Delete
			d.Reason = "private function"
		}

	case ast.StatementExpression:
		c.classifyExpression(st.Expression, &d)

	case ast.StatementComment:
		d.Action = Keep
		d.Reason = "comment"

	default:
		d.Action = Delete
		d.Reason = "top-level " + st.NodeType
	}

	return d
}

func (c *Classification) classifyExpression(expr *ast.Expression, d *Decision) {
	switch expr.Kind {
	case ast.ExprExportAssignment:
		for _, target := range expr.Targets {
			if c.Exported[target.Name] {
				d.Action = Keep
				d.Reason = "export of declared function"
				return
			}
		}
		d.Action = DeleteAndRecordCleanup
		d.Reason = "export of non-function value"
		if c.Declared[expr.Targets[0].Name] {
			d.Reason = "export of private function"
		}
		for _, target := range expr.Targets {
			d.Exported = append(d.Exported, target.Name)
		}

	case ast.ExprDefineProperty:
		if expr.FirstArgument == "exports" {
			d.Action = Keep
			d.Reason = "module interop marker"
			return
		}
		d.Action = Delete
		d.Reason = "defineProperty on non-exports target"

	case ast.ExprDirective:
		if expr.Directive == "use strict" {
			d.Action = Keep
			d.Reason = "use strict"
			return
		}
		d.Action = Delete
		d.Reason = "directive"

	default:
		d.Action = Delete
		d.Reason = "top-level " + expr.Kind.String()
	}
}

// attachComments deletes comments that belong to a deleted statement: the
// run of comments directly above it with no blank line in between, and a
// comment trailing on its last line.
func attachComments(mod *ast.Module, decisions []Decision) {
	for i := range mod.Statements {
		st := &mod.Statements[i]
		if st.Kind == ast.StatementComment || !deleted(decisions[i].Action) {
			continue
		}

		next := st.StartLine
		for j := i - 1; j >= 0; j-- {
			prev := &mod.Statements[j]
			if prev.Kind != ast.StatementComment || prev.EndLine+1 < next {
				break
			}
			if j > 0 && mod.Statements[j-1].EndLine == prev.StartLine {
				// trailing comment of the statement above
				break
			}
			decisions[j].Action = Delete
			decisions[j].Reason = "comment of deleted statement"
			next = prev.StartLine
		}

		if i+1 < len(mod.Statements) {
			after := &mod.Statements[i+1]
			if after.Kind == ast.StatementComment && after.StartLine == st.EndLine {
				decisions[i+1].Action = Delete
				decisions[i+1].Reason = "trailing comment of deleted statement"
			}
		}
	}
}

func deleted(a Action) bool {
	return a == Delete || a == DeleteAndRecordCleanup
}

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
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ideal-world/dew-baas/services/action/ast"
)

const tracerName = "dew.action.rewrite"

// Options configures a Rewriter.
type Options struct {
	// ServerURL is written into the runtime header.
	ServerURL string

	// AppID is written into the runtime header.
	AppID string

	// VerifyOutput re-parses every rewritten module. Default: true.
	VerifyOutput bool

	// Logger receives per-module diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Option is a functional option for configuring Rewriter.
type Option func(*Options)

// WithGateway sets the server URL and app id of the runtime header.
func WithGateway(serverURL, appID string) Option {
	return func(o *Options) {
		o.ServerURL = serverURL
		o.AppID = appID
	}
}

// WithVerifyOutput toggles the post-rewrite parse check.
func WithVerifyOutput(verify bool) Option {
	return func(o *Options) {
		o.VerifyOutput = verify
	}
}

// WithLogger sets the rewriter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Result describes the rewrite of one module.
type Result struct {
	// Module is the module name used for task ids.
	Module string `json:"module"`

	// Content is the proxy source, runtime header included.
	Content []byte `json:"-"`

	// Skipped is true when the input was already a proxy module and was
	// returned unchanged.
	Skipped bool `json:"skipped"`

	// Stubs are the task ids of the rewritten functions, in source order.
	Stubs []string `json:"stubs,omitempty"`

	// DeletedFunctions are the private functions that were removed.
	DeletedFunctions []string `json:"deleted_functions,omitempty"`

	// Deleted is the number of statements removed.
	Deleted int `json:"deleted"`

	// Kept is the number of statements left as-is.
	Kept int `json:"kept"`

	// Cleaned are the chain fragments removed from kept export statements.
	Cleaned []string `json:"cleaned,omitempty"`
}

// Rewriter turns a compiled action module into its production proxy.
//
// Description:
//
//	Rewrite parses the module once, classifies every top-level statement,
//	collects all edits against the original buffer and applies them in
//	descending offset order. Exported functions keep their signature and
//	get a body that forwards to DewSDK.task.execute; everything the
//	deployed artifact does not need is removed. The result is prefixed
//	with the runtime header.
//
// Thread Safety:
//
//	Safe for concurrent use. Per-build state lives in the RunContext
//	passed to each call.
type Rewriter struct {
	parser  *ast.Parser
	options Options
}

// NewRewriter creates a Rewriter that parses with parser.
func NewRewriter(parser *ast.Parser, opts ...Option) *Rewriter {
	options := Options{
		VerifyOutput: true,
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if parser == nil {
		parser = ast.NewParser(ast.WithLogger(options.Logger))
	}
	return &Rewriter{parser: parser, options: options}
}

// Rewrite produces the proxy form of one module.
//
// Description:
//
//	An input that already starts with the runtime header is returned
//	unchanged with Skipped set, so re-running a build over a directory
//	that was already rewritten is a no-op rather than a double wrap.
//
// Inputs:
//
//	ctx        - Context for cancellation and tracing.
//	run        - Per-build context collecting cleanup fragments. Must not be nil.
//	moduleName - Identifier-safe module name used in task ids.
//	content    - The compiled module source.
//
// Outputs:
//
//	*Result - The proxy source and a summary of the decisions taken.
//	error   - *ast.ParseError for invalid input, ErrOverlappingEdits, or
//	          ErrCorruptOutput when verification is on and the output
//	          does not parse.
func (r *Rewriter) Rewrite(ctx context.Context, run *RunContext, moduleName string, content []byte) (*Result, error) {
	if moduleName == "" {
		return nil, ErrEmptyModuleName
	}
	if run == nil {
		return nil, fmt.Errorf("run context must not be nil")
	}

	if IsProxy(content) {
		recordModule("skipped")
		r.options.Logger.Debug("module already rewritten", slog.String("module", moduleName))
		return &Result{Module: moduleName, Content: content, Skipped: true}, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rewrite.Module",
		trace.WithAttributes(attribute.String("module", moduleName)),
	)
	defer span.End()
	start := time.Now()

	mod, err := r.parser.Parse(ctx, content, moduleName)
	if err != nil {
		recordModule("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("parsing module %s: %w", moduleName, err)
	}

	class := Classify(mod)
	for _, d := range class.Decisions {
		for _, name := range d.Exported {
			run.Record(moduleName, name)
		}
	}

	result := &Result{Module: moduleName}
	edits := r.plan(mod, class, run, moduleName, content, result)

	body, err := ApplyEdits(content, edits)
	if err != nil {
		recordModule("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply edits failed")
		return nil, fmt.Errorf("rewriting module %s: %w", moduleName, err)
	}

	out := make([]byte, 0, len(body)+128)
	out = append(out, RuntimeHeader(r.options.ServerURL, r.options.AppID)...)
	out = append(out, body...)
	result.Content = out

	if r.options.VerifyOutput {
		if _, err := r.parser.Parse(ctx, out, moduleName); err != nil {
			recordModule("error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "output verification failed")
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptOutput, moduleName, err)
		}
	}

	for _, d := range class.Decisions {
		recordDecision(d.Action)
	}
	recordModule("rewritten")
	rewriteDuration.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("stubs", len(result.Stubs)),
		attribute.Int("deleted", result.Deleted),
	)
	r.options.Logger.Info("module rewritten",
		slog.String("module", moduleName),
		slog.Int("stubs", len(result.Stubs)),
		slog.Int("deleted", result.Deleted),
		slog.Int("kept", result.Kept),
		slog.Int("cleaned", len(result.Cleaned)),
	)

	return result, nil
}

// plan turns decisions into edits against the original buffer.
func (r *Rewriter) plan(mod *ast.Module, class *Classification, run *RunContext, moduleName string, content []byte, result *Result) []Edit {
	edits := make([]Edit, 0, len(class.Decisions))

	for i, d := range class.Decisions {
		st := &mod.Statements[i]

		switch d.Action {
		case RewriteToStub:
			result.Stubs = append(result.Stubs, TaskID(moduleName, d.Function))
			edits = append(edits, Edit{
				Span:        st.Function.Body,
				Replacement: StubBody(moduleName, d.Function, d.Params),
			})

		case Delete, DeleteAndRecordCleanup:
			result.Deleted++
			if st.Kind == ast.StatementFunction {
				result.DeletedFunctions = append(result.DeletedFunctions, d.Function)
			}
			span := deletionSpan(content, st.Span)
			if st.Kind == ast.StatementComment && i > 0 && mod.Statements[i-1].EndLine == st.StartLine {
				span = trailingCommentSpan(content, st.Span, mod.Statements[i-1].Span.End)
			}
			edits = append(edits, Edit{Span: span})

		case Keep:
			result.Kept++
			edits = append(edits, r.chainCleanup(st, class, run, moduleName, result)...)
		}
	}

	return edits
}

// chainCleanup removes links of a kept export chain that point at values
// the proxy no longer defines: exports deleted elsewhere in the module and
// private functions.
func (r *Rewriter) chainCleanup(st *ast.Statement, class *Classification, run *RunContext, moduleName string, result *Result) []Edit {
	if st.Expression == nil || st.Expression.Kind != ast.ExprExportAssignment {
		return nil
	}

	var edits []Edit
	for _, target := range st.Expression.Targets {
		if class.Exported[target.Name] {
			continue
		}
		private := class.Declared[target.Name]
		if !private && !run.Has(moduleName, target.Name) {
			continue
		}
		if private {
			run.Record(moduleName, target.Name)
		}
		result.Cleaned = append(result.Cleaned, cleanupFragment(target.Name))
		edits = append(edits, Edit{Span: target.Segment})
	}
	return edits
}

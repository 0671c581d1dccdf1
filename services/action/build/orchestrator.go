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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ideal-world/dew-baas/services/action/ast"
	"github.com/ideal-world/dew-baas/services/action/bundle"
	"github.com/ideal-world/dew-baas/services/action/rewrite"
	"github.com/ideal-world/dew-baas/services/sdk"
)

const tracerName = "dew.action.build"

// Target selects the build flavor.
type Target string

const (
	// TargetDev prepares modules in place for local execution.
	TargetDev Target = "dev"

	// TargetProd bundles, ships and rewrites modules into proxies.
	TargetProd Target = "prod"
)

// Journal statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// Request describes one build.
type Request struct {
	// BaseDir holds the compiled action modules.
	BaseDir string

	// Env is the environment name, recorded in the journal.
	Env string

	// Prod selects TargetProd.
	Prod bool

	// NodeEnv replaces process.env.NODE_ENV. Defaults to "production" for
	// production builds and "development" otherwise.
	NodeEnv string

	// Destination overrides task upload with a file path or gs:// URL.
	Destination string

	// SDK is written into the generated initialization code and the
	// runtime header of rewritten modules.
	SDK bundle.SDKInit
}

// Target returns the build target of the request.
func (r Request) Target() Target {
	if r.Prod {
		return TargetProd
	}
	return TargetDev
}

func (r Request) nodeEnv() string {
	if r.NodeEnv != "" {
		return r.NodeEnv
	}
	if r.Prod {
		return "production"
	}
	return "development"
}

// Result is the outcome of a build. It is returned alongside a build
// error too, holding whatever was completed.
type Result struct {
	BuildID  string
	Target   Target
	BaseDir  string
	Files    []FileResult
	Artifact *bundle.Artifact

	// Location is where the artifact went: a task URI, a file path or a
	// gs:// URL.
	Location string

	Duration time.Duration
}

// Stubs returns the total number of rewritten functions.
func (r *Result) Stubs() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Stubs)
	}
	return n
}

// TaskShipper uploads the minified artifact as the app's task code.
type TaskShipper interface {
	InitTasks(ctx context.Context, code []byte) error
}

// SinkOpener resolves a destination to a sink and object name.
type SinkOpener func(ctx context.Context, dest string) (bundle.Sink, string, error)

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Parser   *ast.Parser
	Bundler  bundle.Bundler
	Minifier bundle.Minifier

	// Shipper uploads artifacts when the request has no Destination.
	Shipper TaskShipper

	// OpenSink resolves request destinations. Default: bundle.OpenDestination.
	OpenSink SinkOpener

	// Journal records every build when set.
	Journal *Journal

	// PreflightWorkers bounds concurrent preflight parses. Default: 8.
	PreflightWorkers int

	Logger *slog.Logger
}

// OrchestratorOption is a functional option for configuring Orchestrator.
type OrchestratorOption func(*OrchestratorOptions)

// WithParser sets the module parser.
func WithParser(p *ast.Parser) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Parser = p }
}

// WithBundler sets the bundler.
func WithBundler(b bundle.Bundler) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Bundler = b }
}

// WithMinifier sets the minifier.
func WithMinifier(m bundle.Minifier) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Minifier = m }
}

// WithShipper sets the task shipper.
func WithShipper(s TaskShipper) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Shipper = s }
}

// WithSinkOpener sets the destination resolver.
func WithSinkOpener(open SinkOpener) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.OpenSink = open }
}

// WithJournal enables build journaling.
func WithJournal(j *Journal) OrchestratorOption {
	return func(o *OrchestratorOptions) { o.Journal = j }
}

// WithPreflightWorkers bounds concurrent preflight parses.
func WithPreflightWorkers(n int) OrchestratorOption {
	return func(o *OrchestratorOptions) {
		if n > 0 {
			o.PreflightWorkers = n
		}
	}
}

// WithBuildLogger sets the orchestrator logger.
func WithBuildLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *OrchestratorOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Orchestrator runs development and production builds over a base path.
//
// Description:
//
//	A development build prepends SDK initialization to every module so it
//	runs locally against the gateway. A production build runs in order:
//
//	  1. aggregate every module into JVM.js
//	  2. point SDK requires at the bundle runtime, substitute NODE_ENV
//	  3. bundle JVM.js
//	  4. minify
//	  5. ship the artifact
//	  6. remove JVM.js
//	  7. rewrite every module into its proxy
//
//	Every module is parsed before step 1, so invalid input never touches
//	the tree. A tree that already holds proxies is refused: its real
//	sources must be rebuilt first. A failure in steps 1-4 restores the modules and removes
//	JVM.js. A failure from step 5 on returns *PartialBuildError.
//
// Thread Safety:
//
//	Safe for concurrent use on different base paths. Builds on the same
//	path are excluded by a lock file; the second one fails with
//	ErrBuildLocked.
type Orchestrator struct {
	options OrchestratorOptions
}

// NewOrchestrator creates an orchestrator. Bundling and minification
// default to esbuild.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	options := OrchestratorOptions{
		PreflightWorkers: 8,
		Logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	if options.Parser == nil {
		options.Parser = ast.NewParser(ast.WithLogger(options.Logger))
	}
	if options.Bundler == nil || options.Minifier == nil {
		esb := bundle.NewESBuild(bundle.WithBundleLogger(options.Logger))
		if options.Bundler == nil {
			options.Bundler = esb
		}
		if options.Minifier == nil {
			options.Minifier = esb
		}
	}
	if options.OpenSink == nil {
		options.OpenSink = func(ctx context.Context, dest string) (bundle.Sink, string, error) {
			return bundle.OpenDestination(ctx, dest)
		}
	}
	return &Orchestrator{options: options}
}

// Build runs one build.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Cancellation is checked
//	      between steps.
//	req - The build request. BaseDir must exist.
//
// Outputs:
//
//	*Result - Never nil; holds the completed part on failure.
//	error   - ErrBaseDirNotFound, ErrBuildLocked, ErrNoModules,
//	          ErrAlreadyRewritten, ErrNoShipper, ErrDestinationInBase,
//	          *ast.ParseError from preflight, a bundle error, or
//	          *PartialBuildError.
func (o *Orchestrator) Build(ctx context.Context, req Request) (*Result, error) {
	result := &Result{
		BuildID: uuid.NewString(),
		Target:  req.Target(),
		BaseDir: req.BaseDir,
	}

	base, err := filepath.Abs(req.BaseDir)
	if err != nil {
		return result, fmt.Errorf("resolving base directory: %w", err)
	}
	result.BaseDir = base

	ctx, span := otel.Tracer(tracerName).Start(ctx, "build.Run",
		trace.WithAttributes(
			attribute.String("build.id", result.BuildID),
			attribute.String("build.target", string(result.Target)),
			attribute.String("build.base", base),
		),
	)
	defer span.End()
	start := time.Now()

	o.options.Logger.Info("build started",
		slog.String("build_id", result.BuildID),
		slog.String("target", string(result.Target)),
		slog.String("base", base),
		slog.String("env", req.Env),
	)

	if req.Prod {
		err = o.buildProd(ctx, req, base, result)
	} else {
		err = o.buildDev(ctx, req, base, result)
	}
	result.Duration = time.Since(start)

	status := statusOf(err)
	buildsTotal.WithLabelValues(string(result.Target), status).Inc()
	buildDuration.WithLabelValues(string(result.Target)).Observe(result.Duration.Seconds())
	o.journal(ctx, req, result, start, status, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build "+status)
		o.options.Logger.Error("build failed",
			slog.String("build_id", result.BuildID),
			slog.String("status", status),
			slog.Any("error", err),
		)
		return result, err
	}

	span.SetAttributes(
		attribute.Int("build.modules", len(result.Files)),
		attribute.Int("build.stubs", result.Stubs()),
	)
	o.options.Logger.Info("build finished",
		slog.String("build_id", result.BuildID),
		slog.Int("modules", len(result.Files)),
		slog.Int("stubs", result.Stubs()),
		slog.String("location", result.Location),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// ===== Development =====

func (o *Orchestrator) buildDev(ctx context.Context, req Request, base string, result *Result) error {
	mods, err := Discover(base, o.options.Parser.Extensions())
	if err != nil {
		return err
	}

	lk, err := acquireLock(base)
	if err != nil {
		return err
	}
	defer o.release(lk)

	preamble := []byte(DevPreamble(req.SDK))
	nodeEnv := req.nodeEnv()
	for _, m := range mods {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("development build canceled: %w", err)
		}

		fr := FileResult{RelPath: m.RelPath, Module: m.Name}
		if HasDevPreamble(m.Content) || rewrite.IsProxy(m.Content) {
			fr.Skipped = true
			result.Files = append(result.Files, fr)
			buildModules.WithLabelValues(string(TargetDev), "skipped").Inc()
			o.options.Logger.Debug("module already prepared", slog.String("module", m.RelPath))
			continue
		}

		content := make([]byte, 0, len(preamble)+len(m.Content))
		content = append(content, preamble...)
		content = append(content, SubstituteNodeEnv(m.Content, nodeEnv)...)
		if err := writeModule(m.Path, content); err != nil {
			return err
		}
		result.Files = append(result.Files, fr)
		buildModules.WithLabelValues(string(TargetDev), "prepared").Inc()
	}
	return nil
}

// ===== Production =====

func (o *Orchestrator) buildProd(ctx context.Context, req Request, base string, result *Result) error {
	mods, err := Discover(base, o.options.Parser.Extensions())
	if err != nil {
		return err
	}
	if len(mods) == 0 {
		return fmt.Errorf("%w under %s", ErrNoModules, base)
	}
	if proxies := proxyModules(mods); len(proxies) > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyRewritten, strings.Join(proxies, ", "))
	}
	if req.Destination == "" && o.options.Shipper == nil {
		return ErrNoShipper
	}
	if err := checkDestination(base, req.Destination); err != nil {
		return err
	}
	if err := o.preflight(ctx, mods); err != nil {
		return err
	}

	lk, err := acquireLock(base)
	if err != nil {
		return err
	}
	defer o.release(lk)

	agg := bundle.NewAggregator(base, req.SDK, o.options.Logger)
	if err := agg.Remove(); err != nil {
		return fmt.Errorf("removing stale entry module: %w", err)
	}

	artifact, err := o.produce(ctx, req, mods, agg)
	if err != nil {
		return err
	}
	result.Artifact = artifact

	location, err := o.ship(ctx, req, base, artifact)
	if err != nil {
		o.restore(mods)
		if rmErr := agg.Remove(); rmErr != nil {
			o.options.Logger.Warn("entry module left behind", slog.Any("error", rmErr))
		}
		return &PartialBuildError{Step: "ship", Err: err}
	}
	result.Location = location

	if err := agg.Remove(); err != nil {
		o.restore(mods)
		return &PartialBuildError{Step: "cleanup", Err: err}
	}

	return o.rewriteAll(ctx, req, mods, result)
}

// proxyModules returns the modules already rewritten by an earlier
// production build. Bundling them would ship stubs that call themselves.
func proxyModules(mods []ActionModule) []string {
	var proxies []string
	for _, m := range mods {
		if rewrite.IsProxy(m.Content) {
			proxies = append(proxies, m.RelPath)
		}
	}
	return proxies
}

// checkDestination rejects local destinations under the base path, where
// the next build would pick the artifact up as a module.
func checkDestination(base, dest string) error {
	if dest == "" || bundle.IsRemoteDestination(dest) {
		return nil
	}
	local, err := bundle.LocalDestination(dest)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(realPath(base), realPath(filepath.Clean(local)))
	if err != nil {
		return nil
	}
	if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s is inside %s", ErrDestinationInBase, local, base)
	}
	return nil
}

// realPath resolves symlinks in the longest existing prefix of p.
func realPath(p string) string {
	var rest []string
	for cur := p; ; cur = filepath.Dir(cur) {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...)
		}
		if filepath.Dir(cur) == cur {
			return p
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
	}
}

// preflight parses every module before anything is written.
func (o *Orchestrator) preflight(ctx context.Context, mods []ActionModule) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "build.Preflight",
		trace.WithAttributes(attribute.Int("modules", len(mods))),
	)
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.options.PreflightWorkers)
	for _, m := range mods {
		g.Go(func() error {
			if _, err := o.options.Parser.Parse(gctx, m.Content, m.RelPath); err != nil {
				return fmt.Errorf("preflight %s: %w", m.RelPath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preflight failed")
		return err
	}
	return nil
}

// produce runs steps 1-4. On failure the modules are restored and the
// entry module removed before returning.
func (o *Orchestrator) produce(ctx context.Context, req Request, mods []ActionModule, agg *bundle.Aggregator) (*bundle.Artifact, error) {
	fail := func(err error) (*bundle.Artifact, error) {
		o.restore(mods)
		if rmErr := agg.Remove(); rmErr != nil {
			o.options.Logger.Warn("entry module left behind", slog.Any("error", rmErr))
		}
		return nil, err
	}

	for _, m := range mods {
		if _, err := agg.Append(m.RelPath); err != nil {
			return fail(err)
		}
	}

	nodeEnv := req.nodeEnv()
	for _, m := range mods {
		prepared := SubstituteNodeEnv(SwapSDKImport(m.Content, true), nodeEnv)
		if bytes.Equal(prepared, m.Content) {
			continue
		}
		if err := writeModule(m.Path, prepared); err != nil {
			return fail(err)
		}
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("production build canceled: %w", err))
	}
	bundled, err := o.options.Bundler.Bundle(ctx, agg.Path())
	if err != nil {
		return fail(err)
	}
	minified, err := o.options.Minifier.Minify(ctx, bundled.Code)
	if err != nil {
		return fail(err)
	}

	artifact := bundle.NewArtifact(minified)
	artifact.Metafile = bundled.Metafile
	artifact.Warnings = bundled.Warnings
	return artifact, nil
}

// ship delivers the artifact to the request destination, or to the task
// service when there is none.
func (o *Orchestrator) ship(ctx context.Context, req Request, base string, artifact *bundle.Artifact) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "build.Ship",
		trace.WithAttributes(attribute.Int("artifact.bytes", len(artifact.Code))),
	)
	defer span.End()

	location, err := o.deliver(ctx, req, base, artifact)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ship failed")
		return "", err
	}
	span.SetAttributes(attribute.String("artifact.location", location))
	return location, nil
}

func (o *Orchestrator) deliver(ctx context.Context, req Request, base string, artifact *bundle.Artifact) (string, error) {
	if req.Destination == "" {
		if err := o.options.Shipper.InitTasks(ctx, artifact.Code); err != nil {
			return "", err
		}
		return sdk.TaskURI(req.SDK.AppID), nil
	}

	sink, name, err := o.options.OpenSink(ctx, req.Destination)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			o.options.Logger.Warn("closing artifact sink", slog.Any("error", err))
		}
	}()
	return sink.Write(ctx, name, artifact.Code)
}

// rewriteAll runs step 7. Each module is rewritten from its discovered
// content; modules not reached after a failure are restored.
func (o *Orchestrator) rewriteAll(ctx context.Context, req Request, mods []ActionModule, result *Result) error {
	rw := rewrite.NewRewriter(o.options.Parser,
		rewrite.WithGateway(req.SDK.ServerURL, req.SDK.AppID),
		rewrite.WithLogger(o.options.Logger),
	)
	nodeEnv := req.nodeEnv()

	var rewritten []string
	for i, m := range mods {
		res, err := rw.Rewrite(ctx, rewrite.NewRunContext(), m.Name, SubstituteNodeEnv(m.Content, nodeEnv))
		if err == nil {
			err = writeModule(m.Path, res.Content)
		}
		if err != nil {
			o.restore(mods[i:])
			buildModules.WithLabelValues(string(TargetProd), "error").Inc()
			return &PartialBuildError{Step: "rewrite", Rewritten: rewritten, Err: err}
		}

		rewritten = append(rewritten, m.RelPath)
		result.Files = append(result.Files, FileResult{
			RelPath:          m.RelPath,
			Module:           m.Name,
			Skipped:          res.Skipped,
			Stubs:            res.Stubs,
			DeletedFunctions: res.DeletedFunctions,
			Deleted:          res.Deleted,
			Kept:             res.Kept,
			Cleaned:          res.Cleaned,
		})
		outcome := "rewritten"
		if res.Skipped {
			outcome = "skipped"
		}
		buildModules.WithLabelValues(string(TargetProd), outcome).Inc()
	}
	return nil
}

// restore writes the discovered content back to every module. Failures
// are logged; the caller is already returning an error.
func (o *Orchestrator) restore(mods []ActionModule) {
	for _, m := range mods {
		if err := writeModule(m.Path, m.Content); err != nil {
			o.options.Logger.Error("restoring module failed",
				slog.String("module", m.RelPath),
				slog.Any("error", err),
			)
		}
	}
}

func (o *Orchestrator) release(lk *lock) {
	if err := lk.release(); err != nil {
		o.options.Logger.Warn("build lock left behind", slog.Any("error", err))
	}
}

// ===== Journaling =====

func (o *Orchestrator) journal(ctx context.Context, req Request, result *Result, start time.Time, status string, buildErr error) {
	if o.options.Journal == nil {
		return
	}

	rec := &Record{
		BuildID:         result.BuildID,
		BaseDir:         result.BaseDir,
		Target:          result.Target,
		Env:             req.Env,
		Status:          status,
		StartedAtMilli:  start.UnixMilli(),
		FinishedAtMilli: start.Add(result.Duration).UnixMilli(),
		Modules:         len(result.Files),
		Stubs:           result.Stubs(),
		Destination:     result.Location,
	}
	if buildErr != nil {
		rec.Error = buildErr.Error()
	}
	detail := &Detail{Files: result.Files}
	if result.Artifact != nil {
		rec.BundleSHA256 = result.Artifact.SHA256
		rec.BundleBytes = len(result.Artifact.Code)
		summary := result.Artifact.Metafile.Summarize()
		detail.Bundle = &summary
	}

	// a canceled build is still worth recording
	if err := o.options.Journal.Save(context.WithoutCancel(ctx), rec, detail); err != nil {
		o.options.Logger.Warn("journaling build failed",
			slog.String("build_id", result.BuildID),
			slog.Any("error", err),
		)
	}
}

func statusOf(err error) string {
	var partial *PartialBuildError
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &partial):
		return StatusPartial
	default:
		return StatusFailed
	}
}

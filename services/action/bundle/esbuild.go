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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "dew.action.bundle"

// Artifact is one bundled or minified deployable.
type Artifact struct {
	// Code is the JavaScript text.
	Code []byte

	// SHA256 is the hex digest of Code.
	SHA256 string

	// Metafile describes the bundle inputs. Nil after minification.
	Metafile *Metafile

	// Warnings are formatted bundler warnings.
	Warnings []string
}

// NewArtifact wraps code and computes its digest.
func NewArtifact(code []byte) *Artifact {
	sum := sha256.Sum256(code)
	return &Artifact{Code: code, SHA256: hex.EncodeToString(sum[:])}
}

// Bundler turns the entry module and everything it requires into one file.
type Bundler interface {
	Bundle(ctx context.Context, entryPath string) (*Artifact, error)
}

// Minifier shrinks a bundled file.
type Minifier interface {
	Minify(ctx context.Context, code []byte) ([]byte, error)
}

// ESBuildOptions configures ESBuild.
type ESBuildOptions struct {
	// GlobalName is the variable the IIFE bundle is assigned to.
	// Default: "JVM"
	GlobalName string

	// External lists module specifiers left as runtime requires.
	External []string

	// Target is the output language level. Default: ES2020.
	Target api.Target

	// Logger receives bundle diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// ESBuildOption is a functional option for configuring ESBuild.
type ESBuildOption func(*ESBuildOptions)

// WithExternal marks module specifiers as external.
func WithExternal(external ...string) ESBuildOption {
	return func(o *ESBuildOptions) {
		o.External = append(o.External, external...)
	}
}

// WithGlobalName sets the global the bundle exposes.
func WithGlobalName(name string) ESBuildOption {
	return func(o *ESBuildOptions) {
		if name != "" {
			o.GlobalName = name
		}
	}
}

// WithBundleLogger sets the bundler logger.
func WithBundleLogger(logger *slog.Logger) ESBuildOption {
	return func(o *ESBuildOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// ESBuild bundles and minifies with the esbuild Go API.
//
// Description:
//
//	Bundle produces a self-contained IIFE that assigns the entry module's
//	exports to GlobalName, the shape the task runtime loads. Output stays
//	in memory. Minify runs a separate transform pass so the bundle and the
//	minified artifact can be journaled independently.
//
// Thread Safety: Safe for concurrent use.
type ESBuild struct {
	options ESBuildOptions
}

// NewESBuild creates an esbuild-backed Bundler and Minifier.
func NewESBuild(opts ...ESBuildOption) *ESBuild {
	options := ESBuildOptions{
		GlobalName: "JVM",
		Target:     api.ES2020,
		Logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &ESBuild{options: options}
}

// Bundle implements Bundler.
func (e *ESBuild) Bundle(ctx context.Context, entryPath string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bundle canceled before start: %w", err)
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "bundle.Build",
		trace.WithAttributes(attribute.String("entry", entryPath)),
	)
	defer span.End()
	start := time.Now()

	result := api.Build(api.BuildOptions{
		EntryPoints:   []string{entryPath},
		AbsWorkingDir: filepath.Dir(entryPath),
		Bundle:        true,
		Write:         false,
		Format:        api.FormatIIFE,
		GlobalName:    e.options.GlobalName,
		Platform:      api.PlatformBrowser,
		Target:        e.options.Target,
		External:      e.options.External,
		Metafile:      true,
		LogLevel:      api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		err := fmt.Errorf("%w: %s", ErrBundleFailed, formatMessages(result.Errors))
		span.RecordError(err)
		span.SetStatus(codes.Error, "esbuild build failed")
		return nil, err
	}
	if len(result.OutputFiles) == 0 {
		err := fmt.Errorf("%w: no output produced", ErrBundleFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "esbuild produced no output")
		return nil, err
	}

	artifact := NewArtifact(result.OutputFiles[0].Contents)
	for _, w := range result.Warnings {
		artifact.Warnings = append(artifact.Warnings, formatMessage(w))
	}
	if result.Metafile != "" {
		meta, err := ParseMetafile([]byte(result.Metafile))
		if err != nil {
			e.options.Logger.Warn("unreadable esbuild metafile", slog.Any("error", err))
		} else {
			artifact.Metafile = meta
		}
	}

	bundleBytes.WithLabelValues("bundled").Observe(float64(len(artifact.Code)))
	bundleDuration.WithLabelValues("bundle").Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("bundle.bytes", len(artifact.Code)),
		attribute.Int("bundle.warnings", len(artifact.Warnings)),
	)
	e.options.Logger.Info("bundle built",
		slog.String("entry", entryPath),
		slog.Int("bytes", len(artifact.Code)),
		slog.Int("warnings", len(artifact.Warnings)),
	)
	return artifact, nil
}

// Minify implements Minifier.
func (e *ESBuild) Minify(ctx context.Context, code []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("minify canceled before start: %w", err)
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "bundle.Minify")
	defer span.End()
	start := time.Now()

	result := api.Transform(string(code), api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            e.options.Target,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LogLevel:          api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		err := fmt.Errorf("%w: %s", ErrMinifyFailed, formatMessages(result.Errors))
		span.RecordError(err)
		span.SetStatus(codes.Error, "esbuild transform failed")
		return nil, err
	}

	bundleBytes.WithLabelValues("minified").Observe(float64(len(result.Code)))
	bundleDuration.WithLabelValues("minify").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("minified.bytes", len(result.Code)))
	return result.Code, nil
}

func formatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, formatMessage(m))
	}
	return strings.Join(parts, "; ")
}

func formatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
}

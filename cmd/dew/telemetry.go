// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// telemetry owns the tracer provider and, for stdout, a metric reader
// that the gateway command attaches to its meter.
type telemetry struct {
	tracer *sdktrace.TracerProvider

	// metricReader is nil unless metrics are printed.
	metricReader sdkmetric.Reader
}

// setupTelemetry installs the global tracer provider for mode.
//
// Description:
//
//	"none" installs nothing. "stdout" prints spans and gateway metrics to
//	w. "otlp" exports spans over gRPC to the endpoint named by the
//	standard OTEL_EXPORTER_OTLP_* variables.
func setupTelemetry(ctx context.Context, mode string, w io.Writer) (*telemetry, error) {
	var (
		exporter sdktrace.SpanExporter
		reader   sdkmetric.Reader
		err      error
	)

	switch mode {
	case "none":
		return nil, nil
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("creating stdout metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))
	case "otlp":
		exporter, err = otlptracegrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown telemetry mode %q: must be none, stdout or otlp", mode)
	}

	res := resource.NewSchemaless(attribute.String("service.name", "dew"))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &telemetry{tracer: tp, metricReader: reader}, nil
}

// Shutdown flushes pending spans and metrics.
func (t *telemetry) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if err := t.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
	}
	if t.metricReader != nil {
		if err := t.metricReader.Shutdown(ctx); err != nil &&
			!errors.Is(err, sdkmetric.ErrReaderShutdown) && !errors.Is(err, sdkmetric.ErrReaderNotRegistered) {
			errs = append(errs, fmt.Errorf("shutting down metric reader: %w", err))
		}
	}
	return errors.Join(errs...)
}

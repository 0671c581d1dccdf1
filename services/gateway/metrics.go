// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "dew.gateway"

// instruments are the gateway's OTel metrics, exported to a per-server
// Prometheus registry.
type instruments struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	// requests counts /exec requests.
	//
	// Labels:
	//   - action: resource action, or "invalid"
	//   - code: envelope code
	requests metric.Int64Counter

	// verifications counts authentication results.
	//
	// Labels:
	//   - method: "aksk", "token", "anonymous", "none"
	//   - outcome: "ok" or the rejection reason
	verifications metric.Int64Counter

	duration metric.Float64Histogram
}

// newInstruments creates the instruments. extra readers receive the same
// measurements as the Prometheus registry.
func newInstruments(extra ...sdkmetric.Reader) (*instruments, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	readers := []sdkmetric.Option{sdkmetric.WithReader(exporter)}
	for _, r := range extra {
		readers = append(readers, sdkmetric.WithReader(r))
	}
	provider := sdkmetric.NewMeterProvider(readers...)
	meter := provider.Meter(meterName)

	requests, err := meter.Int64Counter("dew.gateway.requests",
		metric.WithDescription("Exec requests handled by the gateway."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}
	verifications, err := meter.Int64Counter("dew.gateway.verifications",
		metric.WithDescription("Request authentication results."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating verification counter: %w", err)
	}
	duration, err := meter.Float64Histogram("dew.gateway.duration",
		metric.WithDescription("Exec request handling time."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &instruments{
		registry:      registry,
		provider:      provider,
		requests:      requests,
		verifications: verifications,
		duration:      duration,
	}, nil
}

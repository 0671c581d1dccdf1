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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// bundleBytes tracks artifact sizes.
	//
	// Labels:
	//   - stage: "bundled", "minified"
	bundleBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dew",
			Subsystem: "bundle",
			Name:      "artifact_bytes",
			Help:      "Size of bundled and minified artifacts.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"stage"},
	)

	// bundleDuration tracks esbuild calls.
	//
	// Labels:
	//   - op: "bundle", "minify"
	bundleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dew",
			Subsystem: "bundle",
			Name:      "duration_seconds",
			Help:      "Time spent in esbuild.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	sinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dew",
			Subsystem: "bundle",
			Name:      "sink_writes_total",
			Help:      "Artifact writes by sink kind and status.",
		},
		[]string{"sink", "status"},
	)
)

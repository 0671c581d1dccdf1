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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// buildsTotal counts finished builds.
	//
	// Labels:
	//   - target: "dev", "prod"
	//   - status: "ok", "failed", "partial"
	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dew",
			Subsystem: "build",
			Name:      "runs_total",
			Help:      "Builds run by the orchestrator.",
		},
		[]string{"target", "status"},
	)

	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dew",
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Wall time of one build.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"target"},
	)

	buildModules = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dew",
			Subsystem: "build",
			Name:      "modules_total",
			Help:      "Modules processed, by target and outcome.",
		},
		[]string{"target", "outcome"},
	)
)

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// rewriteDecisionsTotal counts classifier decisions.
	//
	// Labels:
	//   - action: "keep", "stub", "delete", "delete_cleanup"
	rewriteDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dew",
			Subsystem: "rewrite",
			Name:      "decisions_total",
			Help:      "Top-level statement decisions taken by the action rewriter.",
		},
		[]string{"action"},
	)

	// rewriteModulesTotal counts rewritten modules.
	//
	// Labels:
	//   - status: "rewritten", "skipped", "error"
	rewriteModulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dew",
			Subsystem: "rewrite",
			Name:      "modules_total",
			Help:      "Action modules processed by the rewriter.",
		},
		[]string{"status"},
	)

	rewriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dew",
			Subsystem: "rewrite",
			Name:      "duration_seconds",
			Help:      "Time spent rewriting one module.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

func recordDecision(a Action) {
	rewriteDecisionsTotal.WithLabelValues(a.String()).Inc()
}

func recordModule(status string) {
	rewriteModulesTotal.WithLabelValues(status).Inc()
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sdk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts gateway calls.
	//
	// Labels:
	//   - action: resource action ("fetch", "create", ...)
	//   - outcome: "ok", "mock", "application_error", "transport_error"
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dew",
			Subsystem: "sdk",
			Name:      "requests_total",
			Help:      "Gateway requests issued by the dew client.",
		},
		[]string{"action", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dew",
			Subsystem: "sdk",
			Name:      "request_duration_seconds",
			Help:      "Gateway request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

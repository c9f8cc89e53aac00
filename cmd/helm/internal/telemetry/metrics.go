// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors helm records.
type Metrics struct {
	// SlotWait is the time spent acquiring a scheduler slot, by class and outcome.
	SlotWait *prometheus.HistogramVec

	// ServiceStart is the duration of EnsureRunning, by driver and action.
	ServiceStart *prometheus.HistogramVec

	// HealthWait is the time until a service reported ready, by driver and outcome.
	HealthWait *prometheus.HistogramVec

	// Hooks counts hook runs by phase and outcome.
	Hooks *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SlotWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "helm",
			Subsystem: "scheduler",
			Name:      "slot_wait_seconds",
			Help:      "Time spent waiting for an operation slot.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 4, 6},
		}, []string{"class", "outcome"}),
		ServiceStart: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "helm",
			Subsystem: "lifecycle",
			Name:      "ensure_running_seconds",
			Help:      "Duration of bringing a service container to running.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"driver", "action"}),
		HealthWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "helm",
			Subsystem: "health",
			Name:      "wait_seconds",
			Help:      "Time until a service passed its readiness check.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"driver", "outcome"}),
		Hooks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helm",
			Subsystem: "hooks",
			Name:      "runs_total",
			Help:      "Lifecycle hook runs.",
		}, []string{"phase", "outcome"}),
	}
}

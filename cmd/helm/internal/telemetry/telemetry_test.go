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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestNop_RecordsWithoutExporting(t *testing.T) {
	tel := Nop()
	tel.ObserveSlotWait("heavy", 30*time.Millisecond, nil)
	tel.ObserveSlotWait("heavy", 6*time.Second, errors.New("timeout"))
	tel.ObserveHook("post_up", nil)
	tel.RecordRun(context.Background(), "up", nil)

	assert.Equal(t, 2, testutil.CollectAndCount(tel.Metrics().SlotWait))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics().Hooks.WithLabelValues("post_up", "ok")))
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestStdoutTracer_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tel, err := Init(context.Background(), Config{TraceExporter: "stdout", Writer: &buf})
	require.NoError(t, err)

	_, span := tel.StartSpan(context.Background(), "helm.up", "workspace", "/work/shop")
	EndSpan(span, errors.New("boom"))
	require.NoError(t, tel.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "helm.up")
	assert.Contains(t, buf.String(), "/work/shop")
}

func TestPrometheus_WritesMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helm.prom")
	tel, err := Init(context.Background(), Config{MetricExporter: "prometheus", MetricsFile: path})
	require.NoError(t, err)

	tel.ObserveServiceStart("postgres", "created", 2*time.Second, nil)
	tel.ObserveHealth("postgres", time.Second, nil)
	tel.RecordRun(context.Background(), "up", nil)
	require.NoError(t, tel.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "helm_lifecycle_ensure_running_seconds")
	assert.Contains(t, string(data), "helm_health_wait_seconds")
	assert.Contains(t, string(data), "helm_command_runs")
}

func TestObserveServiceStart_FailureLabel(t *testing.T) {
	tel := Nop()
	tel.ObserveServiceStart("redis", "created", time.Second, errors.New("x"))
	assert.Equal(t, 1, testutil.CollectAndCount(tel.Metrics().ServiceStart))
	assert.Equal(t, uint64(1), histogramCount(t, tel, "redis", "failed"))
}

func histogramCount(t *testing.T, tel *Telemetry, driver, action string) uint64 {
	t.Helper()
	families, err := tel.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "helm_lifecycle_ensure_running_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["driver"] == driver && labels["action"] == action {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

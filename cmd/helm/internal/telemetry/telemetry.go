// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides tracing and metrics for helm commands.
//
// Tracing uses the OpenTelemetry SDK with an OTLP/gRPC or stdout exporter.
// Metrics are Prometheus collectors on a private registry; OpenTelemetry
// instruments are bridged into the same registry through the OTel
// Prometheus exporter, or printed with the stdout exporter. A one-shot CLI
// has no scrape endpoint, so Shutdown can write the registry to a
// node_exporter textfile.
//
// # Example
//
//	tel, err := telemetry.Init(ctx, telemetry.Config{TraceExporter: "stdout"})
//	defer tel.Shutdown(ctx)
//	ctx, span := tel.StartSpan(ctx, "helm.up")
//	defer span.End()
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
)

// ErrUnknownExporter is returned for an unsupported exporter name.
var ErrUnknownExporter = errors.New("unknown exporter")

const instrumentationName = "github.com/jinterlante1206/helm"

// Config selects exporters.
type Config struct {
	// ServiceVersion is stamped on the resource.
	ServiceVersion string

	// TraceExporter is "none" (default), "stdout" or "otlp".
	TraceExporter string

	// MetricExporter is "none" (default), "prometheus" or "stdout".
	MetricExporter string

	// OTLPEndpoint is the OTLP/gRPC receiver, e.g. "localhost:4317".
	OTLPEndpoint string

	// OTLPInsecure disables TLS for the OTLP connection.
	OTLPInsecure bool

	// MetricsFile, when set with the prometheus exporter, receives the
	// registry in text format on Shutdown.
	MetricsFile string

	// Writer receives stdout exporter output. Default os.Stderr.
	Writer io.Writer
}

// Telemetry holds the tracer, the metrics and their shutdown hooks.
//
// # Thread Safety
//
// Safe for concurrent use.
type Telemetry struct {
	tracer   trace.Tracer
	registry *prometheus.Registry
	metrics  *Metrics
	runs     metric.Int64Counter
	config   Config
	shutdown []func(context.Context) error
}

// Init builds exporters per cfg.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	t := &Telemetry{
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		registry: prometheus.NewRegistry(),
		config:   cfg,
	}
	t.metrics = newMetrics(t.registry)

	res := resource.NewSchemaless(
		attribute.String("service.name", "helm"),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	switch cfg.TraceExporter {
	case "", "none":
	default:
		tp, err := initTracer(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		t.tracer = tp.Tracer(instrumentationName)
		t.shutdown = append(t.shutdown, tp.Shutdown)
	}

	var meter metric.Meter = noop.NewMeterProvider().Meter(instrumentationName)
	switch cfg.MetricExporter {
	case "", "none":
	default:
		mp, err := initMeter(cfg, res, t.registry)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("init meter: %w", err), t.Shutdown(ctx))
		}
		meter = mp.Meter(instrumentationName)
		t.shutdown = append(t.shutdown, mp.Shutdown)
	}

	runs, err := meter.Int64Counter("helm.command.runs", metric.WithDescription("helm command invocations by command and outcome"))
	if err != nil {
		return nil, fmt.Errorf("create run counter: %w", err)
	}
	t.runs = runs
	return t, nil
}

// Nop returns telemetry that records metrics in memory and exports nothing.
func Nop() *Telemetry {
	t, _ := Init(context.Background(), Config{})
	return t
}

func initTracer(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent("helm/" + cfg.ServiceVersion)),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(cfg.Writer), stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

func initMeter(cfg Config, res *resource.Resource, registry *prometheus.Registry) (*sdkmetric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)), nil
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter))), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

// Tracer returns the tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Registry returns the Prometheus registry holding helm's collectors.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// Metrics returns the Prometheus collectors.
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// StartSpan starts a span with string attributes given as key, value pairs.
func (t *Telemetry) StartSpan(ctx context.Context, name string, kv ...string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordRun counts one command invocation.
func (t *Telemetry) RecordRun(ctx context.Context, command string, err error) {
	t.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome(err)),
	))
}

// ObserveSlotWait implements the scheduler observer.
func (t *Telemetry) ObserveSlotWait(class string, wait time.Duration, err error) {
	t.metrics.SlotWait.WithLabelValues(class, outcome(err)).Observe(wait.Seconds())
}

// ObserveServiceStart records one EnsureRunning call.
func (t *Telemetry) ObserveServiceStart(driver, action string, d time.Duration, err error) {
	if err != nil {
		action = "failed"
	}
	t.metrics.ServiceStart.WithLabelValues(driver, action).Observe(d.Seconds())
}

// ObserveHealth records one WaitUntilHealthy call.
func (t *Telemetry) ObserveHealth(driver string, d time.Duration, err error) {
	t.metrics.HealthWait.WithLabelValues(driver, outcome(err)).Observe(d.Seconds())
}

// ObserveHook records one hook run.
func (t *Telemetry) ObserveHook(phase string, err error) {
	t.metrics.Hooks.WithLabelValues(phase, outcome(err)).Inc()
}

// Shutdown flushes exporters and writes the metrics file if configured.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	// The registry must be gathered while the meter provider still runs.
	if t.config.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(t.config.MetricsFile, t.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics file: %w", err))
		}
	}

	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdown = nil
	return errors.Join(errs...)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry tracing initialization and lifecycle
// management for the escalation service. Escalation runs and individual call
// attempts are recorded as spans.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Options configures tracing of escalation runs, call attempts and the HTTP
// callbacks that resolve them.
type Options struct {
	Enabled bool

	// ServiceName defaults to DefaultServiceName.
	ServiceName    string
	ServiceVersion string

	// Exporter is ExporterOTLP (default), ExporterStdout or ExporterNone.
	Exporter string
	// Endpoint is the OTLP/HTTP collector, e.g. "otel-collector:4318".
	Endpoint string
	// URLPath overrides the collector's "/v1/traces" path.
	URLPath  string
	Insecure bool

	// SamplingRate is the trace sampling probability in [0, 1].
	SamplingRate float64

	Logger *zap.SugaredLogger
}

// DefaultServiceName is reported when Options.ServiceName is empty.
const DefaultServiceName = "voice-escalation"

// Supported values of Options.Exporter.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// ShutdownFunc gracefully shuts down the TracerProvider, flushing pending spans.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global TracerProvider and the W3C trace context
// propagator. It returns the provider and a shutdown function that flushes
// pending spans; call it during graceful shutdown.
//
// When opts.Enabled is false a no-op provider is installed and the shutdown
// function does nothing.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	ratio := samplingRatio(opts.SamplingRate, log)

	// NewSchemaless avoids schema URL conflicts with resource.Default().
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	exporter, err := newExporter(ctx, opts, log)
	if err != nil {
		return nil, nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	// Export failures go through the structured logger, not stderr.
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("OpenTelemetry internal error", "error", err)
	}))

	log.Infow("OpenTelemetry tracing initialized",
		"serviceName", opts.ServiceName,
		"exporter", opts.Exporter,
		"samplingRate", ratio,
	)

	shutdown := func(ctx context.Context) error {
		log.Infow("Flushing escalation traces")
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(sctx)
	}
	return tp, shutdown, nil
}

// samplingRatio returns rate, or 1.0 (sample everything) when rate lies
// outside [0, 1]. Escalations are rare, so full sampling is the safe default.
func samplingRatio(rate float64, log *zap.SugaredLogger) float64 {
	if rate < 0 || rate > 1 {
		log.Warnw("OTel sampling rate out of range, sampling everything", "provided", rate)
		return 1.0
	}
	return rate
}

// newExporter builds the span exporter named by opts.Exporter. It returns a
// nil exporter for "none": spans are recorded but not exported.
func newExporter(ctx context.Context, opts Options, log *zap.SugaredLogger) (sdktrace.SpanExporter, error) {
	switch opts.Exporter {
	case ExporterOTLP, "":
		var httpOpts []otlptracehttp.Option
		if opts.Endpoint != "" {
			httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(opts.Endpoint))
		}
		if opts.URLPath != "" {
			httpOpts = append(httpOpts, otlptracehttp.WithURLPath(opts.URLPath))
		}
		if opts.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP HTTP exporter: %w", err)
		}
		log.Infow("OTel OTLP exporter initialized", "endpoint", opts.Endpoint, "insecure", opts.Insecure)
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		log.Info("OTel stdout exporter initialized")
		return exp, nil
	case ExporterNone:
		log.Info("OTel tracing enabled without exporter, spans are not exported")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown OTel exporter %q: supported values are otlp, stdout, none", opts.Exporter)
	}
}

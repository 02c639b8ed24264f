// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// restoreGlobals puts back the global provider and propagator after a test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestInitDisabled(t *testing.T) {
	restoreGlobals(t)

	tp, shutdown, err := Init(context.Background(), Options{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, tp)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitExporters(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "none", opts: Options{Exporter: ExporterNone}},
		{name: "stdout", opts: Options{Exporter: ExporterStdout}},
		// The OTLP HTTP exporter only connects on export.
		{name: "otlp", opts: Options{Exporter: ExporterOTLP, Endpoint: "localhost:0", URLPath: "/custom/v1/traces", Insecure: true}},
		{name: "default is otlp", opts: Options{Endpoint: "localhost:0", Insecure: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreGlobals(t)
			tt.opts.Enabled = true
			tt.opts.Logger = zaptest.NewLogger(t).Sugar()

			tp, shutdown, err := Init(context.Background(), tt.opts)
			require.NoError(t, err)
			require.NotNil(t, tp)
			assert.IsType(t, &sdktrace.TracerProvider{}, tp)
			_ = shutdown(context.Background())
		})
	}
}

func TestInitInvalidExporter(t *testing.T) {
	_, _, err := Init(context.Background(), Options{Enabled: true, Exporter: "jaeger"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown OTel exporter "jaeger"`)
}

func TestSamplingRatio(t *testing.T) {
	log := zap.NewNop().Sugar()
	assert.Equal(t, 1.0, samplingRatio(-0.5, log))
	assert.Equal(t, 1.0, samplingRatio(2.0, log))
	assert.Equal(t, 0.25, samplingRatio(0.25, log))
	assert.Equal(t, 0.0, samplingRatio(0, log))
}

func TestShutdownTwice(t *testing.T) {
	restoreGlobals(t)

	_, shutdown, err := Init(context.Background(), Options{Enabled: true, Exporter: ExporterNone})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	_ = shutdown(context.Background())
}

func TestInitSamplesEscalationSpans(t *testing.T) {
	restoreGlobals(t)

	_, shutdown, err := Init(context.Background(), Options{Enabled: true, Exporter: ExporterNone, SamplingRate: 1.0})
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("test").Start(context.Background(), "escalation.run")
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())
}

func newRecordingEngine(t *testing.T) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	restoreGlobals(t)
	gin.SetMode(gin.TestMode)

	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	r := gin.New()
	r.Use(Middleware())
	r.POST("/api/calls/status/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r, rec
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddlewareRecordsCallbackSpan(t *testing.T) {
	r, rec := newRecordingEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/api/calls/status/attempt-1", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /api/calls/status/:id", span.Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext().TraceID().String())

	id, ok := spanAttr(span, "call.attempt_id")
	require.True(t, ok)
	assert.Equal(t, "attempt-1", id.AsString())
	status, ok := spanAttr(span, "http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusNoContent), status.AsInt64())
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestMiddlewareMarksServerErrors(t *testing.T) {
	r, rec := newRecordingEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	_, ok := spanAttr(spans[0], "call.attempt_id")
	assert.False(t, ok)
}

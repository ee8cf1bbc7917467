package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

func TestEndpointExcluderDropsExcludedRoutes(t *testing.T) {
	s := newEndpointExcluder(map[string]struct{}{"/v1/health": {}}, 1.0)

	res := s.ShouldSample(sdktrace.SamplingParameters{
		Attributes: []attribute.KeyValue{semconv.HTTPTargetKey.String("/v1/health")},
	})
	assert.Equal(t, sdktrace.Drop, res.Decision)

	res = s.ShouldSample(sdktrace.SamplingParameters{
		TraceID:    trace.TraceID{1},
		Attributes: []attribute.KeyValue{semconv.HTTPTargetKey.String("/v1/scans")},
	})
	assert.Equal(t, sdktrace.RecordAndSample, res.Decision)
}

func TestMiddlewareRecordsServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	var traceID string
	h := Middleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = GetTraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/scans", nil))

	require.Len(t, recorder.Ended(), 1)
	span := recorder.Ended()[0]
	assert.Equal(t, "GET /v1/scans", span.Name())
	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestGetTraceIDWithoutSpan(t *testing.T) {
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))
	assert.Equal(t, "0000000000000000", GetSpanID(context.Background()))
}

func TestInitTelemetryWithoutExporter(t *testing.T) {
	tp, cleanup, err := InitTelemetry(logger.Noop(), Config{ServiceName: "test"})
	require.NoError(t, err)
	require.NotNil(t, tp)
	cleanup(context.Background())
}

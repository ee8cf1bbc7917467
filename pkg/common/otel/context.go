package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

const (
	zeroTraceID = "00000000000000000000000000000000"
	zeroSpanID  = "0000000000000000"
)

// GetTraceID returns the trace id of the span carried by ctx, or an all-zero
// id when there is none.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return zeroTraceID
	}
	return sc.TraceID().String()
}

// GetSpanID returns the span id of the span carried by ctx, or an all-zero id
// when there is none.
func GetSpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return zeroSpanID
	}
	return sc.SpanID().String()
}

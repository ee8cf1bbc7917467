package otel

import (
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// NewMeterProvider creates an in-process meter provider for the given service.
// It has no exporter attached and is used by tools and tests.
func NewMeterProvider(serviceName string) metric.MeterProvider {
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(NewResource(serviceName)))
}

// NewResource creates a new OpenTelemetry resource with service name.
func NewResource(serviceName string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
}

package kafka

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type publisherMetrics struct {
	published     metric.Int64Counter
	publishErrors metric.Int64Counter
}

// NewPublisherMetrics creates the publisher's instruments on mp.
func NewPublisherMetrics(mp metric.MeterProvider) (PublisherMetrics, error) {
	meter := mp.Meter("scan_orchestrator.kafka", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(publisherMetrics)
	var err error

	if m.published, err = meter.Int64Counter(
		"kafka_messages_published_total",
		metric.WithDescription("Total number of job events acknowledged by Kafka"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"kafka_publish_errors_total",
		metric.WithDescription("Total number of job events that failed to publish"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *publisherMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *publisherMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// Package kafka publishes job lifecycle events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/internal/domain/events"
	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// PublisherMetrics defines the metrics recorded while publishing.
type PublisherMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// Config contains settings for connecting to Kafka and routing job events.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// JobEventsTopic receives every job lifecycle event.
	JobEventsTopic string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

// envelope is the wire form of a published event.
type envelope struct {
	Type      events.EventType `json:"type"`
	Key       string           `json:"key,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

const headerEventType = "event_type"

var _ events.DomainEventPublisher = (*Publisher)(nil)

// Publisher implements events.DomainEventPublisher on a synchronous Kafka
// producer. A publish returns only after the broker acknowledged the record.
type Publisher struct {
	producer sarama.SyncProducer

	// Maps domain event types to their Kafka topics.
	topicMap map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PublisherMetrics
}

// NewProducerConfig returns the sarama configuration used for job events.
// Records are keyed by job id and hash partitioned so one job's events stay
// ordered.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V3_6_0_0
	return config
}

// NewPublisher wraps an existing producer.
func NewPublisher(
	producer sarama.SyncProducer,
	cfg *Config,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) (*Publisher, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka publisher")
	}
	if cfg.JobEventsTopic == "" {
		return nil, fmt.Errorf("job events topic is required")
	}

	return &Publisher{
		producer: producer,
		topicMap: map[events.EventType]string{
			scanning.EventTypeJobCreated:   cfg.JobEventsTopic,
			scanning.EventTypeJobStarted:   cfg.JobEventsTopic,
			scanning.EventTypeJobCompleted: cfg.JobEventsTopic,
			scanning.EventTypeJobFailed:    cfg.JobEventsTopic,
		},
		logger:  logger.With("component", "kafka_publisher", "client_id", cfg.ClientID),
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// NewPublisherFromConfig dials the brokers and builds a Publisher.
func NewPublisherFromConfig(
	cfg *Config,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	pub, err := NewPublisher(producer, cfg, logger, metrics, tracer)
	if err != nil {
		producer.Close()
		return nil, err
	}
	return pub, nil
}

// PublishDomainEvent serializes the event as a JSON envelope and sends it to
// the topic mapped for its type. A key passed through opts overrides the key
// carried by the event.
func (p *Publisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	topic, ok := p.topicMap[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, string(event.Type), p.tracer)
	defer span.End()

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
	}
	if event.Key != "" {
		span.SetAttributes(attribute.String("event.key", event.Key))
	}

	value, err := json.Marshal(envelope{
		Type:      event.Type,
		Key:       event.Key,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize event")
		p.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(value),
		Headers: recordHeaders(event.Type, event.Headers, params.Headers),
	}
	if event.Key != "" {
		msg.Key = sarama.StringEncoder(event.Key)
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		p.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}
	p.metrics.IncMessagePublished(ctx, topic)
	span.SetStatus(codes.Ok, "")

	p.logger.Debug(ctx, "Published job event to Kafka",
		"topic", topic,
		"event_type", string(event.Type),
		"partition", partition,
		"offset", offset,
		"key", event.Key,
	)

	return nil
}

func recordHeaders(eventType events.EventType, sets ...map[string]string) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{{Key: []byte(headerEventType), Value: []byte(eventType)}}
	for _, set := range sets {
		for k, v := range set {
			headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}
	}
	return headers
}

// Close flushes and closes the underlying producer.
func (p *Publisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("closing kafka producer: %w", err)
	}
	return nil
}

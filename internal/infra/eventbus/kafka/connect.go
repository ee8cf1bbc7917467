package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// ConnectWithRetry attempts to establish a producer connection with exponential
// backoff. Brokers are often still starting when the service boots, so failed
// attempts are retried for up to maxElapsed, starting with 5 second intervals.
func ConnectWithRetry(
	cfg *Config,
	log *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
	maxElapsed time.Duration,
) (*Publisher, error) {
	if cfg.JobEventsTopic == "" {
		return nil, errors.New("job events topic is required")
	}

	var pub *Publisher

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = 5 * time.Second

	attempt := 0
	operation := func() error {
		attempt++
		var err error
		pub, err = NewPublisherFromConfig(cfg, log, metrics, tracer)
		if err != nil {
			log.Warn(context.Background(), "kafka connect attempt failed", "attempt", attempt, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return pub, nil
}

// Package ingest consumes location readings from RabbitMQ and stores them
// in PostgreSQL.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/pkg/metrics"
	"procodus.dev/alertnav/pkg/mq"
	"procodus.dev/alertnav/pkg/wire"
)

const defaultConsumeRetry = 500 * time.Millisecond

// ReadingCreator inserts readings.
type ReadingCreator interface {
	Create(ctx context.Context, reading *store.LocationReading) error
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger   *slog.Logger
	Source   mq.Consumer
	Readings ReadingCreator
	// Metrics is optional.
	Metrics *metrics.IngestMetrics
	// ConsumeRetry is the wait between attempts to start consuming while the
	// source is still connecting.
	ConsumeRetry time.Duration
}

// Consumer turns queue deliveries into stored readings.
type Consumer struct {
	logger   *slog.Logger
	source   mq.Consumer
	readings ReadingCreator
	metrics  *metrics.IngestMetrics
	retry    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Source == nil {
		return nil, errors.New("message source cannot be nil")
	}

	if cfg.Readings == nil {
		return nil, errors.New("reading store cannot be nil")
	}

	retry := cfg.ConsumeRetry
	if retry <= 0 {
		retry = defaultConsumeRetry
	}

	return &Consumer{
		logger:   cfg.Logger,
		source:   cfg.Source,
		readings: cfg.Readings,
		metrics:  cfg.Metrics,
		retry:    retry,
	}, nil
}

// Start waits for the source to accept a consumer and then processes
// deliveries in the background until ctx is canceled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	deliveries, err := c.consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.logger.Info("consumer started, waiting for messages")

	go c.processMessages(ctx, deliveries, done)
	return nil
}

// consume retries while the source is still connecting.
func (c *Consumer) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	for {
		deliveries, err := c.source.Consume()
		if err == nil {
			return deliveries, nil
		}
		if !errors.Is(err, mq.ErrNotConnected) {
			return nil, err
		}

		c.logger.Debug("source not connected yet, retrying", "retry", c.retry)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retry):
		}
	}
}

func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery, done chan struct{}) {
	defer close(done)

	if c.metrics != nil {
		c.metrics.ActiveConsumers.Inc()
		defer c.metrics.ActiveConsumers.Dec()
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery stores one message. Undecodable messages are dropped, failed
// inserts go back to the queue.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.ProcessingDuration)
		defer timer.ObserveDuration()
	}

	reading, err := wire.Decode(delivery.Body)
	if err != nil {
		c.logger.Error("dropping invalid reading message",
			"delivery_tag", delivery.DeliveryTag,
			"error", err,
		)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		c.count("invalid")
		return
	}

	if err := c.readings.Create(ctx, ToModel(reading)); err != nil {
		c.logger.Error("failed to save reading",
			"device_id", reading.DeviceID,
			"error", err,
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		c.count("requeued")
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}
	c.count("stored")

	c.logger.Debug("reading saved", "device_id", reading.DeviceID)
}

func (c *Consumer) count(outcome string) {
	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(outcome).Inc()
	}
}

// Stop ends processing and closes the source. It is safe to call before
// Start and more than once.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if err := c.source.Close(); err != nil && !errors.Is(err, mq.ErrAlreadyClosed) {
		return fmt.Errorf("failed to close message source: %w", err)
	}

	c.logger.Info("consumer stopped")
	return nil
}

// ToModel converts a wire reading into its database row. The owner email is
// normalized the same way user emails are.
func ToModel(r *wire.Reading) *store.LocationReading {
	row := &store.LocationReading{
		DeviceID:  r.DeviceID,
		Lat:       r.Lat,
		Lon:       r.Lon,
		Event:     r.Event,
		Group:     r.Group,
		Timestamp: r.Timestamp,
	}
	if r.UserEmail != nil {
		email := store.NormalizeEmail(*r.UserEmail)
		row.UserEmail = &email
	}
	return row
}

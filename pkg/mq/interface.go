package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher pushes raw message bodies onto a queue.
type Publisher interface {
	// Push publishes data and blocks until the broker confirms it.
	Push(ctx context.Context, data []byte) error
	Close() error
}

// Consumer receives deliveries from a queue. Each delivery must be acked or
// nacked by the caller.
type Consumer interface {
	Consume() (<-chan amqp.Delivery, error)
	Close() error
}

// ClientInterface is the full client surface used by producers and the
// ingest worker.
type ClientInterface interface {
	Publisher
	Consumer

	// UnsafePush publishes without waiting for a broker confirmation.
	UnsafePush(ctx context.Context, data []byte) error
	// Ready reports whether a channel is currently open.
	Ready() bool
}

var _ ClientInterface = (*Client)(nil)

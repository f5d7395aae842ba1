// Package mq provides a RabbitMQ client with automatic reconnection, publisher
// confirms and manual-ack consumption.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/alertnav/pkg/metrics"
)

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2
	maxRetryAttempts  = 5
)

var (
	// ErrNotConnected is returned when the client has no usable channel.
	ErrNotConnected = errors.New("not connected to a server")
	// ErrAlreadyClosed is returned by Close on a client that is not connected.
	ErrAlreadyClosed = errors.New("already closed: not connected to the server")
	// ErrShutdown is returned by Push while the client is closing.
	ErrShutdown = errors.New("client is shutting down")
	// ErrMaxRetriesExceeded is returned by Push after maxRetryAttempts failures.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Options tunes queue declaration and delivery.
type Options struct {
	// Durable declares the queue durable and publishes persistent messages.
	Durable bool
	// ContentType is set on every published message.
	ContentType string
	// Prefetch bounds unacknowledged deliveries per consumer.
	Prefetch int
	// Metrics is optional.
	Metrics *metrics.MQMetrics
}

// DefaultOptions returns durable JSON delivery with prefetch 1.
func DefaultOptions() Options {
	return Options{
		Durable:     true,
		ContentType: "application/json",
		Prefetch:    1,
	}
}

// Client is a RabbitMQ client bound to a single queue.
type Client struct {
	m               sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	opts            Options
	isReady         bool
	metrics         *metrics.MQMetrics
}

// New creates a client for queueName and starts connecting to addr in the background.
func New(queueName, addr string, l *slog.Logger, opts Options) *Client {
	if opts.ContentType == "" {
		opts.ContentType = "application/json"
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}

	client := &Client{
		logger:    l.With(slog.String("queue", queueName)),
		queueName: queueName,
		opts:      opts,
		metrics:   opts.Metrics,
		done:      make(chan struct{}),
	}
	go client.handleReconnect(addr)
	return client
}

// QueueName returns the queue this client is bound to.
func (client *Client) QueueName() string {
	return client.queueName
}

// Ready reports whether the client currently holds an initialised channel.
func (client *Client) Ready() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()

	if client.metrics != nil {
		if ready {
			client.metrics.ConnectionStatus.Set(1)
		} else {
			client.metrics.ConnectionStatus.Set(0)
		}
	}
}

// handleReconnect waits for a connection error on notifyConnClose and then
// keeps trying to reconnect until Close is called.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		return nil, err
	}

	client.m.Lock()
	client.connection = conn
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
	client.m.Unlock()

	client.logger.Info("connected")
	return conn, nil
}

// handleReInit re-initialises the channel after channel errors. It returns
// true when the client is closing and false when the connection dropped.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

// init opens a confirm-mode channel and declares the queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		client.queueName,
		client.opts.Durable,
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	client.m.Lock()
	client.channel = ch
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
	client.m.Unlock()

	client.setReady(true)
	client.logger.Info("client init done")
	return nil
}

// Push publishes data and blocks until the broker confirms it. While the
// client is disconnected, or when a publish is nacked, it retries with
// exponential backoff up to maxRetryAttempts.
func (client *Client) Push(ctx context.Context, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PushDuration.WithLabelValues(client.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	wait := func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.done:
			return ErrShutdown
		case <-time.After(backoff):
		}
		backoff = min(backoff*backoffMultiplier, maxBackoff)
		return nil
	}

	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded", "attempts", attempt)
			client.countFailure("max_retries_exceeded")
			return ErrMaxRetriesExceeded
		}

		if !client.Ready() {
			client.logger.Info("not connected, waiting for reconnection", "backoff", backoff, "attempt", attempt)
			if err := wait(); err != nil {
				client.countFailure("context_canceled")
				return err
			}
			continue
		}

		if err := client.UnsafePush(ctx, data); err != nil {
			client.logger.Error("push failed, retrying with backoff", "error", err, "backoff", backoff, "attempt", attempt)
			if err := wait(); err != nil {
				client.countFailure("context_canceled")
				return err
			}
			continue
		}

		client.m.Lock()
		confirms := client.notifyConfirm
		client.m.Unlock()

		select {
		case <-ctx.Done():
			client.countFailure("context_canceled")
			return ctx.Err()
		case confirm := <-confirms:
			if confirm.Ack {
				if client.metrics != nil {
					client.metrics.MessagesPushed.WithLabelValues(client.queueName).Inc()
				}
				client.logger.Debug("push confirmed", "delivery_tag", confirm.DeliveryTag, "attempt", attempt)
				return nil
			}
			client.logger.Warn("push not acknowledged, retrying", "delivery_tag", confirm.DeliveryTag, "backoff", backoff)
			if err := wait(); err != nil {
				client.countFailure("context_canceled")
				return err
			}
		}
	}
}

func (client *Client) countFailure(reason string) {
	if client.metrics != nil {
		client.metrics.PushFailures.WithLabelValues(client.queueName, reason).Inc()
	}
}

// UnsafePush publishes without waiting for a confirmation.
func (client *Client) UnsafePush(ctx context.Context, data []byte) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return ErrNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	mode := amqp.Transient
	if client.opts.Durable {
		mode = amqp.Persistent
	}

	return ch.PublishWithContext(
		ctx,
		"",               // default exchange
		client.queueName, // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType:  client.opts.ContentType,
			DeliveryMode: mode,
			Timestamp:    time.Now().UTC(),
			Body:         data,
		},
	)
}

// Consume starts a manual-ack consumer on the queue. Every delivery must be
// acked or nacked by the caller.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return nil, ErrNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	if err := ch.Qos(client.opts.Prefetch, 0, false); err != nil {
		return nil, err
	}

	return ch.Consume(
		client.queueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}

// Close shuts down the channel and the connection.
func (client *Client) Close() error {
	client.m.Lock()
	defer client.m.Unlock()

	if !client.isReady {
		select {
		case <-client.done:
		default:
			close(client.done)
		}
		return ErrAlreadyClosed
	}

	close(client.done)
	if err := client.channel.Close(); err != nil {
		return err
	}
	if err := client.connection.Close(); err != nil {
		return err
	}

	client.isReady = false
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}
	return nil
}

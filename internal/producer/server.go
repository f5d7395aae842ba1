package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/alertnav/pkg/generator"
	"procodus.dev/alertnav/pkg/metrics"
	"procodus.dev/alertnav/pkg/mq"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger.
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ.
	RabbitMQURL string
	// QueueName is the queue readings are published to.
	QueueName string
	// Interval is the time between two readings of one producer.
	Interval time.Duration
	// ProducerCount is the number of concurrent producers.
	ProducerCount int
	// Area bounds the simulated devices.
	Area generator.Area
	// Owner is stamped on every reading when set.
	Owner string
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.ProducerMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations.
	MQMetrics *metrics.MQMetrics
	// NewPublisher overrides how each producer's publisher is created.
	// Defaults to a reconnecting mq.Client per producer.
	NewPublisher func(id int) mq.Publisher
}

// Server runs a pool of producers on a fixed interval.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	producers  []*Producer
	publishers []mq.Publisher
	wg         sync.WaitGroup
	closeOnce  sync.Once
	metrics    *metrics.ProducerMetrics
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
)

// NewServer creates a simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.Area.RadiusKm <= 0 {
		cfg.Area = generator.DefaultArea()
	}

	newPublisher := cfg.NewPublisher
	if newPublisher == nil {
		newPublisher = func(id int) mq.Publisher {
			opts := mq.DefaultOptions()
			opts.Metrics = cfg.MQMetrics
			return mq.New(cfg.QueueName, cfg.RabbitMQURL, cfg.Logger.With(
				slog.String("component", "mq-client"),
				slog.Int("producer_id", id),
			), opts)
		}
	}

	s := &Server{
		logger:     cfg.Logger,
		config:     cfg,
		producers:  make([]*Producer, 0, cfg.ProducerCount),
		publishers: make([]mq.Publisher, 0, cfg.ProducerCount),
		metrics:    cfg.Metrics,
	}

	for i := range cfg.ProducerCount {
		publisher := newPublisher(i)
		s.publishers = append(s.publishers, publisher)

		producer, err := NewProducer(publisher, cfg.Area, cfg.Owner, cfg.Metrics)
		if err != nil {
			s.closePublishers()
			return nil, fmt.Errorf("failed to create producer %d: %w", i, err)
		}
		s.producers = append(s.producers, producer)

		s.logger.Info("created producer instance",
			"producer_id", i,
			"queue", cfg.QueueName,
			"device_count", len(producer.Devices()),
		)
	}

	return s, nil
}

// Producers returns the producer instances.
func (s *Server) Producers() []*Producer {
	return s.producers
}

// Run starts all producers and blocks until ctx is canceled or a shutdown
// signal arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for i, producer := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, i, producer)
	}

	s.logger.Info("generator started",
		"producer_count", len(s.producers),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.wg.Wait()
	s.closePublishers()

	s.logger.Info("generator stopped")
	return nil
}

func (s *Server) runProducer(ctx context.Context, id int, producer *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log := s.logger.With(slog.Int("producer_id", id))
	log.Info("producer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("producer shutting down")
			return
		case <-ticker.C:
			if err := producer.Publish(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("failed to publish reading", "error", err)
				continue
			}
			log.Debug("reading published")
		}
	}
}

// closePublishers closes every publisher once.
func (s *Server) closePublishers() {
	s.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for i, p := range s.publishers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.Close(); err != nil && !errors.Is(err, mq.ErrAlreadyClosed) {
					s.logger.Error("failed to close MQ client", "producer_id", i, "error", err)
					return
				}
				s.logger.Debug("MQ client closed", "producer_id", i)
			}()
		}
		wg.Wait()
	})
}

// Shutdown closes all publishers without waiting for Run.
func (s *Server) Shutdown() error {
	s.logger.Info("shutdown requested")
	s.closePublishers()
	return nil
}

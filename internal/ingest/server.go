package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/pkg/metrics"
	"procodus.dev/alertnav/pkg/mq"
)

// HealthService is the service name reported on the gRPC health endpoint in
// addition to the overall server status.
const HealthService = "alertnav.ingest"

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// DB configures the connection pool. Its Logger defaults to Logger.
	DB store.DBConfig

	// RabbitMQ configuration
	RabbitMQURL string
	QueueName   string

	// GRPCPort serves grpc.health.v1.Health.
	GRPCPort int
	// MetricsPort serves /metrics when positive.
	MetricsPort int

	// Optional collectors.
	Metrics      *metrics.IngestMetrics
	MQMetrics    *metrics.MQMetrics
	StoreMetrics *metrics.StoreMetrics

	// NewSource overrides how the queue client is created.
	NewSource func() mq.Consumer
	// Readings overrides the reading store. No database is opened when set.
	Readings ReadingCreator
}

// Server wires the database, the queue consumer and the health endpoint.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	db         *gorm.DB
	consumer   *Consumer
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if cfg.DB.Host == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DB.Port <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DB.User == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DB.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	if cfg.DB.Logger == nil {
		cfg.DB.Logger = cfg.Logger
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
		health: health.NewServer(),
	}, nil
}

// Health returns the health service so callers can inspect serving status.
func (s *Server) Health() *health.Server {
	return s.health
}

// Run starts the ingestion server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting ingest server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// A signal cancels ctx so startup, including the wait for the broker, stops too.
	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	s.logger.Info("starting gRPC health server", "address", grpcAddr)

	grpcErr := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			grpcErr <- fmt.Errorf("gRPC server error: %w", err)
		}
		close(grpcErr)
	}()

	if s.config.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf(":%d", s.config.MetricsPort)
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, s.logger); err != nil {
				s.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	readings := s.config.Readings
	if readings == nil {
		db, err := store.NewDB(&s.config.DB)
		if err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		s.db = db
		readings = store.NewReadingStore(db, s.config.StoreMetrics)
	}

	newSource := s.config.NewSource
	if newSource == nil {
		newSource = func() mq.Consumer {
			return mq.New(s.config.QueueName, s.config.RabbitMQURL,
				s.logger.With(slog.String("component", "mq-client")),
				mq.Options{
					Durable:  true,
					Prefetch: 1,
					Metrics:  s.config.MQMetrics,
				})
		}
	}
	source := newSource()

	consumer, err := NewConsumer(&ConsumerConfig{
		Logger:   s.logger.With(slog.String("component", "consumer")),
		Source:   source,
		Readings: readings,
		Metrics:  s.config.Metrics,
	})
	if err != nil {
		_ = source.Close()
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}
	s.consumer = consumer

	if err := s.consumer.Start(ctx); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("shutdown requested before the consumer started")
			return s.Shutdown()
		}
		_ = s.Shutdown()
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("ingest server started successfully", "queue", s.config.QueueName)

	select {
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-grpcErr:
		if err != nil {
			s.logger.Error("gRPC server error", "error", err)
			cancel()
			_ = s.Shutdown()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server. It is safe to call on a server
// that never ran.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down ingest server")

	var shutdownErr error

	s.health.Shutdown()

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.grpcServer = nil
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("consumer shutdown error: %w", err))
		}
		s.consumer = nil
	}

	if s.db != nil {
		if err := store.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("database close error: %w", err))
		}
		s.db = nil
	}

	if shutdownErr != nil {
		s.logger.Error("ingest server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("ingest server shutdown completed successfully")
	return nil
}

// Package web serves the AlertNAV map, its JSON API and the session gate.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"procodus.dev/alertnav/internal/session"
	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/pkg/metrics"
)

// UserStore is the user persistence the handlers need.
type UserStore interface {
	UpsertLogin(ctx context.Context, email string) (*store.User, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
}

// ReadingStore is the reading persistence the handlers need.
type ReadingStore interface {
	LatestPerDevice(ctx context.Context, owner string) ([]store.LatestReading, error)
	ReadingByID(ctx context.Context, id uint) (*store.LocationReading, error)
	UpdateClassification(ctx context.Context, id uint, event, group string) (*store.LocationReading, error)
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger   *slog.Logger
	Users    UserStore
	Readings ReadingStore
	Sessions *session.Manager

	// HTTP server configuration
	HTTPPort int

	// DataScope selects the GET /api/data variant.
	DataScope DataScope
	// Map configures the map page.
	Map MapConfig
	// LoginRateLimit is the number of login attempts allowed per client IP
	// per minute. Zero disables the limit.
	LoginRateLimit int

	// Metrics is optional.
	Metrics *metrics.HTTPMetrics
}

// Server is the AlertNAV HTTP server.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	users      UserStore
	readings   ReadingStore
	sessions   *session.Manager
	metrics    *metrics.HTTPMetrics
	validate   *validator.Validate
	handler    http.Handler
	httpServer *http.Server
}

// NewServer validates cfg and builds the routes.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.Users == nil || cfg.Readings == nil {
		return nil, errors.New("user and reading stores cannot be nil")
	}

	if cfg.Sessions == nil {
		return nil, errors.New("session manager cannot be nil")
	}

	if cfg.DataScope == "" {
		cfg.DataScope = ScopeOwner
	}
	if cfg.DataScope != ScopeOwner && cfg.DataScope != ScopeAll {
		return nil, fmt.Errorf("unknown data scope %q", cfg.DataScope)
	}

	defaults := DefaultMapConfig()
	if cfg.Map.FallbackLat == 0 && cfg.Map.FallbackLon == 0 {
		cfg.Map.FallbackLat, cfg.Map.FallbackLon = defaults.FallbackLat, defaults.FallbackLon
	}
	if cfg.Map.PollInterval <= 0 || cfg.Map.Zoom <= 0 {
		if cfg.Map.PollInterval <= 0 {
			cfg.Map.PollInterval = defaults.PollInterval
		}
		if cfg.Map.Zoom <= 0 {
			cfg.Map.Zoom = defaults.Zoom
		}
	}

	s := &Server{
		logger:   cfg.Logger,
		config:   cfg,
		users:    cfg.Users,
		readings: cfg.Readings,
		sessions: cfg.Sessions,
		metrics:  cfg.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.handler = s.gate(s.metrics.Middleware(s.setupRoutes()))

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	var login http.Handler = http.HandlerFunc(s.handleLogin)
	if s.config.LoginRateLimit > 0 {
		login = httprate.Limit(
			s.config.LoginRateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				s.countLogin("rate_limited")
				s.writeError(w, http.StatusTooManyRequests, "Too many login attempts")
			}),
		)(login)
	}
	mux.Handle("POST /api/auth/login", login)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)

	mux.HandleFunc("GET /api/data", s.handleListLatest)
	mux.HandleFunc("GET /api/data/{id}", s.handleGetReading)
	mux.HandleFunc("PUT /api/data/{id}", s.handleUpdateReading)

	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("GET /edit/{id}", s.handleEditPage)
	mux.Handle("GET /static/", staticHandler())

	mux.HandleFunc("GET /{$}", s.handleIndex)

	return mux
}

// Run starts the HTTP server and blocks until ctx is canceled, a shutdown
// signal arrives or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting web server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"address", s.httpServer.Addr,
		"data_scope", s.config.DataScope,
	)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down web server")

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown HTTP server", "error", err)
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("web server shutdown completed successfully")
	return nil
}

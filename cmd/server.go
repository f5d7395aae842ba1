package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/alertnav/internal/session"
	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/internal/web"
	"procodus.dev/alertnav/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the web server",
	Long: `Run the web server that:
- Serves the live map, login and edit pages
- Signs users in by email and keeps a session cookie
- Serves the latest position of every device as JSON
- Lets signed-in users reclassify a reading`,
	RunE: runServer,
}

var serverFlagBindings = withBindings(dbFlagBindings, map[string]string{
	"server.http.port":        "http-port",
	"server.data.scope":       "data-scope",
	"server.login_rate_limit": "login-rate-limit",
	"session.store":           "session-store",
	"db.auto_migrate":         "auto-migrate",
})

func init() {
	rootCmd.AddCommand(serverCmd)

	addDBFlags(serverCmd)
	serverCmd.Flags().Int("http-port", 8080, "HTTP server port")
	serverCmd.Flags().String("data-scope", string(web.ScopeOwner), "readings listed by /api/data (owner, all)")
	serverCmd.Flags().Int("login-rate-limit", 10, "login attempts per client IP per minute (0 disables)")
	serverCmd.Flags().String("session-store", "cookie", "session backend (cookie, redis)")
	serverCmd.Flags().Bool("auto-migrate", false, "create or update the schema on startup")

	serverCmd.PreRunE = bindFlags(serverFlagBindings)
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting web server")

	scope, err := web.ParseDataScope(viper.GetString("server.data.scope"))
	if err != nil {
		return err
	}

	dbCfg := dbConfig(logger)
	db, err := store.NewDB(&dbCfg)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	sessionStore, closeStore, err := newSessionStore(logger)
	if err != nil {
		logger.Error("failed to initialize session store", "error", err)
		return err
	}
	defer closeStore()

	maxAge := viper.GetDuration("session.max_age")
	sessions, err := session.NewManager(sessionStore, maxAge, viper.GetBool("session.secure"))
	if err != nil {
		return err
	}

	storeMetrics := metrics.NewStoreMetrics(nil)

	config := &web.ServerConfig{
		Logger:    logger,
		Users:     store.NewUserStore(db, storeMetrics),
		Readings:  store.NewReadingStore(db, storeMetrics),
		Sessions:  sessions,
		HTTPPort:  viper.GetInt("server.http.port"),
		DataScope: scope,
		Map: web.MapConfig{
			FallbackLat:  viper.GetFloat64("server.map.fallback_lat"),
			FallbackLon:  viper.GetFloat64("server.map.fallback_lon"),
			Zoom:         viper.GetInt("server.map.zoom"),
			PollInterval: viper.GetDuration("server.map.poll_interval"),
		},
		LoginRateLimit: viper.GetInt("server.login_rate_limit"),
		Metrics:        metrics.NewHTTPMetrics(nil),
	}

	server, err := web.NewServer(config)
	if err != nil {
		logger.Error("failed to create web server", "error", err)
		return err
	}

	logger.Info("web server configuration",
		"http_port", config.HTTPPort,
		"data_scope", config.DataScope,
		"session_store", viper.GetString("session.store"),
		"login_rate_limit", config.LoginRateLimit,
		"db_host", dbCfg.Host,
		"db_name", dbCfg.DBName,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("web server error", "error", err)
		return err
	}

	logger.Info("web server stopped")
	return nil
}

// newSessionStore builds the configured session backend. The returned
// function releases its resources.
func newSessionStore(logger *slog.Logger) (session.Store, func(), error) {
	maxAge := viper.GetDuration("session.max_age")

	switch kind := viper.GetString("session.store"); kind {
	case "", "cookie":
		hashKey, err := sessionKey("session.hash_key")
		if err != nil {
			return nil, nil, err
		}
		if hashKey == nil {
			logger.Warn("session.hash_key not set, generating a random key; sessions will not survive a restart")
			hashKey = securecookie.GenerateRandomKey(32)
		}
		blockKey, err := sessionKey("session.block_key")
		if err != nil {
			return nil, nil, err
		}
		s, err := session.NewCookieStore(hashKey, blockKey, maxAge)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("session.redis.addr"),
			Password: viper.GetString("session.redis.password"),
			DB:       viper.GetInt("session.redis.db"),
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}

		s, err := session.NewRedisStore(client, maxAge)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}
		return s, closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown session store %q (want cookie or redis)", kind)
	}
}

// sessionKey decodes a hex encoded key. An empty value yields nil.
func sessionKey(key string) ([]byte, error) {
	v := viper.GetString(key)
	if v == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex encoded: %w", key, err)
	}
	return b, nil
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/pkg/logger"
)

// envFiles are loaded in order before viper reads the environment. Values
// already set in the environment, or by an earlier file, win.
var envFiles = []string{".env.local", ".env"}

// InitConfig initializes Viper configuration.
// It supports reading from .env files, config files (config.yaml) and
// environment variables prefixed with ALERTNAV_.
func InitConfig(cfgFile string) error {
	if err := loadEnvFiles(envFiles...); err != nil {
		return err
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/alertnav/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/alertnav/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	setDefaults()

	// Environment variables
	viper.SetEnvPrefix("ALERTNAV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// loadEnvFiles loads each file that exists. Missing files are skipped.
func loadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// setDefaults covers keys that have no command line flag.
func setDefaults() {
	viper.SetDefault("log.add_source", false)

	viper.SetDefault("db.max_open_conns", 25)
	viper.SetDefault("db.max_idle_conns", 10)
	viper.SetDefault("db.conn_max_lifetime", time.Hour)

	viper.SetDefault("session.max_age", 7*24*time.Hour)
	viper.SetDefault("session.secure", false)
	viper.SetDefault("session.hash_key", "")
	viper.SetDefault("session.block_key", "")
	viper.SetDefault("session.redis.addr", "localhost:6379")
	viper.SetDefault("session.redis.password", "")
	viper.SetDefault("session.redis.db", 0)

	viper.SetDefault("server.map.fallback_lat", 39.9612)
	viper.SetDefault("server.map.fallback_lon", -82.9988)
	viper.SetDefault("server.map.zoom", 13)
	viper.SetDefault("server.map.poll_interval", 5*time.Second)
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.New(&logger.Config{
		Output:    os.Stdout,
		Format:    logger.ParseFormat(viper.GetString("log.format")),
		Level:     logger.ParseLevel(viper.GetString("log.level")),
		AddSource: viper.GetBool("log.add_source"),
	})
}

// bindFlags returns a PreRunE that binds the named flags of cmd to viper
// keys. Binding happens only for the command being run, so commands may
// share keys without overwriting each other's flags.
func bindFlags(bindings map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		for key, name := range bindings {
			flag := cmd.Flags().Lookup(name)
			if flag == nil {
				return fmt.Errorf("unknown flag %q for key %s", name, key)
			}
			if err := viper.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("failed to bind %s flag: %w", name, err)
			}
		}
		return nil
	}
}

// dbFlagBindings maps viper keys to the flags added by addDBFlags.
var dbFlagBindings = map[string]string{
	"db.host":     "db-host",
	"db.port":     "db-port",
	"db.user":     "db-user",
	"db.password": "db-password",
	"db.name":     "db-name",
	"db.sslmode":  "db-sslmode",
}

func addDBFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("db-host", "localhost", "PostgreSQL host")
	flags.Int("db-port", 5432, "PostgreSQL port")
	flags.String("db-user", "postgres", "PostgreSQL user")
	flags.String("db-password", "", "PostgreSQL password")
	flags.String("db-name", "alertnav", "PostgreSQL database name")
	flags.String("db-sslmode", "disable", "PostgreSQL SSL mode")
}

func withBindings(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, set := range sets {
		maps.Copy(out, set)
	}
	return out
}

// dbConfig builds the database configuration from viper.
func dbConfig(l *slog.Logger) store.DBConfig {
	return store.DBConfig{
		Logger:          l,
		Host:            viper.GetString("db.host"),
		Port:            viper.GetInt("db.port"),
		User:            viper.GetString("db.user"),
		Password:        viper.GetString("db.password"),
		DBName:          viper.GetString("db.name"),
		SSLMode:         viper.GetString("db.sslmode"),
		MaxOpenConns:    viper.GetInt("db.max_open_conns"),
		MaxIdleConns:    viper.GetInt("db.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("db.conn_max_lifetime"),
		AutoMigrate:     viper.GetBool("db.auto_migrate"),
	}
}

// Package testinfra starts throwaway service containers for integration tests.
package testinfra

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresConfig holds configuration for the PostgreSQL container.
type PostgresConfig struct {
	// User is the PostgreSQL username (default: postgres)
	User string
	// Password is the PostgreSQL password (default: postgres)
	Password string
	// Database is the database name (default: alertnav)
	Database string
}

// Postgres is a running PostgreSQL container.
type Postgres struct {
	Container testcontainers.Container
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
}

// StartPostgres starts a PostgreSQL container and waits until it accepts connections.
func StartPostgres(ctx context.Context, config *PostgresConfig) (*Postgres, error) {
	if config == nil {
		config = &PostgresConfig{}
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Password == "" {
		config.Password = "postgres"
	}
	if config.Database == "" {
		config.Database = "alertnav"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			),
			Env: map[string]string{
				"POSTGRES_USER":     config.User,
				"POSTGRES_PASSWORD": config.Password,
				"POSTGRES_DB":       config.Database,
			},
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "5432/tcp")
	if err != nil {
		return nil, err
	}

	return &Postgres{
		Container: container,
		Host:      host,
		Port:      port,
		User:      config.User,
		Password:  config.Password,
		Database:  config.Database,
	}, nil
}

// Terminate stops and removes the container.
func (p *Postgres) Terminate(ctx context.Context) error {
	return p.Container.Terminate(ctx)
}

// endpoint resolves the host and mapped port of a started container. The
// container is terminated when resolution fails.
func endpoint(ctx context.Context, container testcontainers.Container, port nat.Port) (string, int, error) {
	host, err := container.Host(ctx)
	if err != nil {
		if termErr := container.Terminate(ctx); termErr != nil {
			return "", 0, fmt.Errorf("failed to get container host: %w (cleanup error: %w)", err, termErr)
		}
		return "", 0, fmt.Errorf("failed to get container host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		if termErr := container.Terminate(ctx); termErr != nil {
			return "", 0, fmt.Errorf("failed to get container port: %w (cleanup error: %w)", err, termErr)
		}
		return "", 0, fmt.Errorf("failed to get container port: %w", err)
	}

	return host, mapped.Int(), nil
}

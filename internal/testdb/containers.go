//go:build integration

// Package testdb starts throwaway database containers for integration tests.
package testdb

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/db"
)

const (
	PostgresImage = "postgres:16-alpine"
	PgVectorImage = "pgvector/pgvector:pg16"
	MySQLImage    = "mysql:8.0"
)

// Instance is a running database container plus an open connector to it.
type Instance struct {
	Container testcontainers.Container
	Conn      *db.Connector
	Config    config.DatabaseConfig
	Username  string
	Password  string
}

// StartPostgres runs image (postgres or pgvector) and connects to it.
func StartPostgres(ctx context.Context, t *testing.T, image string) *Instance {
	t.Helper()
	const (
		dbName = "replica"
		user   = "replica"
		pass   = "replica-pass"
	)
	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       dbName,
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": pass,
		},
		// Postgres logs readiness twice: once for the init server, once for the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}
	return start(ctx, t, req, "5432/tcp", config.DatabaseConfig{Dialect: "postgres", DBName: dbName, SSLMode: "disable"}, user, pass)
}

// StartMySQL runs a MySQL 8 container and connects to it.
func StartMySQL(ctx context.Context, t *testing.T) *Instance {
	t.Helper()
	const (
		dbName = "source"
		user   = "source"
		pass   = "source-pass"
	)
	req := testcontainers.ContainerRequest{
		Image:        MySQLImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      dbName,
			"MYSQL_USER":          user,
			"MYSQL_PASSWORD":      pass,
			"MYSQL_ROOT_PASSWORD": "r00t-pass",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(120 * time.Second),
	}
	return start(ctx, t, req, "3306/tcp", config.DatabaseConfig{Dialect: "mysql", DBName: dbName, SSLMode: "disable"}, user, pass)
}

func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port nat.Port,
	dbCfg config.DatabaseConfig, user, pass string) *Instance {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start %s container", req.Image)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate %s container: %v", req.Image, err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	dbCfg.Host = host
	dbCfg.Port = mustPortInt(t, mapped)
	dbCfg.User = user

	// MySQL accepts TCP before the user grants are applied, so retry.
	conn, err := db.ConnectWithRetry(ctx, dbCfg, user, pass, db.RetryOptions{
		MaxRetries:    10,
		RetryInterval: 2 * time.Second,
		Label:         dbCfg.Dialect,
		GormLogger:    gormlogger.Discard,
	})
	require.NoError(t, err, "failed to connect to %s container", req.Image)
	t.Cleanup(func() { _ = conn.Close() })

	t.Logf("%s container started at %s:%d", req.Image, host, dbCfg.Port)
	return &Instance{Container: container, Conn: conn, Config: dbCfg, Username: user, Password: pass}
}

func mustPortInt(t *testing.T, port nat.Port) int {
	t.Helper()
	p, err := strconv.Atoi(port.Port())
	require.NoError(t, err, "invalid mapped port %s", port)
	return p
}

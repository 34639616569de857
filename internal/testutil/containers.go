package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/config"
	"github.com/SergeiKhy/shortlink-core/internal/migrations"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// Env is a migrated Postgres plus a Redis, both running in containers.
type Env struct {
	DB    *repository.PostgresDB
	Redis *repository.RedisDB
}

// SetupEnv starts the containers and applies the embedded migrations.
// Callers skip it under -short.
func SetupEnv(t *testing.T) *Env {
	t.Helper()

	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("shortlink"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	rc, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })

	dbHost, err := pg.Host(ctx)
	require.NoError(t, err)
	dbPort, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	redisHost, err := rc.Host(ctx)
	require.NoError(t, err)
	redisPort, err := rc.MappedPort(ctx, "6379")
	require.NoError(t, err)

	dbCfg := config.DBConfig{
		Host:     dbHost,
		Port:     dbPort.Port(),
		User:     "user",
		Password: "password",
		Name:     "shortlink",
		MaxConns: 5,
		MinConns: 1,
	}
	require.NoError(t, migrations.Run(dbCfg.DSN(), zap.NewNop()))

	db, err := repository.NewPostgresDB(dbCfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	redisDB, err := repository.NewRedisClient(config.RedisConfig{
		Host: redisHost,
		Port: redisPort.Port(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisDB.Close() })

	return &Env{DB: db, Redis: redisDB}
}

// StartNATS runs a JetStream-enabled NATS server and returns its client URL.
func StartNATS(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return "nats://" + host + ":" + port.Port()
}

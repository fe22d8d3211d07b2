package testutil

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nkiryanov/devauth/internal/db"
)

type PostgresContainer struct {
	DSN  string
	Pool *pgxpool.Pool
}

// Start postgres with users and sessions schema applied
// Container and pool are closed when the test ends
func StartPostgresContainer(t *testing.T) PostgresContainer {
	t.Helper()

	container, err := postgres.Run(t.Context(),
		"postgres:17-alpine",
		postgres.WithDatabase("devauth-test"),
		postgres.WithUsername("devauth"),
		postgres.WithPassword("pwd"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "Error happened when starting container with postgres, is docker running?")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err, "Error happened when getting connection string from container with postgres")

	pool, err := db.Open(t.Context(), dsn, 0)
	require.NoError(t, err, "Error happened when connecting to postgres and migrating schema")
	t.Cleanup(pool.Close)

	return PostgresContainer{DSN: dsn, Pool: pool}
}

type beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Run testFunc within transaction rolled back afterwards, so rows written by one test are invisible to others
func WithTx(t *testing.T, conn beginner, testFunc func(tx pgx.Tx)) {
	t.Helper()

	tx, err := conn.Begin(t.Context())
	require.NoError(t, err)

	defer func() {
		require.NoError(t, tx.Rollback(context.Background()))
	}()

	testFunc(tx)
}

type RedisServer struct {
	Server *miniredis.Miniredis
	Client *redis.Client
}

// Start in-process redis and client connected to it
// Both closed when test ends
func StartRedis(t *testing.T) RedisServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return RedisServer{Server: mr, Client: client}
}

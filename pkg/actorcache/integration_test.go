//go:build integration

package actorcache

import (
	"context"
	"testing"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestDirectoryBehindRedis(t *testing.T) {
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("users"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.MustExecContext(ctx, `CREATE TABLE users (id bigserial PRIMARY KEY, first_name text, last_name text, username text NOT NULL)`)
	db.MustExecContext(ctx, `INSERT INTO users (first_name, last_name, username) VALUES ('Ada', 'Lovelace', 'ada'), (NULL, NULL, 'grace')`)

	rc, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })
	addr, err := rc.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	cache := NewRedisCache(client, NewSQLUserDirectory(db, ""), time.Minute, zerolog.Nop())

	name, err := cache.DisplayName(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)
	cached, err := client.Get(ctx, DefaultPrefix+"1").Result()
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", cached)

	name, err = cache.DisplayName(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "grace", name)

	_, err = cache.DisplayName(ctx, "99")
	assert.ErrorIs(t, err, versioning.ErrNotFound)
}

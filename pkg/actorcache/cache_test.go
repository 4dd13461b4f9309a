package actorcache

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	values  map[string]string
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func (f *fakeStore) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.values[key] = value.(string)
	f.lastTTL = expiration
	return redis.NewStatusResult("OK", nil)
}

func countingResolver(calls *int, name string, err error) versioning.DisplayNameFunc {
	return func(ctx context.Context, actorID string) (string, error) {
		*calls++
		return name, err
	}
}

func TestRedisCacheResolvesOnce(t *testing.T) {
	store := &fakeStore{values: map[string]string{}}
	calls := 0
	cache := NewRedisCache(store, countingResolver(&calls, "Ada Lovelace", nil), 0, zerolog.Nop())

	for i := 0; i < 3; i++ {
		name, err := cache.DisplayName(context.Background(), "17")
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", name)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Ada Lovelace", store.values["versioning:actor:17"])
	assert.Equal(t, DefaultTTL, store.lastTTL)
}

func TestRedisCacheFallsThroughOnRedisErrors(t *testing.T) {
	store := &fakeStore{values: map[string]string{}, getErr: errors.New("connection refused"), setErr: errors.New("connection refused")}
	calls := 0
	cache := NewRedisCache(store, countingResolver(&calls, "Grace Hopper", nil), time.Minute, zerolog.Nop())

	name, err := cache.DisplayName(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", name)
	assert.Equal(t, 1, calls)
}

func TestRedisCacheResolverError(t *testing.T) {
	store := &fakeStore{values: map[string]string{}}
	calls := 0
	cache := NewRedisCache(store, countingResolver(&calls, "", versioning.ErrNotFound), time.Minute, zerolog.Nop())

	_, err := cache.DisplayName(context.Background(), "404")
	assert.ErrorIs(t, err, versioning.ErrNotFound)
	assert.Empty(t, store.values)
}

func TestFullName(t *testing.T) {
	valid := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

	assert.Equal(t, "Ada Lovelace", fullName(userRow{FirstName: valid("Ada"), LastName: valid("Lovelace"), Username: valid("ada")}))
	assert.Equal(t, "Ada", fullName(userRow{FirstName: valid("Ada"), Username: valid("ada")}))
	assert.Equal(t, "ada", fullName(userRow{FirstName: valid(" "), Username: valid("ada")}))
}

func TestRedisCachePrefix(t *testing.T) {
	store := &fakeStore{values: map[string]string{"tenant-a:7": "Cached Name"}}
	calls := 0
	cache := NewRedisCache(store, countingResolver(&calls, "Resolved", nil), 0, zerolog.Nop()).WithPrefix("tenant-a:")

	name, err := cache.DisplayName(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Cached Name", name)
	assert.Zero(t, calls)
}

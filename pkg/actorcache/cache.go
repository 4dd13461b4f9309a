package actorcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL    = 15 * time.Minute
	DefaultPrefix = "versioning:actor:"
)

// Store is the subset of the redis client the cache uses
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache fronts a display name resolver with redis.
// Cache failures are logged and fall through to the resolver.
type RedisCache struct {
	store  Store
	next   versioning.DisplayNameResolver
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewRedisCache wraps next. A zero ttl uses DefaultTTL.
func NewRedisCache(store Store, next versioning.DisplayNameResolver, ttl time.Duration, log zerolog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		store:  store,
		next:   next,
		ttl:    ttl,
		prefix: DefaultPrefix,
		log:    log,
	}
}

// WithPrefix sets the key prefix; an empty prefix keeps the current one
func (c *RedisCache) WithPrefix(prefix string) *RedisCache {
	if prefix != "" {
		c.prefix = prefix
	}
	return c
}

func (c *RedisCache) key(actorID string) string {
	return c.prefix + actorID
}

// DisplayName returns the cached name of actorID or resolves and caches it
func (c *RedisCache) DisplayName(ctx context.Context, actorID string) (string, error) {
	name, err := c.store.Get(ctx, c.key(actorID)).Result()
	switch {
	case err == nil:
		return name, nil
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("actor", actorID).Msg("actor cache read failed")
	}

	name, err = c.next.DisplayName(ctx, actorID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve actor %s: %w", actorID, err)
	}
	if err := c.store.Set(ctx, c.key(actorID), name, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("actor", actorID).Msg("actor cache write failed")
	}
	return name, nil
}

package redisconnect

import (
	"context"
	"fmt"

	nrredis "github.com/newrelic/go-agent/v3/integrations/nrredis-v9"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the redis connection settings
type RedisConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     string `yaml:"port" validate:"required,numeric"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0,lte=15"`
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func ConnectRedis(config RedisConfig) (redisClient *redis.Client, err error) {
	return ConnectRedisContext(context.Background(), config)
}

// ConnectRedisContext creates an instrumented client and pings it within ctx
func ConnectRedisContext(ctx context.Context, config RedisConfig) (redisClient *redis.Client, err error) {
	opts := &redis.Options{
		Addr:     config.Addr(),
		Password: config.Password,
		DB:       config.DB,
	}
	redisClient = redis.NewClient(
		opts,
	)
	redisClient.AddHook(nrredis.NewHook(opts))

	err = redisClient.Ping(ctx).Err()
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", config.Addr(), err)
	}
	return
}

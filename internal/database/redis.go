package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/lucidbank/backend/internal/config"
)

// InitRedis connects the client shared by the session directory, the message
// bus and the audit queue. Unlike the database, redis is mandatory here: an
// instance without it cannot route cross-instance notifications.
func InitRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return rdb, nil
}

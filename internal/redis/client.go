package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/card-lobby/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	connectAttempts = 3
	retryInterval   = 2 * time.Second
)

// Connect builds a client and pings it, retrying a few times while Redis
// comes up. The caller owns the returned client and must Close it.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for i := 1; i <= connectAttempts; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			logger.Info("redis connection established", zap.String("addr", cfg.Addr()))
			return client, nil
		}
		logger.Warn("redis ping failed", zap.Int("attempt", i), zap.Error(err))

		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to Redis: %w", err)
}

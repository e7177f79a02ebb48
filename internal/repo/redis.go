package repo

import (
	"context"
	"fmt"

	"woodland-client/internal/config"
	"woodland-client/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func OpenRedis(ctx context.Context, conf config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Log.Info("redis cache ready", zap.String("addr", conf.Addr))
	return rdb, nil
}

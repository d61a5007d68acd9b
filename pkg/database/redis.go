package database

import (
	"context"
	"edurefund_backend/internal/config"
	"edurefund_backend/pkg/logger"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// InitRedis 建立连接并 Ping；报名存储对 Redis 的每次调用另有 store.timeout 限制
func InitRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		// WATCH/MULTI 冲突由报名存储自行重试，这里只重试网络错误
		MaxRetries: 2,
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 50
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	logger.Log.Info("Redis connection established",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("poolSize", opts.PoolSize))
	return rdb, nil
}

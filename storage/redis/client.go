package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"DeadManSwitch/config"
	"DeadManSwitch/pkg/logger"
	redisotel "DeadManSwitch/pkg/redis"
)

const defaultPrefix = "dms"

var (
	client  *redis.Client
	once    sync.Once
	initErr error
)

// Init 连接 Redis。锁、游标和限流都经过熔断器，这里只负责连通性
func Init() error {
	once.Do(func() {
		cfg := config.Cfg
		c := redis.NewClient(options(&cfg))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			initErr = fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddr, err)
			return
		}

		if cfg.OTelEnabled {
			c.AddHook(redisotel.NewTracingHook(cfg.ServiceName, cfg.RedisDB))
			logger.Logger.Info("Redis tracing enabled", zap.Int("db", cfg.RedisDB))
		}
		client = c
	})

	return initErr
}

func options(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     cfg.SweepWorkerPoolSize + 10, // 扫描并发加上 API 限流
		MinIdleConns: 2,
		MaxRetries:   2,
	}
}

// Client 未初始化时 panic，调用方必须先 Init
func Client() *redis.Client {
	if client == nil {
		panic("redis client is not initialized")
	}
	return client
}

func Close(_ context.Context) error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}

// Key 拼接带前缀的键：dms:part1:part2，空段跳过
func Key(parts ...string) string {
	return keyWithPrefix(config.Cfg.RedisPrefix, parts...)
}

func keyWithPrefix(prefix string, parts ...string) string {
	if prefix == "" {
		prefix = defaultPrefix
	}

	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, prefix)
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, ":")
}

package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/storage/database"
	"DeadManSwitch/storage/mq"
	"DeadManSwitch/storage/redis"
)

type closer struct {
	name  string
	close func(ctx context.Context) error
}

// Close 先停消息再断缓存和数据库；未初始化的组件各自跳过
func Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := []closer{
		{name: "rabbitmq", close: func(context.Context) error { return mq.Close() }},
		{name: "redis", close: redis.Close},
		{name: "postgres", close: database.Close},
	}

	failed := 0
	for _, c := range closers {
		if err := c.close(ctx); err != nil {
			failed++
			logger.Logger.Error("Failed to close storage component",
				zap.String("component", c.name),
				zap.Error(err),
			)
		}
	}

	logger.Logger.Info("Storage connections closed", zap.Int("failed", failed))
}

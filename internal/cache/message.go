package cache

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"DeadManSwitch/storage/redis"
)

const (
	messageProcessedPrefix = "message:processed"
	processedTTL           = 48 * time.Hour
)

// MessageMarker 消费端去重：同一 message id 在 TTL 内只处理一次
type MessageMarker struct {
	client  goredis.Cmdable
	breaker *CircuitBreaker
}

func NewMessageMarker(client goredis.Cmdable, breaker *CircuitBreaker) *MessageMarker {
	return &MessageMarker{client: client, breaker: breaker}
}

// MarkProcessing 返回 false 表示已有消费者处理过（或正在处理）
func (m *MessageMarker) MarkProcessing(ctx context.Context, messageID string) (bool, error) {
	var first bool
	err := m.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		first, err = m.client.SetNX(ctx, redis.Key(messageProcessedPrefix, messageID), 1, processedTTL).Result()
		return err
	})
	return first, err
}

// Unmark 处理失败需要重投时清除标记
func (m *MessageMarker) Unmark(ctx context.Context, messageID string) error {
	return m.breaker.Call(ctx, func(ctx context.Context) error {
		return m.client.Del(ctx, redis.Key(messageProcessedPrefix, messageID)).Err()
	})
}

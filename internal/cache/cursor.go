package cache

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"DeadManSwitch/storage/redis"
)

const (
	cursorPrefix = "sweep:cursor"

	// 超过一天未续写的游标视为过期，下次从头扫描
	cursorTTL = 24 * time.Hour
)

// SweepCursor 记录扫描翻页到的最后一个 switch id，被时长上限打断的扫描下次从这里继续
type SweepCursor struct {
	client  goredis.Cmdable
	breaker *CircuitBreaker
}

func NewSweepCursor(client goredis.Cmdable, breaker *CircuitBreaker) *SweepCursor {
	return &SweepCursor{client: client, breaker: breaker}
}

// Load 没有游标时返回 0
func (c *SweepCursor) Load(ctx context.Context, sweep string) (int64, error) {
	var afterID int64
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		val, err := c.client.Get(ctx, redis.Key(cursorPrefix, sweep)).Result()
		if stderrors.Is(err, goredis.Nil) {
			afterID = 0
			return nil
		}
		if err != nil {
			return err
		}
		afterID, err = strconv.ParseInt(val, 10, 64)
		return err
	})
	return afterID, err
}

func (c *SweepCursor) Save(ctx context.Context, sweep string, afterID int64) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, redis.Key(cursorPrefix, sweep), strconv.FormatInt(afterID, 10), cursorTTL).Err()
	})
}

func (c *SweepCursor) Clear(ctx context.Context, sweep string) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, redis.Key(cursorPrefix, sweep)).Err()
	})
}

package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/response"
	"DeadManSwitch/storage/redis"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	KeyPrefix   string
	Window      time.Duration
	MaxRequests int
	// 已认证时按用户限流，否则退回到 IP
	ByUserID bool
	ByIP     bool
}

var (
	// CheckInRateLimitConfig 手动签到
	CheckInRateLimitConfig = RateLimitConfig{
		KeyPrefix:   "rate:checkin",
		Window:      time.Minute,
		MaxRequests: 10,
		ByUserID:    true,
		ByIP:        true,
	}

	// LinkCheckInRateLimitConfig 邮件签到链接不需要登录，只能按 IP
	LinkCheckInRateLimitConfig = RateLimitConfig{
		KeyPrefix:   "rate:checkin:link",
		Window:      time.Minute,
		MaxRequests: 20,
		ByIP:        true,
	}

	// SettingsRateLimitConfig 创建、修改、取消开关
	SettingsRateLimitConfig = RateLimitConfig{
		KeyPrefix:   "rate:settings",
		Window:      10 * time.Minute,
		MaxRequests: 20,
		ByUserID:    true,
	}
)

// WindowCounter 滑动窗口计数
type WindowCounter interface {
	// Hit 记录一次请求，返回窗口内（含本次）的请求数
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

// RedisWindowCounter 用 zset 实现滑动窗口，score 为请求时间
type RedisWindowCounter struct {
	client redislib.Cmdable
}

func NewRedisWindowCounter(client redislib.Cmdable) *RedisWindowCounter {
	return &RedisWindowCounter{client: client}
}

func (r *RedisWindowCounter) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	windowStart := now.Add(-window)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	// 同一纳秒内的并发请求也要计为不同成员
	pipe.ZAdd(ctx, key, redislib.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString(),
	})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+10*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to execute rate limit pipeline: %w", err)
	}
	return card.Val(), nil
}

// RateLimiter 限流器
type RateLimiter struct {
	config  RateLimitConfig
	counter WindowCounter
	now     func() time.Time
}

func NewRateLimiter(config RateLimitConfig, counter WindowCounter, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{config: config, counter: counter, now: now}
}

// key 无法识别调用方时返回空，不限流
func (rl *RateLimiter) key(ctx context.Context, c *app.RequestContext) string {
	if rl.config.ByUserID {
		if userID, ok := GetUserID(ctx, c); ok {
			return redis.Key(rl.config.KeyPrefix, "user", strconv.FormatInt(userID, 10))
		}
	}
	if rl.config.ByIP {
		if ip := c.ClientIP(); ip != "" {
			return redis.Key(rl.config.KeyPrefix, "ip", ip)
		}
	}
	return ""
}

// Handler Redis 不可用时放行：签到被限流挡住比多放几个请求代价更高
func (rl *RateLimiter) Handler() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		key := rl.key(ctx, c)
		if key == "" {
			c.Next(ctx)
			return
		}

		now := rl.now()
		count, err := rl.counter.Hit(ctx, key, rl.config.Window, now)
		if err != nil {
			logger.Logger.Warn("Rate limiter unavailable, allowing request",
				zap.String("key", key),
				zap.Error(err),
			)
			c.Next(ctx)
			return
		}

		remaining := int64(rl.config.MaxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(rl.config.MaxRequests))
		c.Response.Header.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(rl.config.Window).Unix(), 10))

		if count > int64(rl.config.MaxRequests) {
			response.Error(ctx, c, errors.RateLimited)
			c.Abort()
			return
		}

		c.Next(ctx)
	}
}

package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"DeadManSwitch/storage/redis"
)

// 分布式锁，同一时刻只有一个 scheduler 实例执行某个扫描
const lockPrefix = "lock"

// unlockScript 只删除自己持有的锁，避免过期后误删别人的锁
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client  goredis.Cmdable
	breaker *CircuitBreaker
}

func NewLocker(client goredis.Cmdable, breaker *CircuitBreaker) *Locker {
	return &Locker{client: client, breaker: breaker}
}

// TryLock 返回持有者 token，未抢到锁时 ok=false
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	owner := uuid.NewString()
	var acquired bool
	err := l.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		acquired, err = l.client.SetNX(ctx, redis.Key(lockPrefix, key), owner, ttl).Result()
		return err
	})
	if err != nil {
		return "", false, err
	}
	return owner, acquired, nil
}

func (l *Locker) Unlock(ctx context.Context, key, owner string) error {
	return l.breaker.Call(ctx, func(ctx context.Context) error {
		return unlockScript.Run(ctx, l.client, []string{redis.Key(lockPrefix, key)}, owner).Err()
	})
}

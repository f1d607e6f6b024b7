package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"DeadManSwitch/config"
)

func TestKeyWithPrefix(t *testing.T) {
	assert.Equal(t, "dms:lock:sweep:reminders", keyWithPrefix("", "lock", "sweep", "reminders"))
	assert.Equal(t, "prod:ratelimit:ip", keyWithPrefix("prod", "ratelimit", "", "ip"))
	assert.Equal(t, "dms", keyWithPrefix(""))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := options(&config.Config{
		RedisAddr:           "redis:6379",
		RedisDB:             2,
		SweepWorkerPoolSize: 8,
	})

	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 18, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
}

func TestCloseWithoutInit(t *testing.T) {
	assert.NoError(t, Close(context.Background()))
}

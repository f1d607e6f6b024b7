package middleware

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeadManSwitch/pkg/response"
	"DeadManSwitch/pkg/token"
)

type fakeCounter struct {
	mu   sync.Mutex
	hits map[string]int64
	err  error
}

func (f *fakeCounter) Hit(_ context.Context, key string, _ time.Duration, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.hits == nil {
		f.hits = make(map[string]int64)
	}
	f.hits[key]++
	return f.hits[key], nil
}

func withUser(uid string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Set(IdentityKey, uid)
		c.Next(ctx)
	}
}

func ok(ctx context.Context, c *app.RequestContext) {
	c.String(http.StatusOK, "ok")
}

func newEngine() *route.Engine {
	return route.NewEngine(config.NewOptions(nil))
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	counter := &fakeCounter{}
	limiter := NewRateLimiter(RateLimitConfig{
		KeyPrefix:   "rate:test",
		Window:      time.Minute,
		MaxRequests: 2,
		ByUserID:    true,
	}, counter, nil)

	engine := newEngine()
	engine.POST("/check-in", withUser("42"), limiter.Handler(), ok)

	for i := 0; i < 2; i++ {
		w := ut.PerformRequest(engine, http.MethodPost, "/check-in", nil)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode())
	}

	w := ut.PerformRequest(engine, http.MethodPost, "/check-in", nil)
	resp := w.Result()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode())
	assert.Equal(t, "0", string(resp.Header.Peek("X-RateLimit-Remaining")))

	var body response.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)

	// 其他用户不受影响
	engine.POST("/other", withUser("43"), limiter.Handler(), ok)
	w = ut.PerformRequest(engine, http.MethodPost, "/other", nil)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode())
}

func TestRateLimiterAllowsWhenCounterFails(t *testing.T) {
	limiter := NewRateLimiter(CheckInRateLimitConfig, &fakeCounter{err: stderrors.New("redis down")}, nil)

	engine := newEngine()
	engine.POST("/check-in", withUser("42"), limiter.Handler(), ok)

	w := ut.PerformRequest(engine, http.MethodPost, "/check-in", nil)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode())
}

func TestRateLimiterSkipsUnidentifiedCaller(t *testing.T) {
	counter := &fakeCounter{}
	limiter := NewRateLimiter(SettingsRateLimitConfig, counter, nil)

	engine := newEngine()
	engine.PATCH("/switch", limiter.Handler(), ok)

	w := ut.PerformRequest(engine, http.MethodPatch, "/switch", nil)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode())
	assert.Empty(t, counter.hits)
}

func TestGetUserID(t *testing.T) {
	c := app.NewContext(0)
	_, found := GetUserID(context.Background(), c)
	assert.False(t, found)

	c.Set(IdentityKey, "1234567890")
	id, found := GetUserID(context.Background(), c)
	require.True(t, found)
	assert.Equal(t, int64(1234567890), id)

	c.Set(IdentityKey, "not-a-number")
	_, found = GetUserID(context.Background(), c)
	assert.False(t, found)
}

func TestRecoverMiddleware(t *testing.T) {
	engine := newEngine()
	engine.Use(RecoverMiddlewareWithConfig(RecoverConfig{ExposeDetails: false}))
	engine.GET("/panic", func(ctx context.Context, c *app.RequestContext) {
		panic("nil map")
	})

	w := ut.PerformRequest(engine, http.MethodGet, "/panic", nil)
	resp := w.Result()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())

	var body response.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Nil(t, body.Error.Details)
}

func TestCORSPreflight(t *testing.T) {
	engine := newEngine()
	engine.Use(CORSMiddleware())
	engine.GET("/v1/switch", ok)

	w := ut.PerformRequest(engine, http.MethodOptions, "/v1/switch", nil)
	resp := w.Result()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())
	assert.Equal(t, "*", string(resp.Header.Peek("Access-Control-Allow-Origin")))
}

func TestMetricsMiddlewarePassThroughWithoutMeter(t *testing.T) {
	engine := newEngine()
	engine.Use(MetricsMiddleware())
	engine.GET("/v1/switch", ok)

	w := ut.PerformRequest(engine, http.MethodGet, "/v1/switch", nil)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode())
}

func TestAuthMiddlewareAcceptsServiceTokens(t *testing.T) {
	generator, err := token.NewGenerator(token.Settings{Secret: "jwt-secret", Timeout: time.Hour, MaxRefresh: time.Hour})
	require.NoError(t, err)
	mw, err := newAuthMiddleware(generator)
	require.NoError(t, err)

	engine := newEngine()
	engine.GET("/me", mw.MiddlewareFunc(), func(ctx context.Context, c *app.RequestContext) {
		uid, ok := GetUserID(ctx, c)
		require.True(t, ok)
		c.JSON(http.StatusOK, map[string]int64{"uid": uid})
	})

	signed, err := token.SignAccessToken(generator, 77)
	require.NoError(t, err)

	w := ut.PerformRequest(engine, http.MethodGet, "/me", nil,
		ut.Header{Key: "Authorization", Value: "Bearer " + signed})
	assert.Equal(t, http.StatusOK, w.Result().StatusCode())
	assert.JSONEq(t, `{"uid":77}`, string(w.Result().Body()))

	w = ut.PerformRequest(engine, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode())

	var body response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Result().Body(), &body))
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
}

func TestNewAuthMiddlewareRequiresGenerator(t *testing.T) {
	_, err := newAuthMiddleware(nil)
	assert.Error(t, err)
}

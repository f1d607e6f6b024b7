package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"DeadManSwitch/config"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/response"
)

// RecoverConfig recover 中间件配置
type RecoverConfig struct {
	// 非生产环境在响应里带上 panic 内容
	ExposeDetails bool
	// 记录请求体，只在小于 1KB 且为 JSON 时生效
	LogRequestBody bool
	// 在当前 span 上记录异常
	RecordInSpan bool
}

func DefaultRecoverConfig() RecoverConfig {
	return RecoverConfig{
		ExposeDetails:  !config.Cfg.IsProduction(),
		LogRequestBody: !config.Cfg.IsProduction(),
		RecordInSpan:   true,
	}
}

func RecoverMiddleware() app.HandlerFunc {
	return RecoverMiddlewareWithConfig(DefaultRecoverConfig())
}

func RecoverMiddlewareWithConfig(cfg RecoverConfig) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if rec := recover(); rec != nil {
				handlePanic(ctx, c, rec, debug.Stack(), cfg)
			}
		}()

		c.Next(ctx)
	}
}

func handlePanic(ctx context.Context, c *app.RequestContext, rec interface{}, stack []byte, cfg RecoverConfig) {
	panicMsg := fmt.Sprintf("%v", rec)

	fields := []zap.Field{
		zap.String("panic", panicMsg),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
		zap.String("client_ip", c.ClientIP()),
		zap.String("request_id", string(c.GetHeader("X-Request-Id"))),
		zap.ByteString("stack", trimStack(stack)),
	}
	if userID, ok := GetUserID(ctx, c); ok {
		fields = append(fields, zap.Int64("user_id", userID))
	}
	if cfg.LogRequestBody {
		body := c.Request.Body()
		if len(body) > 0 && len(body) < 1024 && strings.Contains(string(c.ContentType()), "json") {
			fields = append(fields, zap.ByteString("body", body))
		}
	}
	logger.Logger.Error("[PANIC RECOVERED]", fields...)

	if cfg.RecordInSpan {
		span := trace.SpanFromContext(ctx)
		span.RecordError(fmt.Errorf("panic: %s", panicMsg), trace.WithStackTrace(false))
		span.SetStatus(codes.Error, "panic recovered")
	}

	if cfg.ExposeDetails {
		response.ErrorWithDetails(ctx, c, errors.Internal, map[string]interface{}{
			"panic": panicMsg,
		})
	} else {
		response.Error(ctx, c, errors.Internal)
	}
	c.Abort()
}

// trimStack 去掉 runtime 和 recover 自身的帧
func trimStack(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")
	filtered := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "runtime/debug.Stack") ||
			strings.HasPrefix(line, "runtime.") ||
			strings.HasPrefix(line, "panic(") {
			// 函数行后面紧跟文件行，一起跳过
			i++
			continue
		}
		filtered = append(filtered, line)
	}
	return []byte(strings.Join(filtered, "\n"))
}

package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// InitHTTPMetrics 之前为 nil，中间件只透传
	httpServerRequestTotal   metric.Int64Counter
	httpServerDuration       metric.Float64Histogram
	httpServerActiveRequests metric.Int64UpDownCounter
)

// toValidUTF8 用户可控字符串先清洗，非法 UTF-8 会让指标导出失败
func toValidUTF8(val string) string {
	return strings.ToValidUTF8(val, "")
}

func InitHTTPMetrics(meter metric.Meter) error {
	var err error

	httpServerRequestTotal, err = meter.Int64Counter(
		"http.server.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	httpServerDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	httpServerActiveRequests, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	return err
}

// MetricsMiddleware span 由 hertz tracing 中间件创建，这里补充用户信息并记录指标。
// 路由用 FullPath，避免签到链接里的 token 进入指标标签
func MetricsMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if httpServerRequestTotal == nil || httpServerDuration == nil || httpServerActiveRequests == nil {
			c.Next(ctx)
			return
		}

		start := time.Now()
		method := toValidUTF8(string(c.Method()))

		httpServerActiveRequests.Add(ctx, 1)
		defer httpServerActiveRequests.Add(ctx, -1)

		c.Next(ctx)

		if userID, ok := GetUserID(ctx, c); ok {
			trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("enduser.id", userID))
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			semconv.HTTPMethod(method),
			semconv.HTTPRoute(toValidUTF8(route)),
			semconv.HTTPStatusCode(c.Response.StatusCode()),
		)
		httpServerRequestTotal.Add(ctx, 1, attrs)
		httpServerDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

// NewServerTracerConfig 返回 hertz server 的追踪选项和对应的中间件
func NewServerTracerConfig(opts ...hertztracing.Option) (config.Option, app.HandlerFunc) {
	tracer, cfg := hertztracing.NewServerTracer(opts...)
	return tracer, hertztracing.ServerMiddleware(cfg)
}

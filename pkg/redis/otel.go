package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// InitRedisMetrics 之前为 nil，记录时跳过
	redisCommandsTotal   metric.Int64Counter
	redisCommandDuration metric.Float64Histogram
	redisCacheHits       metric.Int64Counter
	redisCacheMisses     metric.Int64Counter
)

// InitRedisMetrics 初始化 Redis 指标
func InitRedisMetrics(meter metric.Meter) error {
	var err error

	redisCommandsTotal, err = meter.Int64Counter(
		"redis.commands.total",
		metric.WithDescription("Total number of Redis commands"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return err
	}

	redisCommandDuration, err = meter.Float64Histogram(
		"redis.command.duration",
		metric.WithDescription("Redis command duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	if err != nil {
		return err
	}

	// GET 命中率，目前只有扫描游标在读
	redisCacheHits, err = meter.Int64Counter(
		"redis.cache.hits",
		metric.WithDescription("Number of GET hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	redisCacheMisses, err = meter.Int64Counter(
		"redis.cache.misses",
		metric.WithDescription("Number of GET misses"),
		metric.WithUnit("{miss}"),
	)
	return err
}

// TracingHook Redis 追踪 Hook
type TracingHook struct {
	tracer trace.Tracer
	attrs  []attribute.KeyValue
}

func NewTracingHook(serviceName string, db int) *TracingHook {
	return &TracingHook{
		tracer: otel.Tracer(serviceName + ".redis"),
		attrs: []attribute.KeyValue{
			semconv.DBSystemRedis,
			semconv.DBRedisDBIndex(db),
			attribute.String("service.name", serviceName),
		},
	}
}

func (th *TracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (th *TracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		name := strings.ToUpper(cmd.Name())

		ctx, span := th.tracer.Start(ctx, "redis."+strings.ToLower(name),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
		)
		defer span.End()

		// 只记录键，不记录值，锁的 owner 和去重标记都算敏感
		span.SetAttributes(semconv.DBOperation(name))
		if key := commandKey(cmd.Args()); key != "" {
			span.SetAttributes(attribute.String("redis.key", key))
		}

		start := time.Now()
		err := next(ctx, cmd)

		status := commandStatus(err)
		if status == "error" {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}

		recordCommand(ctx, name, status, time.Since(start).Seconds())
		return err
	}
}

func (th *TracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		ctx, span := th.tracer.Start(ctx, "redis.pipeline",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(th.attrs...),
		)
		defer span.End()

		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, strings.ToUpper(cmd.Name()))
		}
		span.SetAttributes(
			attribute.Int("redis.pipeline.count", len(cmds)),
			attribute.StringSlice("redis.pipeline.commands", names),
		)

		start := time.Now()
		err := next(ctx, cmds)

		failed := 0
		for _, cmd := range cmds {
			if commandStatus(cmd.Err()) == "error" {
				failed++
			}
		}
		span.SetAttributes(attribute.Int("redis.pipeline.error_count", failed))
		if err != nil && err != redis.Nil {
			span.SetStatus(codes.Error, err.Error())
		}

		recordCommand(ctx, "PIPELINE", commandStatus(err), time.Since(start).Seconds())
		return err
	}
}

func commandStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case err == redis.Nil:
		return "not_found"
	default:
		return "error"
	}
}

func recordCommand(ctx context.Context, name, status string, seconds float64) {
	if redisCommandsTotal == nil || redisCommandDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("redis.command", name),
		attribute.String("redis.status", status),
	)
	redisCommandsTotal.Add(ctx, 1, attrs)
	redisCommandDuration.Record(ctx, seconds, attrs)

	if name != "GET" || redisCacheHits == nil || redisCacheMisses == nil {
		return
	}
	switch status {
	case "success":
		redisCacheHits.Add(ctx, 1)
	case "not_found":
		redisCacheMisses.Add(ctx, 1)
	}
}

// commandKey 取命令的第一个键。EVAL/EVALSHA 的键在 numkeys 之后
func commandKey(args []interface{}) string {
	if len(args) < 2 {
		return ""
	}

	idx := 1
	if name, ok := args[0].(string); ok {
		switch strings.ToUpper(name) {
		case "EVAL", "EVALSHA":
			if len(args) < 4 {
				return ""
			}
			idx = 3
		}
	}

	key, ok := args[idx].(string)
	if !ok {
		return ""
	}
	if len(key) > 100 {
		return key[:100] + "..."
	}
	return key
}

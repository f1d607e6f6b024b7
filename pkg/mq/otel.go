package mq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// RabbitMQ 相关指标，InitMQMetrics 之前为 nil，记录时直接跳过
	mqMessagesTotal   metric.Int64Counter
	mqMessageDuration metric.Float64Histogram
	mqPublishErrors   metric.Int64Counter
	mqConsumeErrors   metric.Int64Counter
)

// InitMQMetrics 初始化 RabbitMQ 指标
func InitMQMetrics(meter metric.Meter) error {
	var err error

	mqMessagesTotal, err = meter.Int64Counter(
		"mq.messages.total",
		metric.WithDescription("Total number of RabbitMQ messages"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	mqMessageDuration, err = meter.Float64Histogram(
		"mq.message.duration",
		metric.WithDescription("RabbitMQ publish and handling duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	mqPublishErrors, err = meter.Int64Counter(
		"mq.publish.errors",
		metric.WithDescription("Number of RabbitMQ publish errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	mqConsumeErrors, err = meter.Int64Counter(
		"mq.consume.errors",
		metric.WithDescription("Number of messages whose handler failed"),
		metric.WithUnit("{error}"),
	)
	return err
}

// Tracer 为发布和消费加上 span，并通过消息头传播 trace 上下文
type Tracer struct {
	propagators propagation.TextMapPropagator
	tracer      trace.Tracer
	serviceName string
}

func NewTracer(serviceName string) *Tracer {
	return &Tracer{
		propagators: otel.GetTextMapPropagator(),
		tracer:      otel.Tracer(serviceName + ".rabbitmq"),
		serviceName: serviceName,
	}
}

// Publisher 抽出 amqp.Channel 的发布方法，便于替换
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publish 注入 trace 头后发布
func (t *Tracer) Publish(ctx context.Context, ch Publisher, exchange, routingKey string, msg amqp.Publishing) error {
	start := time.Now()

	ctx, span := t.tracer.Start(ctx, "rabbitmq.publish "+exchange,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystem("rabbitmq"),
			semconv.MessagingDestinationName(exchange),
			semconv.MessagingRabbitmqDestinationRoutingKey(routingKey),
			semconv.MessagingMessageID(msg.MessageId),
			attribute.String("service.name", t.serviceName),
		),
	)
	defer span.End()

	headers := make(amqp.Table, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	t.propagators.Inject(ctx, &MessageHeaderCarrier{Headers: headers})
	msg.Headers = headers

	err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)

	status := "success"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		if mqPublishErrors != nil {
			mqPublishErrors.Add(ctx, 1)
		}
	}
	record(ctx, "publish", exchange, routingKey, status, time.Since(start).Seconds())
	return err
}

// StartConsume 从消息头恢复上下文并开始处理 span，返回的 finish 在处理结束时调用
func (t *Tracer) StartConsume(ctx context.Context, queue string, d amqp.Delivery) (context.Context, func(status string, err error)) {
	start := time.Now()
	ctx = t.propagators.Extract(ctx, &MessageHeaderCarrier{Headers: d.Headers})

	ctx, span := t.tracer.Start(ctx, "rabbitmq.process "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystem("rabbitmq"),
			semconv.MessagingDestinationName(queue),
			semconv.MessagingRabbitmqDestinationRoutingKey(d.RoutingKey),
			semconv.MessagingMessageID(d.MessageId),
			attribute.String("messaging.rabbitmq.exchange", d.Exchange),
			attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
			attribute.String("service.name", t.serviceName),
		),
	)

	return ctx, func(status string, err error) {
		defer span.End()
		span.SetAttributes(attribute.String("messaging.status", status))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			if mqConsumeErrors != nil {
				mqConsumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
			}
		}
		record(ctx, "process", d.Exchange, d.RoutingKey, status, time.Since(start).Seconds())
	}
}

func record(ctx context.Context, operation, exchange, routingKey, status string, seconds float64) {
	if mqMessagesTotal == nil || mqMessageDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		semconv.MessagingSystem("rabbitmq"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.rabbitmq.exchange", exchange),
		attribute.String("messaging.rabbitmq.routing_key", routingKey),
		attribute.String("messaging.status", status),
	)
	mqMessagesTotal.Add(ctx, 1, attrs)
	mqMessageDuration.Record(ctx, seconds, attrs)
}

// MessageHeaderCarrier 实现 propagation.TextMapCarrier 接口
type MessageHeaderCarrier struct {
	Headers amqp.Table
}

func (m *MessageHeaderCarrier) Get(key string) string {
	if val, ok := m.Headers[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func (m *MessageHeaderCarrier) Set(key, value string) {
	if m.Headers == nil {
		m.Headers = make(amqp.Table)
	}
	m.Headers[key] = value
}

func (m *MessageHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	return keys
}

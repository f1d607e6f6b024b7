package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
)

type MessageHandler func(ctx context.Context, body []byte) error

type ConsumeOptions struct {
	Queue         string
	ConsumerTag   string
	PrefetchCount int
	Handler       MessageHandler
}

// Consume 阻塞直到 ctx 取消或 channel 关闭。
// 处理结果决定 ack 方式：成功和 SkipMessageError 确认，不可重试错误丢弃，其他错误重新入队。
func Consume(ctx context.Context, opts ConsumeOptions) error {
	if conn == nil {
		return fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if opts.PrefetchCount > 0 {
		if err := ch.Qos(opts.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	msgs, err := ch.Consume(
		opts.Queue,
		opts.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Logger.Info("Started consuming messages",
		zap.String("queue", opts.Queue),
		zap.String("consumer_tag", opts.ConsumerTag),
		zap.Int("prefetch_count", opts.PrefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info("Stopped consuming messages", zap.String("queue", opts.Queue))
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", opts.Queue)
			}
			handleDelivery(ctx, opts, msg)
		}
	}
}

// Ack 抽出 amqp.Delivery 的确认方法
type Ack interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Settle 按处理结果确认消息，返回记录用的状态
func Settle(ack Ack, err error) string {
	switch {
	case err == nil:
		_ = ack.Ack(false)
		return "success"
	case errors.IsSkipMessageError(err):
		_ = ack.Ack(false)
		return "skipped"
	case errors.IsNonRetryable(err):
		_ = ack.Nack(false, false)
		return "dropped"
	default:
		_ = ack.Nack(false, true)
		return "requeued"
	}
}

func handleDelivery(ctx context.Context, opts ConsumeOptions, msg amqp.Delivery) {
	msgCtx, finish := getTracer().StartConsume(ctx, opts.Queue, msg)

	err := opts.Handler(msgCtx, msg.Body)
	status := Settle(&msg, err)
	if status == "skipped" {
		logger.Logger.Info("Message skipped",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
			zap.String("reason", err.Error()),
		)
		err = nil
	}
	if err != nil {
		logger.Logger.Error("Failed to process message",
			zap.String("queue", opts.Queue),
			zap.String("consumer_tag", opts.ConsumerTag),
			zap.String("message_id", msg.MessageId),
			zap.String("status", status),
			zap.Error(err),
		)
	}
	finish(status, err)
}

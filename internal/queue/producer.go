package queue

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/storage/mq"
)

type publishFunc func(ctx context.Context, exchange, routingKey, messageID string, body interface{}) error

// Producer 实现 service.NotificationPublisher 和 service.EventPublisher
type Producer struct {
	publish publishFunc
}

func NewProducer() *Producer {
	return &Producer{publish: mq.PublishMessage}
}

// NotificationRoutingKey notification.<channel>，投递队列按 notification.* 绑定
func NotificationRoutingKey(channel string) string {
	return "notification." + strings.ToLower(channel)
}

// PublishNotification 发布通知投递任务
func (p *Producer) PublishNotification(ctx context.Context, msg model.NotificationMessage) error {
	routingKey := NotificationRoutingKey(msg.Channel)

	if err := p.publish(ctx, mq.NotificationExchange, routingKey, msg.MessageID, msg); err != nil {
		logger.Logger.Error("Failed to publish notification",
			zap.String("message_id", msg.MessageID),
			zap.Int64("notification_id", msg.NotificationID),
			zap.Int64("switch_id", msg.SwitchID),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Info("Published notification",
		zap.String("message_id", msg.MessageID),
		zap.Int64("notification_id", msg.NotificationID),
		zap.String("type", msg.NotificationType),
		zap.String("routing_key", routingKey),
	)
	return nil
}

// PublishEvent 发布领域事件
func (p *Producer) PublishEvent(ctx context.Context, routingKey string, msg model.EventMessage) error {
	if err := p.publish(ctx, mq.EventsExchange, routingKey, msg.MessageID, msg); err != nil {
		logger.Logger.Error("Failed to publish event",
			zap.String("message_id", msg.MessageID),
			zap.String("event_type", msg.EventType),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Info("Published event",
		zap.String("message_id", msg.MessageID),
		zap.String("event_type", msg.EventType),
		zap.String("event_key", msg.EventKey),
	)
	return nil
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/internal/service"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/storage/mq"
)

// Deliverer 由 service.DeliveryService 实现
type Deliverer interface {
	Deliver(ctx context.Context, msg model.NotificationMessage) error
}

// Marker 消息去重标记，由 cache.MessageMarker 实现
type Marker interface {
	MarkProcessing(ctx context.Context, messageID string) (bool, error)
	Unmark(ctx context.Context, messageID string) error
}

// Consumers worker 端的消息处理
type Consumers struct {
	delivery Deliverer
	marker   Marker
	store    repository.Store
	prefetch int
}

func NewConsumers(delivery Deliverer, marker Marker, store repository.Store, prefetch int) *Consumers {
	return &Consumers{delivery: delivery, marker: marker, store: store, prefetch: prefetch}
}

// StartNotificationConsumer 阻塞消费通知投递队列
func (c *Consumers) StartNotificationConsumer(ctx context.Context) error {
	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         mq.NotificationDeliverQueue,
		ConsumerTag:   "notification_delivery_consumer",
		PrefetchCount: c.prefetch,
		Handler:       c.HandleNotification,
	})
}

// StartSwitchTriggeredConsumer 阻塞消费开关触发事件
func (c *Consumers) StartSwitchTriggeredConsumer(ctx context.Context) error {
	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         mq.SwitchTriggeredQueue,
		ConsumerTag:   "switch_triggered_consumer",
		PrefetchCount: c.prefetch,
		Handler:       c.HandleSwitchTriggered,
	})
}

// HandleNotification 解析失败的消息无法重试，直接跳过
func (c *Consumers) HandleNotification(ctx context.Context, body []byte) error {
	var msg model.NotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return errors.NewSkipMessageError("malformed notification message: %v", err)
	}
	if msg.NotificationID == 0 {
		return errors.NewSkipMessageError("notification message without notification_id")
	}
	if msg.MessageID == "" {
		msg.MessageID = service.NotificationMessageID(msg.NotificationID)
	}

	if skip := c.markProcessing(ctx, msg.MessageID); skip != nil {
		return skip
	}

	logger.Logger.Info("Processing notification",
		zap.String("message_id", msg.MessageID),
		zap.Int64("notification_id", msg.NotificationID),
		zap.Int64("switch_id", msg.SwitchID),
		zap.String("channel", msg.Channel),
	)

	if err := c.delivery.Deliver(ctx, msg); err != nil {
		if !errors.IsSkipMessageError(err) {
			c.unmark(ctx, msg.MessageID)
		}
		return err
	}
	return nil
}

// HandleSwitchTriggered 核对触发事件对应的授权意图，供下游访问控制服务审计
func (c *Consumers) HandleSwitchTriggered(ctx context.Context, body []byte) error {
	var msg model.EventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return errors.NewSkipMessageError("malformed event message: %v", err)
	}
	if msg.EventType != model.EventTypeSwitchTriggered {
		return errors.NewSkipMessageError("unexpected event type %q", msg.EventType)
	}

	switchID, err := payloadID(msg.Payload, "switch_id")
	if err != nil {
		return errors.NewSkipMessageError("switch triggered event: %v", err)
	}

	if skip := c.markProcessing(ctx, msg.MessageID); skip != nil {
		return skip
	}

	grants, err := c.store.ListAccessGrants(ctx, switchID)
	if err != nil {
		c.unmark(ctx, msg.MessageID)
		return fmt.Errorf("list access grants: %w", err)
	}

	pending := 0
	for _, g := range grants {
		if g.Status == model.AccessGrantStatusPending {
			pending++
		}
	}

	logger.Logger.Info("Switch triggered, access grants awaiting vault release",
		zap.String("message_id", msg.MessageID),
		zap.Int64("switch_id", switchID),
		zap.String("occurred_at", msg.OccurredAt),
		zap.Int("grants", len(grants)),
		zap.Int("pending", pending),
		zap.Any("heirs_notified", msg.Payload["notified"]),
		zap.Any("heirs_failed", msg.Payload["failed"]),
	)
	return nil
}

// markProcessing Redis 不可用时继续处理，下游的状态检查保证幂等
func (c *Consumers) markProcessing(ctx context.Context, messageID string) error {
	if c.marker == nil || messageID == "" {
		return nil
	}
	first, err := c.marker.MarkProcessing(ctx, messageID)
	if err != nil {
		logger.Logger.Warn("Failed to check message processed status",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return nil
	}
	if !first {
		return errors.NewSkipMessageError("message %s already processed", messageID)
	}
	return nil
}

func (c *Consumers) unmark(ctx context.Context, messageID string) {
	if c.marker == nil || messageID == "" {
		return
	}
	if err := c.marker.Unmark(ctx, messageID); err != nil {
		logger.Logger.Warn("Failed to clear message processing mark",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

// payloadID 事件里的 id 以字符串传输，避免 JSON 数字精度丢失
func payloadID(payload map[string]interface{}, key string) (int64, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	switch v := raw.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("invalid %s type %T", key, raw)
	}
}

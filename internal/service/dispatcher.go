package service

import (
	"context"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/pkg/logger"
)

// NotificationPublisher 把待投递的通知写入 MQ
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, msg model.NotificationMessage) error
}

// EventPublisher 发布领域事件
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, msg model.EventMessage) error
}

const (
	DefaultRelayDelay = 2 * time.Minute
	DefaultRelayBatch = 200
)

// Dispatcher outbox 投递：台账记录随状态迁移一起提交，提交后再发布到 MQ。
// 发布失败的记录保持 pending，由 Relay 补发。
type Dispatcher struct {
	store         repository.Store
	notifications NotificationPublisher
	events        EventPublisher
	clock         clockwork.Clock
	relayDelay    time.Duration
	relayBatch    int
}

func NewDispatcher(store repository.Store, notifications NotificationPublisher, events EventPublisher, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		store:         store,
		notifications: notifications,
		events:        events,
		clock:         clock,
		relayDelay:    DefaultRelayDelay,
		relayBatch:    DefaultRelayBatch,
	}
}

// WithRelay 调整补发的等待时间和批量
func (d *Dispatcher) WithRelay(delay time.Duration, batch int) *Dispatcher {
	if delay > 0 {
		d.relayDelay = delay
	}
	if batch > 0 {
		d.relayBatch = batch
	}
	return d
}

// NotificationMessageID 同一条记录重复发布时消息 id 不变，消费端据此去重
func NotificationMessageID(notificationID int64) string {
	return "notification:" + strconv.FormatInt(notificationID, 10)
}

// Dispatch 只能在事务提交之后调用，返回成功入队的条数
func (d *Dispatcher) Dispatch(ctx context.Context, records []*model.NotificationRecord) int {
	queued := 0
	for _, rec := range records {
		if rec == nil || rec.Status != model.NotificationStatusPending {
			continue
		}

		msg := model.NotificationMessage{
			MessageID:        NotificationMessageID(rec.ID),
			NotificationType: string(rec.NotificationType),
			Channel:          string(rec.Channel),
			NotificationID:   rec.ID,
			SwitchID:         rec.SwitchID,
			UserID:           rec.UserID,
		}
		if err := d.notifications.PublishNotification(ctx, msg); err != nil {
			logger.Logger.Warn("Failed to publish notification, left for relay",
				zap.Int64("notification_id", rec.ID),
				zap.Int64("switch_id", rec.SwitchID),
				zap.Error(err),
			)
			continue
		}

		// worker 可能已经先一步把状态改成 delivered，条件更新避免回退
		if _, err := d.store.UpdateNotificationDelivery(ctx, rec.ID, model.NotificationDeliveryPatch{
			Status:     model.NotificationStatusQueued,
			FromStatus: model.NotificationStatusPending,
		}); err != nil {
			logger.Logger.Warn("Failed to mark notification queued",
				zap.Int64("notification_id", rec.ID),
				zap.Error(err),
			)
		}
		queued++
	}
	return queued
}

// Relay 补发创建超过 relayDelay 仍是 pending 的记录
func (d *Dispatcher) Relay(ctx context.Context) (int, error) {
	before := d.clock.Now().Add(-d.relayDelay)
	pending, err := d.store.ListPendingNotifications(ctx, before, d.relayBatch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	records := make([]*model.NotificationRecord, 0, len(pending))
	for i := range pending {
		records = append(records, &pending[i])
	}
	queued := d.Dispatch(ctx, records)

	logger.Logger.Info("Outbox relay finished",
		zap.Int("pending", len(pending)),
		zap.Int("queued", queued),
	)
	return queued, nil
}

// SwitchTriggeredRoutingKey 事件路由键
const SwitchTriggeredRoutingKey = "events." + model.EventTypeSwitchTriggered

// PublishSwitchTriggered 通知下游访问控制服务处理授权记录
func (d *Dispatcher) PublishSwitchTriggered(ctx context.Context, sw *model.Switch, result ReleaseResult) error {
	if d.events == nil || sw.TriggeredAt == nil {
		return nil
	}

	triggeredAt := sw.TriggeredAt.UTC()
	msg := model.EventMessage{
		MessageID:  model.EventTypeSwitchTriggered + ":" + strconv.FormatInt(sw.ID, 10),
		EventKey:   "switch:" + strconv.FormatInt(sw.ID, 10),
		EventType:  model.EventTypeSwitchTriggered,
		OccurredAt: triggeredAt.Format(time.RFC3339),
		Payload: map[string]interface{}{
			"switch_id":    strconv.FormatInt(sw.ID, 10),
			"user_id":      strconv.FormatInt(sw.UserID, 10),
			"triggered_at": triggeredAt.Format(time.RFC3339),
			"heirs":        result.Heirs,
			"notified":     result.Notified,
			"failed":       result.Failed,
		},
	}
	if err := d.events.PublishEvent(ctx, SwitchTriggeredRoutingKey, msg); err != nil {
		logger.Logger.Error("Failed to publish switch triggered event",
			zap.Int64("switch_id", sw.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

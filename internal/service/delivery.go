package service

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/metrics"
	"DeadManSwitch/pkg/notify"
)

const DefaultDeliveryMaxAttempts = 5

// DeliveryService worker 端：读取台账记录，交给渠道发送，回写投递状态
type DeliveryService struct {
	store       repository.Store
	sender      notify.Sender
	clock       clockwork.Clock
	maxAttempts int
}

func NewDeliveryService(store repository.Store, sender notify.Sender, clock clockwork.Clock, maxAttempts int) *DeliveryService {
	if maxAttempts <= 0 {
		maxAttempts = DefaultDeliveryMaxAttempts
	}
	return &DeliveryService{store: store, sender: sender, clock: clock, maxAttempts: maxAttempts}
}

// Deliver 返回 nil 表示消息可以 ack；返回普通错误时消费端重新入队
func (s *DeliveryService) Deliver(ctx context.Context, msg model.NotificationMessage) error {
	rec, err := s.store.GetNotification(ctx, msg.NotificationID)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return errors.NewSkipMessageError("notification %d not found", msg.NotificationID)
		}
		return fmt.Errorf("load notification: %w", err)
	}

	switch rec.Status {
	case model.NotificationStatusDelivered, model.NotificationStatusFailed:
		logger.Logger.Debug("Notification already settled, skipping",
			zap.Int64("notification_id", rec.ID),
			zap.String("status", string(rec.Status)),
		)
		return nil
	}

	started := s.clock.Now()
	deliveryID, sendErr := s.sender.Send(ctx, notify.Message{
		Channel:   string(rec.Channel),
		Recipient: rec.Recipient,
		Subject:   rec.Subject,
		Body:      rec.Body,
		Reference: NotificationMessageID(rec.ID),
	})
	elapsed := s.clock.Since(started).Seconds()

	if sendErr == nil {
		deliveredAt := s.clock.Now()
		if _, err := s.store.UpdateNotificationDelivery(ctx, rec.ID, model.NotificationDeliveryPatch{
			Status:        model.NotificationStatusDelivered,
			DeliveryID:    deliveryID,
			DeliveredAt:   &deliveredAt,
			AttemptsDelta: 1,
		}); err != nil {
			// 已经发出去了，重新入队会重复发送，只记录日志
			logger.Logger.Error("Failed to mark notification delivered",
				zap.Int64("notification_id", rec.ID),
				zap.Error(err),
			)
		}
		metrics.RecordDelivery(ctx, string(rec.Channel), string(model.NotificationStatusDelivered), elapsed)
		logger.Logger.Info("Notification delivered",
			zap.Int64("notification_id", rec.ID),
			zap.Int64("switch_id", rec.SwitchID),
			zap.String("type", string(rec.NotificationType)),
			zap.String("channel", string(rec.Channel)),
			zap.String("delivery_id", deliveryID),
		)
		return nil
	}

	attempts := rec.Attempts + 1
	final := errors.IsNonRetryable(sendErr) || attempts >= s.maxAttempts

	patch := model.NotificationDeliveryPatch{
		FailureReason: sendErr.Error(),
		AttemptsDelta: 1,
	}
	if final {
		patch.Status = model.NotificationStatusFailed
	}
	if _, err := s.store.UpdateNotificationDelivery(ctx, rec.ID, patch); err != nil {
		logger.Logger.Error("Failed to record delivery failure",
			zap.Int64("notification_id", rec.ID),
			zap.Error(err),
		)
	}

	logger.Logger.Warn("Notification delivery failed",
		zap.Int64("notification_id", rec.ID),
		zap.Int64("switch_id", rec.SwitchID),
		zap.String("channel", string(rec.Channel)),
		zap.Int("attempts", attempts),
		zap.Bool("final", final),
		zap.Error(sendErr),
	)

	if final {
		metrics.RecordDelivery(ctx, string(rec.Channel), string(model.NotificationStatusFailed), elapsed)
		return nil
	}
	return fmt.Errorf("%w: %w", errors.DeliveryFailed, sendErr)
}

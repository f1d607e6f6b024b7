package service

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/metrics"
)

// Entry 一条待写入台账的通知
type Entry struct {
	LinkExpiresAt *time.Time
	Switch        *model.Switch
	Type          model.NotificationType
	WindowKey     string
	Channel       model.NotificationChannel
	RecipientKind model.RecipientKind
	Recipient     string
	Subject       string
	Body          string
	LinkTokenID   string
	HeirID        int64
}

// Ledger 通知幂等台账。查询和写入都在调用方的事务里执行，
// 唯一索引保证并发写入时同一窗口只有一条记录。
type Ledger struct {
	clock clockwork.Clock
}

func NewLedger(clock clockwork.Clock) *Ledger {
	return &Ledger{clock: clock}
}

// HasSent sentAt 严格晚于 since 的同类型记录是否存在
func (l *Ledger) HasSent(ctx context.Context, store repository.Store, switchID int64, t model.NotificationType, since time.Time) (bool, error) {
	return store.HasNotification(ctx, model.NotificationQuery{
		SwitchID: switchID,
		Type:     t,
		Since:    since,
	})
}

// HasSentToHeir 同一触发事件下某个继承人是否已通知
func (l *Ledger) HasSentToHeir(ctx context.Context, store repository.Store, switchID, heirID int64, since time.Time) (bool, error) {
	return store.HasNotification(ctx, model.NotificationQuery{
		SwitchID:      switchID,
		Type:          model.NotificationTypeSwitchTriggered,
		RecipientKind: model.RecipientKindHeir,
		HeirID:        heirID,
		Since:         since,
	})
}

// Record 写入记录。唯一索引冲突返回 inserted=false，不是错误。
// 没有收件地址的记录直接标记为 failed，仍然占住窗口避免每次扫描重复尝试。
func (l *Ledger) Record(ctx context.Context, store repository.Store, e Entry) (*model.NotificationRecord, bool, error) {
	if e.Switch == nil || e.Type == "" || e.WindowKey == "" {
		return nil, false, errors.InvalidRequest.WithMessage("ledger entry requires switch, type and window")
	}

	now := l.clock.Now()
	rec := &model.NotificationRecord{
		BaseModel:            model.BaseModel{CreatedAt: now, UpdatedAt: now},
		SwitchID:             e.Switch.ID,
		UserID:               e.Switch.UserID,
		NotificationType:     e.Type,
		WindowKey:            e.WindowKey,
		Channel:              e.Channel,
		RecipientKind:        e.RecipientKind,
		HeirID:               e.HeirID,
		Recipient:            e.Recipient,
		SentAt:               now,
		Status:               model.NotificationStatusPending,
		Subject:              e.Subject,
		Body:                 e.Body,
		CheckInLinkToken:     e.LinkTokenID,
		CheckInLinkExpiresAt: e.LinkExpiresAt,
	}
	if rec.Recipient == "" {
		rec.Status = model.NotificationStatusFailed
		rec.FailureReason = errors.RecipientMissing.Message
	}

	inserted, err := store.InsertNotification(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		logger.Logger.Debug("Notification already recorded in window",
			zap.Int64("switch_id", e.Switch.ID),
			zap.String("type", string(e.Type)),
			zap.String("window", e.WindowKey),
			zap.String("channel", string(e.Channel)),
		)
		return nil, false, nil
	}

	metrics.RecordNotification(ctx, string(e.Type), string(e.Channel))
	return rec, true, nil
}

package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"DeadManSwitch/internal/directory"
	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/model/dto"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/pkg/errors"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/metrics"
	"DeadManSwitch/pkg/snowflake"
	"DeadManSwitch/pkg/token"
	"DeadManSwitch/utils"
)

const (
	MaxCheckInIntervalDays = 3650
	MaxGracePeriodDays     = 365

	// 版本冲突时的最大写入次数
	maxWriteAttempts = 3
)

// CheckInMeta 签到来源信息
type CheckInMeta struct {
	Method    model.CheckInMethod
	IPAddress string
	UserAgent string
	Location  string
}

// CheckInResult 签到结果
type CheckInResult struct {
	CheckInAt          time.Time
	NextCheckInDueDate time.Time
	DaysUntilNext      int
}

// SwitchHistory 最近的签到和通知
type SwitchHistory struct {
	CheckIns      []model.CheckInEvent
	Notifications []model.NotificationRecord
}

// SwitchService 开关的用户侧命令：创建、修改、签到、取消
type SwitchService struct {
	store repository.Store
	users directory.UserDirectory
	links *token.LinkSigner
	clock clockwork.Clock
}

func NewSwitchService(store repository.Store, users directory.UserDirectory, links *token.LinkSigner, clock clockwork.Clock) *SwitchService {
	return &SwitchService{store: store, users: users, links: links, clock: clock}
}

// Setup 每个用户只能创建一次
func (s *SwitchService) Setup(ctx context.Context, userID int64, req dto.SetupSwitchRequest) (*model.Switch, error) {
	interval := model.DefaultCheckInIntervalDays
	if req.CheckInIntervalDays != nil {
		interval = *req.CheckInIntervalDays
	}
	grace := model.DefaultGracePeriodDays
	if req.GracePeriodDays != nil {
		grace = *req.GracePeriodDays
	}
	reminders := model.DefaultReminderDays
	if req.ReminderDays != nil {
		reminders = req.ReminderDays
	}

	if err := validateDurations(interval, grace); err != nil {
		return nil, err
	}
	normalizedReminders, err := validateReminders(reminders)
	if err != nil {
		return nil, err
	}
	channels := append([]model.NotificationChannel(nil), model.DefaultNotificationChannels...)
	if req.NotificationChannels != nil {
		if channels, err = parseChannels(req.NotificationChannels); err != nil {
			return nil, err
		}
	}
	if err := validateEmergency(req.EmergencyEmail, req.EmergencyPhone); err != nil {
		return nil, err
	}

	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil, errors.ErrUserNotFound
	}

	id, err := snowflake.NextID()
	if err != nil {
		return nil, fmt.Errorf("generate switch id: %w", err)
	}

	now := s.clock.Now()
	sw := &model.Switch{
		ID:                   id,
		UserID:               userID,
		CheckInIntervalDays:  interval,
		GracePeriodDays:      grace,
		IsActive:             true,
		Status:               model.SwitchStatusActive,
		LastCheckInAt:        now,
		ReminderDays:         normalizedReminders,
		NotificationChannels: channels,
		EmergencyEmail:       strings.TrimSpace(req.EmergencyEmail),
		EmergencyPhone:       strings.TrimSpace(req.EmergencyPhone),
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	sw.NextCheckInDueDate = now.Add(sw.Interval())

	if err := s.store.CreateSwitch(ctx, sw); err != nil {
		return nil, err
	}

	logger.Logger.Info("Switch created",
		zap.Int64("switch_id", sw.ID),
		zap.Int64("user_id", userID),
		zap.Int("interval_days", interval),
		zap.Int("grace_days", grace),
	)
	return sw, nil
}

func (s *SwitchService) Get(ctx context.Context, userID int64) (*model.Switch, error) {
	return s.store.GetSwitchByUser(ctx, userID)
}

// Update 只修改请求里给出的字段。修改周期时按上次签到时间重算截止时间（仅 active）。
func (s *SwitchService) Update(ctx context.Context, userID int64, req dto.UpdateSwitchRequest) (*model.Switch, error) {
	var updated *model.Switch
	err := s.withRetry(ctx, "update", userID, func() error {
		return s.store.InTx(ctx, func(tx repository.Store) error {
			sw, err := tx.GetSwitchByUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if sw.Status.IsTerminal() {
				return errors.SwitchTriggered
			}
			if err := applyUpdate(sw, req); err != nil {
				return err
			}
			sw.UpdatedAt = s.clock.Now()
			if err := tx.UpdateSwitch(ctx, sw); err != nil {
				return err
			}
			updated = sw
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Logger.Info("Switch updated",
		zap.Int64("switch_id", updated.ID),
		zap.Int64("user_id", userID),
	)
	return updated, nil
}

func applyUpdate(sw *model.Switch, req dto.UpdateSwitchRequest) error {
	interval := sw.CheckInIntervalDays
	if req.CheckInIntervalDays != nil {
		interval = *req.CheckInIntervalDays
	}
	grace := sw.GracePeriodDays
	if req.GracePeriodDays != nil {
		grace = *req.GracePeriodDays
	}
	if err := validateDurations(interval, grace); err != nil {
		return err
	}

	email, phone := sw.EmergencyEmail, sw.EmergencyPhone
	if req.EmergencyEmail != nil {
		email = strings.TrimSpace(*req.EmergencyEmail)
	}
	if req.EmergencyPhone != nil {
		phone = strings.TrimSpace(*req.EmergencyPhone)
	}
	if err := validateEmergency(email, phone); err != nil {
		return err
	}

	if req.ReminderDays != nil {
		reminders, err := validateReminders(*req.ReminderDays)
		if err != nil {
			return err
		}
		sw.ReminderDays = reminders
	}
	if req.NotificationChannels != nil {
		channels, err := parseChannels(*req.NotificationChannels)
		if err != nil {
			return err
		}
		sw.NotificationChannels = channels
	}

	intervalChanged := interval != sw.CheckInIntervalDays
	sw.CheckInIntervalDays = interval
	sw.GracePeriodDays = grace
	sw.EmergencyEmail = email
	sw.EmergencyPhone = phone
	if intervalChanged && sw.Status == model.SwitchStatusActive {
		sw.NextCheckInDueDate = sw.LastCheckInAt.Add(sw.Interval())
	}
	return nil
}

// CheckIn 记录一次签到并重置周期，宽限期中的开关回到 active
func (s *SwitchService) CheckIn(ctx context.Context, userID int64, meta CheckInMeta) (*CheckInResult, error) {
	if meta.Method == "" {
		meta.Method = model.CheckInMethodManual
	}
	return s.checkIn(ctx, userID, meta, func(tx repository.Store) (*model.Switch, error) {
		return tx.GetSwitchByUserForUpdate(ctx, userID)
	}, nil)
}

// CheckInByLink 邮件里的一键签到链接
func (s *SwitchService) CheckInByLink(ctx context.Context, linkToken string, meta CheckInMeta) (*CheckInResult, error) {
	if s.links == nil {
		return nil, errors.LinkTokenInvalid
	}
	switchID, tokenID, err := s.links.Verify(linkToken)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.FindNotificationByLinkToken(ctx, tokenID)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return nil, errors.LinkTokenInvalid
		}
		return nil, err
	}
	if rec.SwitchID != switchID {
		return nil, errors.LinkTokenInvalid
	}

	meta.Method = model.CheckInMethodEmailLink
	return s.checkIn(ctx, rec.UserID, meta, func(tx repository.Store) (*model.Switch, error) {
		return tx.GetSwitchForUpdate(ctx, switchID)
	}, func(tx repository.Store, now time.Time) error {
		if rec.ClickedAt != nil {
			return nil
		}
		_, err := tx.UpdateNotificationDelivery(ctx, rec.ID, model.NotificationDeliveryPatch{ClickedAt: &now})
		return err
	})
}

func (s *SwitchService) checkIn(
	ctx context.Context,
	userID int64,
	meta CheckInMeta,
	load func(tx repository.Store) (*model.Switch, error),
	after func(tx repository.Store, now time.Time) error,
) (*CheckInResult, error) {
	var (
		result   *CheckInResult
		switchID int64
		previous model.SwitchStatus
	)

	err := s.withRetry(ctx, "check-in", userID, func() error {
		return s.store.InTx(ctx, func(tx repository.Store) error {
			sw, err := load(tx)
			if err != nil {
				return err
			}
			if !sw.IsActive {
				return errors.SwitchInactive
			}
			if sw.Status.IsTerminal() {
				return errors.SwitchTriggered
			}

			now := s.clock.Now()
			if err := tx.AppendCheckIn(ctx, &model.CheckInEvent{
				BaseModel:  model.BaseModel{CreatedAt: now, UpdatedAt: now},
				SwitchID:   sw.ID,
				UserID:     sw.UserID,
				OccurredAt: now,
				Method:     meta.Method,
				IPAddress:  meta.IPAddress,
				UserAgent:  meta.UserAgent,
				Location:   meta.Location,
			}); err != nil {
				return err
			}

			previous = sw.Status
			sw.ResetCycle(now)
			sw.UpdatedAt = now
			if err := tx.UpdateSwitch(ctx, sw); err != nil {
				return err
			}
			if after != nil {
				if err := after(tx, now); err != nil {
					return err
				}
			}

			switchID = sw.ID
			result = &CheckInResult{
				CheckInAt:          now,
				NextCheckInDueDate: sw.NextCheckInDueDate,
				DaysUntilNext:      int(sw.NextCheckInDueDate.Sub(now) / model.Day),
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordCheckIn(ctx, string(meta.Method))
	if previous == model.SwitchStatusGracePeriod {
		metrics.RecordTransition(ctx, string(model.SwitchStatusGracePeriod), string(model.SwitchStatusActive))
		logger.Logger.Info("Switch returned to active from grace period",
			zap.Int64("switch_id", switchID),
			zap.Int64("user_id", userID),
		)
	}
	logger.Logger.Info("Check-in recorded",
		zap.Int64("switch_id", switchID),
		zap.Int64("user_id", userID),
		zap.String("method", string(meta.Method)),
		zap.Time("next_due", result.NextCheckInDueDate),
	)
	return result, nil
}

// Cancel 停用开关。没有开关或已停用返回 false，已触发的开关不能取消。
func (s *SwitchService) Cancel(ctx context.Context, userID int64) (bool, error) {
	var cancelled bool
	err := s.withRetry(ctx, "cancel", userID, func() error {
		cancelled = false
		return s.store.InTx(ctx, func(tx repository.Store) error {
			sw, err := tx.GetSwitchByUserForUpdate(ctx, userID)
			if err != nil {
				if errors.IsKind(err, errors.KindNotFound) {
					return nil
				}
				return err
			}
			if sw.Status.IsTerminal() {
				return errors.SwitchTriggered
			}
			if !sw.IsActive {
				return nil
			}

			sw.IsActive = false
			sw.UpdatedAt = s.clock.Now()
			if err := tx.UpdateSwitch(ctx, sw); err != nil {
				return err
			}
			cancelled = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}

	if cancelled {
		logger.Logger.Info("Switch cancelled", zap.Int64("user_id", userID))
	}
	return cancelled, nil
}

// History 最近的签到和通知记录
func (s *SwitchService) History(ctx context.Context, userID int64, limit int) (*SwitchHistory, error) {
	sw, err := s.store.GetSwitchByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	checkIns, err := s.store.ListCheckIns(ctx, sw.ID, limit)
	if err != nil {
		return nil, err
	}
	notifications, err := s.store.ListNotifications(ctx, sw.ID, limit)
	if err != nil {
		return nil, err
	}
	return &SwitchHistory{CheckIns: checkIns, Notifications: notifications}, nil
}

// withRetry 只重试版本冲突
func (s *SwitchService) withRetry(ctx context.Context, op string, userID int64, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if err = fn(); err == nil || !stderrors.Is(err, errors.SwitchVersionConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Logger.Debug("Switch version conflict, retrying",
			zap.String("op", op),
			zap.Int64("user_id", userID),
			zap.Int("attempt", attempt),
		)
	}
	return err
}

func validateDurations(interval, grace int) error {
	if interval <= 0 || interval > MaxCheckInIntervalDays {
		return errors.SwitchConfigInvalid.WithMessage("check_in_interval_days must be between 1 and %d", MaxCheckInIntervalDays)
	}
	if grace < 0 || grace > MaxGracePeriodDays {
		return errors.SwitchConfigInvalid.WithMessage("grace_period_days must be between 0 and %d", MaxGracePeriodDays)
	}
	return nil
}

func validateReminders(days []int) ([]int, error) {
	for _, d := range days {
		if d <= 0 || d > MaxCheckInIntervalDays {
			return nil, errors.SwitchConfigInvalid.WithMessage("reminder day %d out of range", d)
		}
	}
	return model.NormalizeReminderDays(days), nil
}

func parseChannels(raw []string) ([]model.NotificationChannel, error) {
	channels := make([]model.NotificationChannel, 0, len(raw))
	for _, r := range raw {
		ch := model.NotificationChannel(strings.ToLower(strings.TrimSpace(r)))
		if !ch.Valid() {
			return nil, errors.SwitchConfigInvalid.WithMessage("unknown notification channel %q", r)
		}
		channels = append(channels, ch)
	}
	channels = model.NormalizeChannels(channels)
	if len(channels) == 0 {
		return nil, errors.SwitchConfigInvalid.WithMessage("at least one notification channel is required")
	}
	return channels, nil
}

func validateEmergency(email, phone string) error {
	if email != "" && !utils.ValidateEmail(strings.TrimSpace(email)) {
		return errors.SwitchConfigInvalid.WithMessage("emergency_email is not a valid address")
	}
	if phone != "" && !utils.ValidatePhone(strings.TrimSpace(phone)) {
		return errors.SwitchConfigInvalid.WithMessage("emergency_phone is not a valid phone number")
	}
	return nil
}
